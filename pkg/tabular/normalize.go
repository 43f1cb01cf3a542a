package tabular

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// normalizeHeader turns a raw cell into a snake_case column name. Empty
// cells get a positional placeholder so every column stays addressable.
func normalizeHeader(value string, idx int) string {
	text := strings.ToLower(strings.TrimSpace(value))
	if text == "" {
		return fmt.Sprintf("unnamed_%d", idx)
	}
	return strings.ReplaceAll(text, " ", "_")
}

// normalizeLabel collapses whitespace and lowercases, for fuzzy header
// matching and the structural hash.
func normalizeLabel(value string) string {
	return strings.ToLower(strings.Join(strings.Fields(value), " "))
}

// numericLike reports whether text reads as a bare number: digits with
// at most one decimal point, no sign, no grouping.
func numericLike(value string) bool {
	text := strings.TrimSpace(value)
	if text == "" {
		return false
	}
	text = strings.Replace(text, ".", "", 1)
	if text == "" {
		return false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// headerLooksLikeData is the ambiguity test: a header row where half or
// more of the cells are numeric is probably a data row.
func headerLooksLikeData(headers []string) bool {
	if len(headers) == 0 {
		return true
	}
	numeric := 0
	for _, h := range headers {
		if numericLike(h) {
			numeric++
		}
	}
	threshold := len(headers) / 2
	if threshold < 1 {
		threshold = 1
	}
	return numeric >= threshold
}

// HashBytes returns the SHA-256 hex digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// StructuralHash fingerprints a file by its first five preview rows,
// normalized cell by cell. The filename deliberately plays no part, so
// sibling exports of the same report share a fingerprint and can share
// a stored recipe.
func StructuralHash(previewRows [][]string) string {
	limit := previewRows
	if len(limit) > 5 {
		limit = limit[:5]
	}
	lines := make([]string, 0, len(limit))
	for _, row := range limit {
		cells := make([]string, len(row))
		for i, value := range row {
			cells[i] = normalizeLabel(value)
		}
		lines = append(lines, strings.Join(cells, "|"))
	}
	return HashBytes([]byte(strings.Join(lines, "\n")))
}
