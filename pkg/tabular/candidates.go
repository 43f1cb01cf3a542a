package tabular

import (
	"fmt"
	"math"
	"strings"
)

// BuildHeaderCandidates proposes one candidate per preview row.
// Confidence is the row's fill ratio, penalized by 0.2 when the
// normalized headers look like data, capped at 0.95.
func BuildHeaderCandidates(previewRows [][]string, evidenceKey string) []Candidate {
	if len(previewRows) == 0 {
		return nil
	}
	colCount := 0
	for _, row := range previewRows {
		if len(row) > colCount {
			colCount = len(row)
		}
	}

	candidates := make([]Candidate, 0, len(previewRows))
	for ridx, row := range previewRows {
		normalized := make([]string, len(row))
		nonEmpty := 0
		for idx, value := range row {
			normalized[idx] = normalizeHeader(value, idx)
			if strings.TrimSpace(value) != "" {
				nonEmpty++
			}
		}
		fillRatio := 0.0
		if colCount > 0 {
			fillRatio = float64(nonEmpty) / float64(colCount)
		}
		confidence := fillRatio
		if headerLooksLikeData(normalized) {
			confidence -= 0.2
		}
		if confidence < 0 {
			confidence = 0
		}
		if confidence > 0.95 {
			confidence = 0.95
		}
		candidates = append(candidates, Candidate{
			CandidateID:       fmt.Sprintf("row_%d", ridx),
			HeaderRows:        []int{ridx},
			MergeStrategy:     "single_row",
			NormalizedHeaders: normalized,
			Confidence:        math.Round(confidence*1000) / 1000,
			EvidenceKeys:      []string{evidenceKey},
		})
	}
	return candidates
}

// selectCandidate picks the highest-confidence candidate; ties go to
// the lowest row index.
func selectCandidate(candidates []Candidate) *Candidate {
	if len(candidates) == 0 {
		return nil
	}
	best := 0
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Confidence > candidates[best].Confidence {
			best = i
		}
	}
	return &candidates[best]
}
