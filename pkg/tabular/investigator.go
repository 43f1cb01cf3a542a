package tabular

import "strings"

// SuggestHeaderRow scans up to the first 100 rows for the first row
// where it and its successor are both more than half filled, relative
// to the widest sampled row. Returns 0 when no such pair exists.
func SuggestHeaderRow(rows [][]string) int {
	if len(rows) == 0 {
		return 0
	}
	sample := rows
	if len(sample) > 100 {
		sample = sample[:100]
	}

	colCount := 0
	for _, row := range sample {
		if len(row) > colCount {
			colCount = len(row)
		}
	}
	threshold := float64(colCount) * 0.5

	density := make([]int, len(sample))
	for i, row := range sample {
		for _, value := range row {
			if strings.TrimSpace(value) != "" {
				density[i]++
			}
		}
	}
	for i := 0; i < len(density)-1; i++ {
		if float64(density[i]) > threshold && float64(density[i+1]) > threshold {
			return i
		}
	}
	return 0
}

// ColumnEntry describes one column for a human picking recipe sources.
type ColumnEntry struct {
	Index        int    `json:"index"`
	OriginalName string `json:"original_name"`
	SampleValue  string `json:"sample_value"`
}

// ColumnInventory lists each column under headerRow with its first
// data value. Blank header cells render as "(Empty Header)".
func ColumnInventory(rows [][]string, headerRow int) []ColumnEntry {
	inventory := []ColumnEntry{}
	if headerRow < 0 || headerRow >= len(rows) {
		return inventory
	}
	headers := rows[headerRow]
	var firstData []string
	if headerRow+1 < len(rows) {
		firstData = rows[headerRow+1]
	}
	for idx, name := range headers {
		clean := strings.TrimSpace(name)
		if clean == "" {
			clean = "(Empty Header)"
		}
		sample := ""
		if idx < len(firstData) {
			sample = firstData[idx]
		}
		inventory = append(inventory, ColumnEntry{Index: idx, OriginalName: clean, SampleValue: sample})
	}
	return inventory
}
