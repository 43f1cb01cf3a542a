package tabular

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// invalidRecipeError marks recipe problems the caller can fix and
// retry. ContinueRun surfaces these as a needs_human_confirmation
// response instead of failing the run.
type invalidRecipeError struct{ msg string }

func (e *invalidRecipeError) Error() string { return e.msg }

// ManualRecipe is the parsed form of manual_recipe.json. The document
// arrives from humans and dashboards, so parsing is forgiving: aliases
// are accepted and malformed fields downgrade to warnings.
type ManualRecipe struct {
	Fields              []RecipeField
	HeaderRowIndex      *int
	MergeMetadataFields []string
	MergeMetadata       bool
}

// RecipeField declares one extraction intent. SourcePointer stays raw
// until partitioning, because its shape decides what it means.
type RecipeField struct {
	Target        string
	SourceType    string
	SourcePointer json.RawMessage
	DataType      string
}

func (f *RecipeField) UnmarshalJSON(data []byte) error {
	var aux struct {
		Target        string          `json:"target"`
		TargetName    string          `json:"target_name"`
		SourceType    string          `json:"source_type"`
		SourcePointer json.RawMessage `json:"source_pointer"`
		DataType      string          `json:"data_type"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	f.Target = aux.Target
	if f.Target == "" {
		f.Target = aux.TargetName
	}
	f.SourceType = aux.SourceType
	f.SourcePointer = aux.SourcePointer
	f.DataType = aux.DataType
	return nil
}

func (r *ManualRecipe) UnmarshalJSON(data []byte) error {
	var aux struct {
		Fields              []RecipeField `json:"fields"`
		HeaderRowIndex      any           `json:"header_row_index"`
		HeaderRow           any           `json:"header_row"`
		HeaderRowIdx        any           `json:"header_row_idx"`
		MergeMetadataFields []string      `json:"merge_metadata_fields"`
		MergeMetadata       bool          `json:"merge_metadata"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Fields = aux.Fields
	r.MergeMetadataFields = aux.MergeMetadataFields
	r.MergeMetadata = aux.MergeMetadata
	for _, candidate := range []any{aux.HeaderRowIndex, aux.HeaderRow, aux.HeaderRowIdx} {
		if candidate == nil {
			continue
		}
		idx, ok := asInt(candidate)
		if !ok {
			idx = 0
		}
		r.HeaderRowIndex = &idx
		break
	}
	return nil
}

type metadataField struct {
	Target   string
	Row      int
	Col      int
	DataType string
}

type columnField struct {
	Target      string
	DataType    string
	ColumnName  string
	ColumnIndex *int
}

// asInt coerces the number shapes JSON can deliver.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case string:
		var parsed int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &parsed); err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func parseMetadataPointer(raw json.RawMessage) (row, col int, ok bool) {
	var pointer map[string]any
	if err := json.Unmarshal(raw, &pointer); err != nil {
		return 0, 0, false
	}
	rowVal, hasRow := pointer["row"]
	colVal, hasCol := pointer["col"]
	if !hasRow || !hasCol {
		return 0, 0, false
	}
	row, rowOK := asInt(rowVal)
	col, colOK := asInt(colVal)
	if !rowOK || !colOK {
		return 0, 0, false
	}
	return row, col, true
}

func parseColumnPointer(raw json.RawMessage) (name string, index *int, ok bool) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil, true
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		if idx, intOK := asInt(asNumber); intOK {
			return "", &idx, true
		}
		return "", nil, false
	}
	var pointer map[string]any
	if err := json.Unmarshal(raw, &pointer); err != nil {
		return "", nil, false
	}
	for _, key := range []string{"column", "header", "column_name"} {
		if v, present := pointer[key]; present {
			if s, isString := v.(string); isString {
				return s, nil, true
			}
			return "", nil, false
		}
	}
	if v, present := pointer["col"]; present {
		if _, alsoRow := pointer["row"]; !alsoRow {
			if idx, intOK := asInt(v); intOK {
				return "", &idx, true
			}
		}
	}
	return "", nil, false
}

// collectRecipeFields partitions recipe fields into metadata and
// column sets. Malformed entries become warnings, never failures;
// untyped fields try the metadata shape first, then the column shape.
func collectRecipeFields(fields []RecipeField) (metadata []metadataField, columns []columnField, warnings []string) {
	for _, field := range fields {
		if field.Target == "" {
			warnings = append(warnings, "missing_target")
			continue
		}
		if len(field.SourcePointer) == 0 || string(field.SourcePointer) == "null" {
			warnings = append(warnings, "missing_source_pointer:"+field.Target)
			continue
		}

		switch field.SourceType {
		case "metadata":
			row, col, ok := parseMetadataPointer(field.SourcePointer)
			if !ok {
				warnings = append(warnings, "invalid_metadata_pointer:"+field.Target)
				continue
			}
			metadata = append(metadata, metadataField{Target: field.Target, Row: row, Col: col, DataType: field.DataType})
		case "column":
			name, index, ok := parseColumnPointer(field.SourcePointer)
			if !ok {
				warnings = append(warnings, "invalid_column_pointer:"+field.Target)
				continue
			}
			columns = append(columns, columnField{Target: field.Target, DataType: field.DataType, ColumnName: name, ColumnIndex: index})
		default:
			if row, col, ok := parseMetadataPointer(field.SourcePointer); ok {
				metadata = append(metadata, metadataField{Target: field.Target, Row: row, Col: col, DataType: field.DataType})
				continue
			}
			if name, index, ok := parseColumnPointer(field.SourcePointer); ok {
				columns = append(columns, columnField{Target: field.Target, DataType: field.DataType, ColumnName: name, ColumnIndex: index})
				continue
			}
			warnings = append(warnings, "unsupported_source_pointer:"+field.Target)
		}
	}
	return metadata, columns, warnings
}

// resolveHeaderRow honors an explicit index, otherwise scans the first
// 50 rows for the one that best matches the recipe's column names.
func resolveHeaderRow(recipe *ManualRecipe, rows [][]string, columns []columnField) int {
	if recipe.HeaderRowIndex != nil {
		return *recipe.HeaderRowIndex
	}

	wanted := make(map[string]bool)
	for _, field := range columns {
		if strings.TrimSpace(field.ColumnName) != "" {
			wanted[normalizeLabel(field.ColumnName)] = true
		}
	}
	if len(wanted) == 0 {
		return 0
	}

	maxRows := len(rows)
	if maxRows > 50 {
		maxRows = 50
	}
	bestRow := 0
	bestMatch := -1
	for idx := 0; idx < maxRows; idx++ {
		seen := make(map[string]bool)
		for _, value := range rows[idx] {
			if strings.TrimSpace(value) != "" {
				seen[normalizeLabel(value)] = true
			}
		}
		match := 0
		for name := range wanted {
			if seen[name] {
				match++
			}
		}
		if match > bestMatch {
			bestMatch = match
			bestRow = idx
		}
	}
	return bestRow
}
