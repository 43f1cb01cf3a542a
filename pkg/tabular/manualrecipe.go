package tabular

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// resolvedColumn is a column field after header matching: ColumnIndex
// is nil when the named column does not exist, which yields empty
// cells rather than a failure.
type resolvedColumn struct {
	Target      string
	DataType    string
	ColumnName  string
	ColumnIndex *int
}

// applyManualRecipe extracts a table per the run's manual_recipe.json:
// resolve the header row, pull the declared columns and metadata
// cells, clean them by declared type, and write the recipe outputs.
// The confirmed recipe is then stored under the run's structural hash
// for recall.
func (f *Flow) applyManualRecipe(ctx context.Context, rs runStore, rawRecipe []byte, evidence *EvidencePacket, inputData []byte, inputName string, inputFound bool) error {
	if !inputFound {
		return &invalidRecipeError{msg: "Manual recipe requires a readable input file."}
	}

	var recipe ManualRecipe
	if err := json.Unmarshal(rawRecipe, &recipe); err != nil {
		return fmt.Errorf("failed to parse manual_recipe.json: %w", err)
	}

	metadataFields, columnFields, warnings := collectRecipeFields(recipe.Fields)
	if len(metadataFields) == 0 && len(columnFields) == 0 {
		return &invalidRecipeError{msg: "Manual recipe has no usable fields."}
	}
	if len(columnFields) == 0 {
		return &invalidRecipeError{msg: "Manual recipe must include at least one column field to build a table."}
	}

	rows, err := ReadAllRows(inputData, inputName, evidence.SheetName)
	if err != nil {
		return err
	}
	headerRow := resolveHeaderRow(&recipe, rows, columnFields)

	headerIndex := map[string]int{}
	if headerRow >= 0 && headerRow < len(rows) {
		for idx, value := range rows[headerRow] {
			key := normalizeLabel(value)
			if key != "" {
				if _, seen := headerIndex[key]; !seen {
					headerIndex[key] = idx
				}
			}
		}
	}

	resolved := make([]resolvedColumn, 0, len(columnFields))
	for _, field := range columnFields {
		index := field.ColumnIndex
		if index == nil {
			if idx, ok := headerIndex[normalizeLabel(field.ColumnName)]; ok {
				matched := idx
				index = &matched
			}
		}
		resolved = append(resolved, resolvedColumn{
			Target:      field.Target,
			DataType:    field.DataType,
			ColumnName:  field.ColumnName,
			ColumnIndex: index,
		})
	}

	var dataRows [][]string
	if headerRow+1 < len(rows) {
		dataRows = rows[headerRow+1:]
	}

	outputRows := make([][]string, len(dataRows))
	for r, row := range dataRows {
		out := make([]string, len(resolved))
		for i, field := range resolved {
			if field.ColumnIndex != nil && *field.ColumnIndex < len(row) {
				out[i] = row[*field.ColumnIndex]
			}
		}
		outputRows[r] = out
	}
	for _, row := range outputRows {
		for i, field := range resolved {
			dtype := field.DataType
			if dtype == "" {
				dtype = "string"
			}
			row[i] = cleanRecipeValue(row[i], dtype)
		}
	}

	// Metadata cells are captured raw; typing is applied only when a
	// value is merged into the table.
	metadata := map[string]string{}
	for _, field := range metadataFields {
		value := ""
		if field.Row >= 0 && field.Row < len(rows) && field.Col >= 0 && field.Col < len(rows[field.Row]) {
			value = rows[field.Row][field.Col]
		}
		metadata[field.Target] = value
	}

	mergeFields := recipe.MergeMetadataFields
	if recipe.MergeMetadata && len(mergeFields) == 0 {
		for _, field := range metadataFields {
			mergeFields = append(mergeFields, field.Target)
		}
	}
	outputRows, mergedColumns := mergeMetadataIntoRows(outputRows, resolved, metadata, mergeFields, metadataFields)

	if err := f.writeManualRecipeOutputs(ctx, rs, mergedColumns, outputRows, metadata); err != nil {
		return err
	}

	if warnings == nil {
		warnings = []string{}
	}
	if err := f.shadow(rs.runID).Event(ctx, "manual_recipe_applied", map[string]any{
		"header_row":      headerRow,
		"metadata_fields": len(metadataFields),
		"column_fields":   len(mergedColumns),
		"warnings":        warnings,
	}); err != nil {
		return err
	}

	if evidence.StructuralHash != "" {
		if err := StoreRecipe(ctx, f.store, evidence.StructuralHash, rawRecipe, rs.runID, f.now()); err != nil {
			return err
		}
	}
	return nil
}

// mergeMetadataIntoRows appends the requested metadata values as
// constant trailing columns, typed like their source fields.
func mergeMetadataIntoRows(rows [][]string, columns []resolvedColumn, metadata map[string]string, mergeFields []string, metadataFields []metadataField) ([][]string, []resolvedColumn) {
	if len(mergeFields) == 0 {
		return rows, columns
	}
	metadataTypes := map[string]string{}
	for _, field := range metadataFields {
		if field.Target == "" {
			continue
		}
		dtype := field.DataType
		if dtype == "" {
			dtype = "string"
		}
		metadataTypes[field.Target] = dtype
	}

	merged := make([][]string, len(rows))
	for r, row := range rows {
		out := make([]string, 0, len(row)+len(mergeFields))
		out = append(out, row...)
		for _, field := range mergeFields {
			dtype := metadataTypes[field]
			if dtype == "" {
				dtype = "string"
			}
			out = append(out, cleanRecipeValue(metadata[field], dtype))
		}
		merged[r] = out
	}

	mergedColumns := make([]resolvedColumn, 0, len(columns)+len(mergeFields))
	mergedColumns = append(mergedColumns, columns...)
	for _, field := range mergeFields {
		mergedColumns = append(mergedColumns, resolvedColumn{
			Target:     field,
			DataType:   metadataTypes[field],
			ColumnName: field,
		})
	}
	return merged, mergedColumns
}

// writeManualRecipeOutputs writes output/clean_data.csv, the extracted
// metadata, the manual_recipe schema layer, and the save manifest.
func (f *Flow) writeManualRecipeOutputs(ctx context.Context, rs runStore, columns []resolvedColumn, rows [][]string, metadata map[string]string) error {
	targets := make([]string, len(columns))
	for i, field := range columns {
		targets[i] = field.Target
	}
	if err := writeCSV(ctx, rs, "output/clean_data.csv", targets, rows); err != nil {
		return err
	}
	if err := rs.writeJSON(ctx, "output/extracted_metadata.json", metadata); err != nil {
		return err
	}

	schemaFields := []SchemaField{}
	for idx, field := range columns {
		values := columnValues(rows, idx)
		dtype := field.DataType
		if dtype == "" {
			dtype = inferDtype(values)
		}
		source := field.ColumnName
		if strings.TrimSpace(source) == "" {
			if field.ColumnIndex != nil {
				source = fmt.Sprintf("col_%d", *field.ColumnIndex)
			} else {
				source = fmt.Sprintf("col_%d", idx)
			}
		}
		schemaFields = append(schemaFields, SchemaField{
			Source:    source,
			Canonical: field.Target,
			Dtype:     dtype,
			Required:  allFilled(values),
		})
	}

	schemaSpec := SchemaSpec{
		RunID:        rs.runID,
		ArtifactKey:  rs.artifactKey("schema_spec.json"),
		SchemaLayer:  "manual_recipe",
		SchemaSpec:   SchemaBody{Fields: schemaFields, UnmappedColumns: []string{}},
		Confidence:   0.9,
		Alternatives: []string{},
		EvidenceKeys: []string{rs.artifactKey("manual_recipe.json")},
	}
	if err := rs.writeJSON(ctx, "schema_spec.json", schemaSpec); err != nil {
		return err
	}

	manifest := SaveManifest{
		RunID:       rs.runID,
		ArtifactKey: rs.artifactKey("save_manifest.json"),
		SavedFiles: []string{
			rs.artifactKey("output/clean_data.csv"),
			rs.artifactKey("output/extracted_metadata.json"),
		},
		SavedURIs: []string{
			rs.uriFor("output/clean_data.csv"),
			rs.uriFor("output/extracted_metadata.json"),
		},
		ReportPaths:  []string{},
		Confidence:   0.9,
		Alternatives: []string{},
		EvidenceKeys: []string{schemaSpec.ArtifactKey},
	}
	return rs.writeJSON(ctx, "save_manifest.json", manifest)
}
