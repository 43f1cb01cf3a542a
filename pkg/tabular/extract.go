package tabular

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
)

// applyTableRegion clips rows by absolute row index and filters
// columns. Row indices in the region are absolute file positions, so
// they are rebased against the first data row.
func applyTableRegion(headers []string, dataRows [][]string, headerRow int, region *TableRegion) ([]string, [][]string) {
	if region == nil {
		return headers, dataRows
	}

	dataStart := headerRow + 1
	startOffset := 0
	if region.StartRow != nil {
		startOffset = *region.StartRow - dataStart
		if startOffset < 0 {
			startOffset = 0
		}
	}
	if region.EndRow != nil {
		endOffset := *region.EndRow - dataStart
		if endOffset < 0 {
			endOffset = 0
		}
		if endOffset+1 < len(dataRows) {
			dataRows = dataRows[:endOffset+1]
		}
	}
	if startOffset > len(dataRows) {
		startOffset = len(dataRows)
	}
	dataRows = dataRows[startOffset:]

	var keep []int
	switch {
	case len(region.IncludeColumns) > 0:
		include := make(map[string]bool, len(region.IncludeColumns))
		for _, name := range region.IncludeColumns {
			include[name] = true
		}
		for idx, name := range headers {
			if include[name] {
				keep = append(keep, idx)
			}
		}
	case len(region.ExcludeColumns) > 0:
		exclude := make(map[string]bool, len(region.ExcludeColumns))
		for _, name := range region.ExcludeColumns {
			exclude[name] = true
		}
		for idx, name := range headers {
			if !exclude[name] {
				keep = append(keep, idx)
			}
		}
	default:
		for idx := range headers {
			keep = append(keep, idx)
		}
	}

	outHeaders := make([]string, len(keep))
	for i, idx := range keep {
		outHeaders[i] = headers[idx]
	}
	outRows := make([][]string, len(dataRows))
	for r, row := range dataRows {
		out := make([]string, len(keep))
		for i, idx := range keep {
			if idx < len(row) {
				out[i] = row[idx]
			}
		}
		outRows[r] = out
	}
	return outHeaders, outRows
}

// writeSchemaAndOutput materializes the core or adapter extraction:
// schema_spec.json, output/clean.csv, and the terminal
// save_manifest.json, in that order so the manifest only ever points
// at readable outputs.
func (f *Flow) writeSchemaAndOutput(ctx context.Context, rs runStore, dataRows [][]string, headers []string, adapter *AdapterSchema) error {
	rows := dataRows
	var schemaFields []SchemaField
	schemaLayer := "core"
	evidenceKeys := []string{rs.artifactKey("header_spec.json")}

	if adapter != nil {
		outputHeaders := make([]string, 0, len(adapter.CanonicalFields))
		for _, field := range adapter.CanonicalFields {
			if _, ok := adapter.FieldMap[field]; ok {
				outputHeaders = append(outputHeaders, field)
			}
		}
		if len(outputHeaders) == 0 {
			for field := range adapter.FieldMap {
				outputHeaders = append(outputHeaders, field)
			}
		}

		headerIndex := make(map[string]int, len(headers))
		for idx, name := range headers {
			if _, ok := headerIndex[name]; !ok {
				headerIndex[name] = idx
			}
		}
		mapped := make([][]string, len(rows))
		for r, row := range rows {
			out := make([]string, len(outputHeaders))
			for i, canonical := range outputHeaders {
				source := adapter.FieldMap[canonical]
				if idx, ok := headerIndex[source]; ok && idx < len(row) {
					out[i] = row[idx]
				}
			}
			mapped[r] = out
		}

		types := make([]string, len(outputHeaders))
		for i, header := range outputHeaders {
			if t, ok := adapter.Types[header]; ok {
				types[i] = t
			} else {
				types[i] = "string"
			}
		}
		rows = applyAdapterTypes(mapped, types)
		headers = outputHeaders

		required := make(map[string]bool, len(adapter.RequiredFields))
		for _, name := range adapter.RequiredFields {
			required[name] = true
		}
		for i, canonical := range headers {
			schemaFields = append(schemaFields, SchemaField{
				Source:    adapter.FieldMap[canonical],
				Canonical: canonical,
				Dtype:     types[i],
				Required:  required[canonical],
			})
		}
		schemaLayer = "adapter"
		if len(adapter.EvidenceKeys) > 0 {
			evidenceKeys = adapter.EvidenceKeys
		}
	} else {
		for idx, header := range headers {
			values := columnValues(rows, idx)
			schemaFields = append(schemaFields, SchemaField{
				Source:    header,
				Canonical: header,
				Dtype:     inferDtype(values),
				Required:  allFilled(values),
			})
		}
	}

	schemaSpec := SchemaSpec{
		RunID:        rs.runID,
		ArtifactKey:  rs.artifactKey("schema_spec.json"),
		SchemaLayer:  schemaLayer,
		SchemaSpec:   SchemaBody{Fields: schemaFields, UnmappedColumns: []string{}},
		Confidence:   0.7,
		Alternatives: []string{},
		EvidenceKeys: evidenceKeys,
	}
	if err := rs.writeJSON(ctx, "schema_spec.json", schemaSpec); err != nil {
		return err
	}

	if err := writeCSV(ctx, rs, "output/clean.csv", headers, rows); err != nil {
		return err
	}

	manifest := SaveManifest{
		RunID:        rs.runID,
		ArtifactKey:  rs.artifactKey("save_manifest.json"),
		SavedFiles:   []string{rs.artifactKey("output/clean.csv")},
		SavedURIs:    []string{rs.uriFor("output/clean.csv")},
		ReportPaths:  []string{},
		Confidence:   0.7,
		Alternatives: []string{},
		EvidenceKeys: []string{schemaSpec.ArtifactKey},
	}
	return rs.writeJSON(ctx, "save_manifest.json", manifest)
}

func columnValues(rows [][]string, idx int) []string {
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		if idx < len(row) {
			values = append(values, row[idx])
		} else {
			values = append(values, "")
		}
	}
	return values
}

func writeCSV(ctx context.Context, rs runStore, filename string, headers []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return rs.store.WriteBytes(ctx, rs.storeKey(filename), buf.Bytes())
}
