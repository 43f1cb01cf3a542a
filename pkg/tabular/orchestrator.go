// Package tabular implements the Puhemies ingestion pipeline: preview
// a semi-structured spreadsheet or CSV, propose header rows, suspend
// for a human when the pick is ambiguous, and extract a clean table
// once a header, override, or manual recipe settles the question.
// Every intermediate lands in the artifact store, so the run resumes
// from persisted state alone.
package tabular

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/shadow"
)

// Flow drives Core A against one artifact store. Calls for the same
// run id must be serialized by the caller; state between calls lives
// entirely in the store.
type Flow struct {
	store artifacts.Store
	now   func() time.Time
}

// Option configures a Flow.
type Option func(*Flow)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Flow) { f.now = now }
}

// NewFlow returns a Flow over store.
func NewFlow(store artifacts.Store, opts ...Option) *Flow {
	f := &Flow{store: store, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flow) runStore(runID string) runStore {
	return runStore{store: f.store, runID: runID}
}

func (f *Flow) shadow(runID string) *shadow.Log {
	return shadow.New(f.store, runID, shadow.WithClock(f.now))
}

func (f *Flow) isoNow() string {
	return f.now().UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

// OrchestrateInput carries the optional provenance of the preview rows.
type OrchestrateInput struct {
	FilePath         string
	SheetName        string
	SourceURI        string
	InputArtifactKey string
	StructuralHash   string
	FileHash         string
}

// RunFromFile starts a run from a local path or a gs://-style URI: it
// previews the input, persists a copy plus the evidence packet, builds
// header candidates, and either completes the header selection or
// suspends for a human. A recipe stored for the same structural
// fingerprint short-circuits the human entirely.
func (f *Flow) RunFromFile(ctx context.Context, runID, inputPath string) (Response, error) {
	data, filename, sourceURI, err := fetchSource(ctx, inputPath)
	if err != nil {
		return Response{}, err
	}

	previewRows, sheetName, err := ReadPreview(data, filename)
	if err != nil {
		return Response{}, err
	}
	fileHash := HashBytes(data)
	structuralHash := StructuralHash(previewRows)

	rs := f.runStore(runID)
	inputKey := rs.storeKey("input/" + filename)
	if err := f.store.WriteBytes(ctx, inputKey, data); err != nil {
		return Response{}, err
	}

	resp, err := f.Orchestrate(ctx, runID, previewRows, OrchestrateInput{
		FilePath:         inputPath,
		SheetName:        sheetName,
		SourceURI:        sourceURI,
		InputArtifactKey: rs.artifactKey("input/" + filename),
		StructuralHash:   structuralHash,
		FileHash:         fileHash,
	})
	if err != nil {
		return Response{}, err
	}

	recipe, found, err := LookupRecipe(ctx, f.store, structuralHash)
	if err != nil {
		return Response{}, err
	}
	if found {
		if err := f.store.WriteBytes(ctx, rs.storeKey("manual_recipe.json"), recipe); err != nil {
			return Response{}, err
		}
		if err := f.shadow(runID).Event(ctx, "manual_recipe_recalled", map[string]any{"structural_hash": structuralHash}); err != nil {
			return Response{}, err
		}
		return f.ContinueRun(ctx, runID)
	}
	return resp, nil
}

// Orchestrate writes the evidence packet, proposes header candidates,
// and gates on ambiguity. Callers that already hold preview rows (the
// dashboards) enter here directly.
func (f *Flow) Orchestrate(ctx context.Context, runID string, previewRows [][]string, in OrchestrateInput) (Response, error) {
	rs := f.runStore(runID)

	evidence := EvidencePacket{
		RunID:            runID,
		ArtifactKey:      rs.artifactKey("evidence_packet.json"),
		PreviewRows:      previewRows,
		Notes:            "synthetic preview rows",
		InputArtifactKey: in.InputArtifactKey,
		FileHash:         in.FileHash,
		StructuralHash:   in.StructuralHash,
		SheetName:        in.SheetName,
	}
	if previewRows == nil {
		evidence.PreviewRows = [][]string{}
	}
	sourceLabel := in.FilePath
	if sourceLabel == "" {
		sourceLabel = in.SourceURI
	}
	if in.SourceURI != "" {
		evidence.SourceURI = in.SourceURI
	} else if in.FilePath != "" {
		if abs, err := filepath.Abs(in.FilePath); err == nil {
			evidence.SourceURI = "file://" + filepath.ToSlash(abs)
		}
	}
	if name := path.Base(strings.TrimRight(filepath.ToSlash(sourceLabel), "/")); name != "" && name != "." {
		evidence.InputFilename = name
	}
	if evidence.StructuralHash == "" {
		evidence.StructuralHash = StructuralHash(previewRows)
	}
	if err := rs.writeJSON(ctx, "evidence_packet.json", evidence); err != nil {
		return Response{}, err
	}

	candidates := BuildHeaderCandidates(previewRows, evidence.ArtifactKey)
	selected := selectCandidate(candidates)
	selectedID := ""
	if selected != nil {
		selectedID = selected.CandidateID
	}
	alternatives := []string{}
	for _, c := range candidates {
		if c.CandidateID != selectedID {
			alternatives = append(alternatives, c.CandidateID)
		}
	}
	headerSpec := HeaderSpec{
		RunID:               runID,
		ArtifactKey:         rs.artifactKey("header_spec.json"),
		SelectedCandidateID: selectedID,
		Candidates:          candidates,
		Alternatives:        alternatives,
	}
	if headerSpec.Candidates == nil {
		headerSpec.Candidates = []Candidate{}
	}

	// Ambiguity gate. No candidates at all (empty input) suspends too:
	// there is nothing defensible to select on the caller's behalf.
	if selected == nil || headerLooksLikeData(selected.NormalizedHeaders) {
		headerSpec.NeedsHumanConfirmation = true
		if err := rs.writeJSON(ctx, "header_spec.json", headerSpec); err != nil {
			return Response{}, err
		}
		if err := f.shadow(runID).Event(ctx, "stop_due_to_ambiguous_headers", map[string]any{"selected_candidate_id": selectedID}); err != nil {
			return Response{}, err
		}
		choices := make([]Choice, 0, len(candidates))
		for _, c := range candidates {
			choices = append(choices, Choice{ID: c.CandidateID, NormalizedHeaders: c.NormalizedHeaders, Confidence: c.Confidence})
		}
		return Response{
			RunID:    runID,
			Status:   StatusNeedsConfirmation,
			Message:  "Header selection is ambiguous and looks like data.",
			Question: "Which header candidate should be used?",
			Choices:  choices,
			NextStep: NextProvideCandidate,
		}, nil
	}

	if err := rs.writeJSON(ctx, "header_spec.json", headerSpec); err != nil {
		return Response{}, err
	}
	if err := f.shadow(runID).Event(ctx, "header_selection_ok", map[string]any{"selected_candidate_id": selectedID}); err != nil {
		return Response{}, err
	}
	return Response{
		RunID:    runID,
		Status:   StatusOK,
		Message:  "Header selection accepted.",
		NextStep: NextContinueToSchema,
	}, nil
}

// ContinueRun resumes a suspended run from persisted state. Input
// precedence: file-hash guard, then manual recipe, then header
// override, then human confirmation; with none of those the run stays
// suspended.
func (f *Flow) ContinueRun(ctx context.Context, runID string) (Response, error) {
	rs := f.runStore(runID)
	var evidence EvidencePacket
	if err := rs.readJSON(ctx, "evidence_packet.json", &evidence); err != nil {
		return Response{}, err
	}

	inputData, inputName, inputFound, err := f.materializeInput(ctx, rs, &evidence)
	if err != nil {
		return Response{}, err
	}
	if evidence.FileHash != "" {
		switch {
		case inputFound && HashBytes(inputData) != evidence.FileHash:
			current := HashBytes(inputData)
			if err := f.shadow(runID).Event(ctx, "resume_guard_file_changed", map[string]any{
				"expected_hash": evidence.FileHash,
				"current_hash":  current,
			}); err != nil {
				return Response{}, err
			}
			return Response{
				RunID:    runID,
				Status:   StatusNeedsConfirmation,
				Message:  "Input file has changed since the run started.",
				Question: "Please re-run with the updated file.",
				NextStep: NextRerunRequired,
			}, nil
		case !inputFound:
			if err := f.shadow(runID).Event(ctx, "resume_guard_source_missing", map[string]any{
				"expected_hash": evidence.FileHash,
				"source_uri":    evidence.SourceURI,
			}); err != nil {
				return Response{}, err
			}
		}
	}

	if ok, err := rs.exists(ctx, "manual_recipe.json"); err != nil {
		return Response{}, err
	} else if ok {
		raw, err := f.store.ReadBytes(ctx, rs.storeKey("manual_recipe.json"))
		if err != nil {
			return Response{}, err
		}
		if err := f.applyManualRecipe(ctx, rs, raw, &evidence, inputData, inputName, inputFound); err != nil {
			var recipeErr *invalidRecipeError
			if errors.As(err, &recipeErr) {
				return Response{
					RunID:    runID,
					Status:   StatusNeedsConfirmation,
					Message:  recipeErr.Error(),
					Question: "Please fix manual_recipe.json and retry.",
					NextStep: NextFixManualRecipe,
				}, nil
			}
			return Response{}, err
		}
		return Response{
			RunID:    runID,
			Status:   StatusOK,
			Message:  "Manual recipe applied and outputs saved.",
			NextStep: NextReviewArtifacts,
		}, nil
	}

	var headers []string
	var headerRow int
	if ok, err := rs.exists(ctx, "header_override.json"); err != nil {
		return Response{}, err
	} else if ok {
		var override HeaderOverride
		if err := rs.readJSON(ctx, "header_override.json", &override); err != nil {
			return Response{}, err
		}
		headers, headerRow, err = f.applyHeaderOverride(ctx, rs, &override, &evidence, inputData, inputName, inputFound)
		if err != nil {
			return Response{}, err
		}
	} else {
		if ok, err := rs.exists(ctx, "human_confirmation.json"); err != nil {
			return Response{}, err
		} else if !ok {
			return Response{
				RunID:    runID,
				Status:   StatusNeedsConfirmation,
				Message:  "Missing human confirmation.",
				Question: "Provide confirmed header candidate id.",
				NextStep: NextWriteConfirmation,
			}, nil
		}

		var headerSpec HeaderSpec
		if err := rs.readJSON(ctx, "header_spec.json", &headerSpec); err != nil {
			return Response{}, err
		}
		var confirmation HumanConfirmation
		if err := rs.readJSON(ctx, "human_confirmation.json", &confirmation); err != nil {
			return Response{}, err
		}

		var selected *Candidate
		for i := range headerSpec.Candidates {
			if headerSpec.Candidates[i].CandidateID == confirmation.ConfirmedHeaderCandidate {
				selected = &headerSpec.Candidates[i]
				break
			}
		}
		if selected == nil {
			return Response{
				RunID:    runID,
				Status:   StatusNeedsConfirmation,
				Message:  "Confirmed header candidate not found.",
				Question: "Provide a valid header candidate id.",
				NextStep: NextWriteConfirmation,
			}, nil
		}
		if err := f.shadow(runID).Event(ctx, "human_confirmation_received", map[string]any{
			"confirmed_header_candidate": confirmation.ConfirmedHeaderCandidate,
		}); err != nil {
			return Response{}, err
		}
		headers = selected.NormalizedHeaders
		if len(selected.HeaderRows) > 0 {
			headerRow = selected.HeaderRows[0]
		}
	}

	var dataRows [][]string
	if inputFound {
		allRows, err := ReadAllRows(inputData, inputName, evidence.SheetName)
		if err != nil {
			return Response{}, err
		}
		if headerRow+1 < len(allRows) {
			dataRows = allRows[headerRow+1:]
		}
	} else if headerRow+1 < len(evidence.PreviewRows) {
		dataRows = evidence.PreviewRows[headerRow+1:]
	}

	var adapter *AdapterSchema
	if ok, err := rs.exists(ctx, "adapter_schema_spec.json"); err != nil {
		return Response{}, err
	} else if ok {
		adapter = &AdapterSchema{}
		if err := rs.readJSON(ctx, "adapter_schema_spec.json", adapter); err != nil {
			return Response{}, err
		}
	}

	var region *TableRegion
	if ok, err := rs.exists(ctx, "table_region.json"); err != nil {
		return Response{}, err
	} else if ok {
		region = &TableRegion{}
		if err := rs.readJSON(ctx, "table_region.json", region); err != nil {
			return Response{}, err
		}
	}

	headers, dataRows = applyTableRegion(headers, dataRows, headerRow, region)
	if err := f.writeSchemaAndOutput(ctx, rs, dataRows, headers, adapter); err != nil {
		return Response{}, err
	}

	return Response{
		RunID:    runID,
		Status:   StatusOK,
		Message:  "Schema created and output saved.",
		NextStep: NextReviewArtifacts,
	}, nil
}

// WriteHumanConfirmation records the human's candidate choice for a
// suspended run.
func (f *Flow) WriteHumanConfirmation(ctx context.Context, runID, choiceID, confirmedBy string) error {
	rs := f.runStore(runID)
	return rs.writeJSON(ctx, "human_confirmation.json", HumanConfirmation{
		ConfirmedHeaderCandidate: choiceID,
		ConfirmedBy:              confirmedBy,
		Timestamp:                f.isoNow(),
	})
}

// HeaderCandidates returns the candidates recorded for a run, for CLI
// validation of a choice before it is written.
func (f *Flow) HeaderCandidates(ctx context.Context, runID string) ([]Candidate, error) {
	var headerSpec HeaderSpec
	if err := f.runStore(runID).readJSON(ctx, "header_spec.json", &headerSpec); err != nil {
		return nil, err
	}
	return headerSpec.Candidates, nil
}

// applyHeaderOverride derives final headers from the overridden row,
// applying any renames, and replaces the header spec with a synthetic
// "manual" candidate.
func (f *Flow) applyHeaderOverride(ctx context.Context, rs runStore, override *HeaderOverride, evidence *EvidencePacket, inputData []byte, inputName string, inputFound bool) ([]string, int, error) {
	sheetName := override.SheetName
	if sheetName == "" {
		sheetName = evidence.SheetName
	}
	headerRow := override.HeaderRowIndex

	var rawHeaders []string
	if inputFound {
		allRows, err := ReadAllRows(inputData, inputName, evidence.SheetName)
		if err != nil {
			return nil, 0, err
		}
		if headerRow >= 0 && headerRow < len(allRows) {
			rawHeaders = allRows[headerRow]
		}
	} else if headerRow >= 0 && headerRow < len(evidence.PreviewRows) {
		rawHeaders = evidence.PreviewRows[headerRow]
	}

	finalHeaders := make([]string, len(rawHeaders))
	for idx, value := range rawHeaders {
		name := normalizeHeader(value, idx)
		if edited, ok := override.EditedHeaders[name]; ok {
			name = edited
		}
		finalHeaders[idx] = name
	}

	headerRows := override.HeaderRows
	if len(headerRows) == 0 {
		headerRows = []int{headerRow}
	}
	mergeStrategy := override.MergeStrategy
	if mergeStrategy == "" {
		mergeStrategy = "single"
	}
	headerSpec := HeaderSpec{
		RunID:               rs.runID,
		ArtifactKey:         rs.artifactKey("header_spec.json"),
		SelectedCandidateID: "manual",
		Candidates: []Candidate{{
			CandidateID:       "manual",
			HeaderRows:        headerRows,
			MergeStrategy:     mergeStrategy,
			NormalizedHeaders: finalHeaders,
			Confidence:        0.9,
			EvidenceKeys:      []string{evidence.ArtifactKey},
		}},
		Alternatives: []string{},
	}
	if err := rs.writeJSON(ctx, "header_spec.json", headerSpec); err != nil {
		return nil, 0, err
	}
	if err := f.shadow(rs.runID).Event(ctx, "header_override_applied", map[string]any{
		"header_row_index": headerRow,
		"sheet_name":       sheetName,
	}); err != nil {
		return nil, 0, err
	}
	return finalHeaders, headerRow, nil
}

// materializeInput re-reads the run's source bytes: the original
// source when still reachable, else the copy persisted at run start.
func (f *Flow) materializeInput(ctx context.Context, rs runStore, evidence *EvidencePacket) (data []byte, filename string, found bool, err error) {
	if evidence.SourceURI != "" {
		data, filename, _, err := fetchSource(ctx, evidence.SourceURI)
		if err == nil {
			return data, filename, true, nil
		}
		// Fall through to the persisted copy; remote or deleted sources
		// are expected here.
	}
	if evidence.InputArtifactKey != "" {
		key := storeKeyFromArtifactKey(evidence.InputArtifactKey)
		data, err := f.store.ReadBytes(ctx, key)
		if err == nil {
			return data, path.Base(key), true, nil
		}
		if !errors.Is(err, artifacts.ErrNotFound) {
			return nil, "", false, err
		}
	}
	return nil, "", false, nil
}

// fetchSource reads input bytes from a local path, a file:// URI, or
// an object-store URI, returning the basename and a normalized source
// URI for the evidence packet.
func fetchSource(ctx context.Context, input string) (data []byte, filename, sourceURI string, err error) {
	lower := strings.ToLower(input)
	switch {
	case strings.HasPrefix(lower, "gs://") || strings.HasPrefix(lower, "s3://"):
		scheme := input[:5]
		rest := strings.TrimPrefix(input, scheme)
		bucket, objectKey, splitOK := strings.Cut(strings.Trim(rest, "/"), "/")
		if !splitOK || objectKey == "" {
			return nil, "", "", fmt.Errorf("invalid input uri %q: missing object key", input)
		}
		store, err := artifacts.BuildStore(ctx, scheme+bucket)
		if err != nil {
			return nil, "", "", err
		}
		data, err = store.ReadBytes(ctx, objectKey)
		if err != nil {
			return nil, "", "", err
		}
		return data, path.Base(objectKey), input, nil
	case strings.HasPrefix(lower, "file://"):
		localPath := strings.TrimPrefix(input, "file://")
		data, err = os.ReadFile(localPath) //nolint:gosec // caller-supplied input path
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to read input %s: %w", localPath, err)
		}
		return data, filepath.Base(localPath), input, nil
	default:
		abs, absErr := filepath.Abs(input)
		if absErr != nil {
			return nil, "", "", fmt.Errorf("failed to resolve input path: %w", absErr)
		}
		data, err = os.ReadFile(abs) //nolint:gosec // caller-supplied input path
		if err != nil {
			return nil, "", "", fmt.Errorf("failed to read input %s: %w", abs, err)
		}
		return data, filepath.Base(abs), "file://" + filepath.ToSlash(abs), nil
	}
}
