package tabular

// The JSON artifact shapes persisted under <run_id>/. Field order and
// naming follow the documents the dashboards already consume.

// EvidencePacket freezes what the orchestrator saw when the run
// started: the raw preview, the input fingerprints, and where the
// input copy lives.
type EvidencePacket struct {
	RunID            string     `json:"run_id"`
	ArtifactKey      string     `json:"artifact_key"`
	PreviewRows      [][]string `json:"preview_rows"`
	Notes            string     `json:"notes"`
	SourceURI        string     `json:"source_uri,omitempty"`
	InputArtifactKey string     `json:"input_artifact_key,omitempty"`
	FileHash         string     `json:"file_hash,omitempty"`
	StructuralHash   string     `json:"structural_hash"`
	SheetName        string     `json:"sheet_name,omitempty"`
	InputFilename    string     `json:"input_filename,omitempty"`
}

// Candidate is one proposed header row.
type Candidate struct {
	CandidateID       string   `json:"candidate_id"`
	HeaderRows        []int    `json:"header_rows"`
	MergeStrategy     string   `json:"merge_strategy"`
	NormalizedHeaders []string `json:"normalized_headers"`
	Confidence        float64  `json:"confidence"`
	EvidenceKeys      []string `json:"evidence_keys"`
}

// HeaderSpec records the candidate set and the selection, or the fact
// that a human has to pick.
type HeaderSpec struct {
	RunID                  string      `json:"run_id"`
	ArtifactKey            string      `json:"artifact_key"`
	SelectedCandidateID    string      `json:"selected_candidate_id"`
	Candidates             []Candidate `json:"candidates"`
	NeedsHumanConfirmation bool        `json:"needs_human_confirmation"`
	Alternatives           []string    `json:"alternatives"`
	RefusalReason          *string     `json:"refusal_reason"`
}

// HumanConfirmation is written by the CLI or a dashboard on behalf of
// the person who picked a candidate.
type HumanConfirmation struct {
	ConfirmedHeaderCandidate string `json:"confirmed_header_candidate"`
	ConfirmedBy              string `json:"confirmed_by"`
	Timestamp                string `json:"timestamp"`
}

// HeaderOverride pins the header row directly, optionally renaming
// columns. It outranks a plain confirmation.
type HeaderOverride struct {
	SheetName      string            `json:"sheet_name,omitempty"`
	HeaderRowIndex int               `json:"header_row_index"`
	HeaderRows     []int             `json:"header_rows,omitempty"`
	MergeStrategy  string            `json:"merge_strategy,omitempty"`
	EditedHeaders  map[string]string `json:"edited_headers,omitempty"`
}

// TableRegion optionally clips the extracted table by absolute row
// indices and include/exclude column lists.
type TableRegion struct {
	StartRow       *int     `json:"start_row"`
	EndRow         *int     `json:"end_row"`
	IncludeColumns []string `json:"include_columns,omitempty"`
	ExcludeColumns []string `json:"exclude_columns,omitempty"`
}

// AdapterSchema renames and types columns on top of a confirmed
// header.
type AdapterSchema struct {
	CanonicalFields []string          `json:"canonical_fields"`
	FieldMap        map[string]string `json:"field_map"`
	Types           map[string]string `json:"types"`
	RequiredFields  []string          `json:"required_fields"`
	EvidenceKeys    []string          `json:"evidence_keys,omitempty"`
}

// SchemaField describes one extracted column.
type SchemaField struct {
	Source    string `json:"source"`
	Canonical string `json:"canonical"`
	Dtype     string `json:"dtype"`
	Required  bool   `json:"required"`
}

// SchemaBody is the field list inside a SchemaSpec.
type SchemaBody struct {
	Fields          []SchemaField `json:"fields"`
	UnmappedColumns []string      `json:"unmapped_columns"`
}

// SchemaSpec is written only when extraction succeeds.
type SchemaSpec struct {
	RunID         string     `json:"run_id"`
	ArtifactKey   string     `json:"artifact_key"`
	SchemaLayer   string     `json:"schema_layer"` // core | adapter | manual_recipe
	SchemaSpec    SchemaBody `json:"schema_spec"`
	Confidence    float64    `json:"confidence"`
	Alternatives  []string   `json:"alternatives"`
	EvidenceKeys  []string   `json:"evidence_keys"`
	RefusalReason *string    `json:"refusal_reason"`
}

// SaveManifest is the terminal marker of a successful run. Its
// presence means every referenced output is readable.
type SaveManifest struct {
	RunID         string   `json:"run_id"`
	ArtifactKey   string   `json:"artifact_key"`
	SavedFiles    []string `json:"saved_files"`
	SavedURIs     []string `json:"saved_uris"`
	ReportPaths   []string `json:"report_paths"`
	Confidence    float64  `json:"confidence"`
	Alternatives  []string `json:"alternatives"`
	EvidenceKeys  []string `json:"evidence_keys"`
	RefusalReason *string  `json:"refusal_reason"`
}

// Choice is the caller-facing view of a candidate inside a Response.
type Choice struct {
	ID                string   `json:"id"`
	NormalizedHeaders []string `json:"normalized_headers"`
	Confidence        float64  `json:"confidence"`
}

// Response statuses and next-step hints.
const (
	StatusOK                = "ok"
	StatusNeedsConfirmation = "needs_human_confirmation"

	NextContinueToSchema    = "continue_to_schema"
	NextProvideCandidate    = "provide_confirmed_header_candidate"
	NextWriteConfirmation   = "write_human_confirmation"
	NextFixManualRecipe     = "fix_manual_recipe"
	NextRerunRequired       = "rerun_required"
	NextReviewArtifacts     = "review_artifacts"
)

// Response is the public result of every orchestrator call. Expected,
// recoverable conditions travel here rather than as errors, so a
// suspended run never looks like a failure.
type Response struct {
	RunID    string   `json:"run_id"`
	Status   string   `json:"status"`
	Message  string   `json:"message"`
	Question string   `json:"question,omitempty"`
	Choices  []Choice `json:"choices,omitempty"`
	NextStep string   `json:"next_step,omitempty"`
}
