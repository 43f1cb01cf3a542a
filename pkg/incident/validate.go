package incident

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/schemas"
	"github.com/Mindburn-Labs/data-agents/pkg/shadow"
)

// Truth is the synthetic label document the scenario generator drops
// next to its snapshots.
type Truth struct {
	RunID                  string   `json:"run_id"`
	ExpectsIncidentTypes   []string `json:"expects_incident_types"`
	ExpectsClusteredOutage bool     `json:"expects_clustered_outage"`
	ExpectedTopHosts       []string `json:"expected_top_hosts"`
	ScenarioTags           []string `json:"scenario_tags"`
}

// ValidationSummary scores a run's outputs against the truth labels.
type ValidationSummary struct {
	RunID                 string   `json:"run_id"`
	IncidentTypePrecision float64  `json:"incident_type_precision"`
	IncidentTypeRecall    float64  `json:"incident_type_recall"`
	RankingScore          float64  `json:"ranking_score"`
	ClusterDetected       bool     `json:"cluster_detected"`
	SchemaErrors          []string `json:"schema_errors"`
	ScenarioWarnings      []string `json:"scenario_warnings"`
}

// SchemaFailureError means schema validation found problems; the
// summary and report were still written.
type SchemaFailureError struct{ Problems []string }

func (e *SchemaFailureError) Error() string {
	return "Schema validation failed: " + strings.Join(e.Problems, "; ")
}

// ScenarioFailureError is returned in strict-scenario mode when
// scenario warnings are present.
type ScenarioFailureError struct{ Warnings []string }

func (e *ScenarioFailureError) Error() string {
	return "Scenario checks failed: " + strings.Join(e.Warnings, "; ")
}

func collectDetectedTypes(ctx context.Context, store artifacts.Store, runID string) (map[string]bool, error) {
	keys, err := store.List(ctx, runID+"/hosts")
	if err != nil {
		return nil, err
	}
	detected := map[string]bool{}
	for _, key := range keys {
		if !strings.HasSuffix(key, "timeline.json") {
			continue
		}
		var timeline Timeline
		if err := artifacts.ReadJSON(ctx, store, key, &timeline); err != nil {
			return nil, err
		}
		for _, inc := range timeline.Incidents {
			if inc.Type != "" {
				detected[inc.Type] = true
			}
		}
	}
	return detected, nil
}

func precisionRecall(truth, detected map[string]bool) (precision, recall float64) {
	if len(truth) == 0 {
		return 1.0, 1.0
	}
	tp := 0
	for t := range truth {
		if detected[t] {
			tp++
		}
	}
	precision = float64(tp) / float64(max(1, len(detected)))
	recall = float64(tp) / float64(max(1, len(truth)))
	return precision, recall
}

func rankingHits(hosts []TopHost, expected []string) float64 {
	if len(expected) == 0 {
		return 1.0
	}
	limit := len(expected)
	if limit > len(hosts) {
		limit = len(hosts)
	}
	observed := map[string]bool{}
	for _, h := range hosts[:limit] {
		observed[h.HostID] = true
	}
	hits := 0
	for _, host := range expected {
		if observed[host] {
			hits++
		}
	}
	return float64(hits) / float64(len(expected))
}

func clusterHit(clusters []Cluster) bool {
	for _, c := range clusters {
		if c.AffectedHosts >= 2 {
			return true
		}
	}
	return false
}

// Validate scores one run against truth.json, writes
// validation_report.md and validation_summary.json, and appends the
// validation shadow stage. Schema problems fail the call (after
// writing); strictScenario promotes scenario warnings to failures.
func (p *Pipeline) Validate(ctx context.Context, runID string, strictScenario bool) (*ValidationSummary, error) {
	schemaErrors, err := schemas.ValidateRun(ctx, p.store, p.validator, runID)
	if err != nil {
		return nil, err
	}

	var truth Truth
	if err := artifacts.ReadJSON(ctx, p.store, runID+"/truth.json", &truth); err != nil {
		return nil, fmt.Errorf("failed to read truth labels: %w", err)
	}
	var fleet FleetSummary
	if err := artifacts.ReadJSON(ctx, p.store, runID+"/fleet_summary.json", &fleet); err != nil {
		return nil, fmt.Errorf("failed to read fleet summary: %w", err)
	}
	detected, err := collectDetectedTypes(ctx, p.store, runID)
	if err != nil {
		return nil, err
	}

	expected := map[string]bool{}
	for _, t := range truth.ExpectsIncidentTypes {
		expected[t] = true
	}
	precision, recall := precisionRecall(expected, detected)

	var warnings []string
	tags := map[string]bool{}
	for _, tag := range truth.ScenarioTags {
		tags[tag] = true
	}
	if tags["driver_rollout_wave"] && !clusterHit(fleet.Clusters) {
		warnings = append(warnings, "expected clustered outage but none detected")
	}
	if tags["missing_data"] && fleet.HostCount == 0 {
		warnings = append(warnings, "missing_data scenario resulted in zero hosts (unexpected)")
	}
	if tags["time_skew"] {
		snapshotHosts, err := countSnapshotDocs(ctx, p.store, runID+"/snapshots")
		if err != nil {
			return nil, err
		}
		if fleet.HostCount != snapshotHosts {
			warnings = append(warnings, "time_skew scenario host count mismatch")
		}
	}

	summary := &ValidationSummary{
		RunID:                 runID,
		IncidentTypePrecision: precision,
		IncidentTypeRecall:    recall,
		RankingScore:          rankingHits(fleet.TopHosts, truth.ExpectedTopHosts),
		ClusterDetected:       clusterHit(fleet.Clusters),
		SchemaErrors:          schemaErrors,
		ScenarioWarnings:      warnings,
	}
	if summary.SchemaErrors == nil {
		summary.SchemaErrors = []string{}
	}
	if summary.ScenarioWarnings == nil {
		summary.ScenarioWarnings = []string{}
	}

	if err := p.store.WriteText(ctx, runID+"/validation_report.md", renderValidationReport(truth, fleet, summary)); err != nil {
		return nil, err
	}
	if err := artifacts.WriteJSON(ctx, p.store, runID+"/validation_summary.json", summary); err != nil {
		return nil, err
	}
	log := shadow.New(p.store, runID, shadow.WithClock(p.now))
	if err := log.Stage(ctx, "validation", "Validation complete", map[string]any{"result": summary}); err != nil {
		return nil, err
	}

	if len(schemaErrors) > 0 {
		return summary, &SchemaFailureError{Problems: schemaErrors}
	}
	if strictScenario && len(warnings) > 0 {
		return summary, &ScenarioFailureError{Warnings: warnings}
	}
	return summary, nil
}

func countSnapshotDocs(ctx context.Context, store artifacts.Store, prefix string) (int, error) {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	hosts := map[string]bool{}
	for _, key := range keys {
		if strings.HasSuffix(key, ".json") {
			hosts[strings.TrimSuffix(path.Base(key), ".json")] = true
		}
	}
	return len(hosts), nil
}

func renderValidationReport(truth Truth, fleet FleetSummary, summary *ValidationSummary) string {
	topHostIDs := make([]string, 0, len(fleet.TopHosts))
	for _, h := range fleet.TopHosts {
		topHostIDs = append(topHostIDs, h.HostID)
	}
	clusterDetected := "no"
	if summary.ClusterDetected {
		clusterDetected = "yes"
	}
	lines := []string{
		fmt.Sprintf("# Validation report for run %s", summary.RunID),
		"",
		"## Schema",
		fmt.Sprintf("- Schema errors: %d", len(summary.SchemaErrors)),
		"",
		"## Scores",
		fmt.Sprintf("- Incident type precision: %.2f", summary.IncidentTypePrecision),
		fmt.Sprintf("- Incident type recall: %.2f", summary.IncidentTypeRecall),
		fmt.Sprintf("- Ranking quality (hit rate): %.2f", summary.RankingScore),
		fmt.Sprintf("- Cluster detected: %s", clusterDetected),
		"",
		"## Truth labels",
		fmt.Sprintf("- Expected types: %s", strings.Join(truth.ExpectsIncidentTypes, ", ")),
		fmt.Sprintf("- Expects clustered outage: %t", truth.ExpectsClusteredOutage),
		fmt.Sprintf("- Expected top hosts: %s", strings.Join(truth.ExpectedTopHosts, ", ")),
		fmt.Sprintf("- Scenario tags: %s", strings.Join(truth.ScenarioTags, ", ")),
		"",
		"## Fleet summary snapshot",
		fmt.Sprintf("- Host count: %d", fleet.HostCount),
		fmt.Sprintf("- Incident count: %d", fleet.IncidentCount),
		fmt.Sprintf("- Clusters detected: %d", len(fleet.Clusters)),
		fmt.Sprintf("- Top hosts seen: %s", strings.Join(topHostIDs, ", ")),
		"",
		"## Notes",
		"These scores are deterministic for the given seed and snapshots. Expand validation as rules grow.",
	}
	if len(summary.SchemaErrors) > 0 {
		lines = append(lines, "", "## Schema errors")
		sorted := append([]string(nil), summary.SchemaErrors...)
		sort.Strings(sorted)
		for _, err := range sorted {
			lines = append(lines, "- "+err)
		}
	}
	if len(summary.ScenarioWarnings) > 0 {
		lines = append(lines, "", "## Scenario warnings")
		for _, warn := range summary.ScenarioWarnings {
			lines = append(lines, "- "+warn)
		}
	}
	return strings.Join(lines, "\n")
}
