package incident_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/incident"
)

func completedRun(t *testing.T, store artifacts.Store, runID string) *incident.Pipeline {
	t.Helper()
	seedFleetRun(t, store, runID)
	pipeline := newTestPipeline(store)
	_, err := newTestWorker(store).Run(context.Background(), fleetParams(runID))
	require.NoError(t, err)
	return pipeline
}

func TestValidateScoresRunAgainstTruth(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	pipeline := completedRun(t, store, "run-A")

	require.NoError(t, artifacts.WriteJSON(ctx, store, "run-A/truth.json", incident.Truth{
		RunID:                  "run-A",
		ExpectsIncidentTypes:   []string{"bsod"},
		ExpectsClusteredOutage: true,
		ExpectedTopHosts:       []string{"host-01"},
		ScenarioTags:           []string{},
	}))

	summary, err := pipeline.Validate(ctx, "run-A", false)
	require.NoError(t, err)

	// bsod and disk_full detected, only bsod expected.
	assert.InDelta(t, 0.5, summary.IncidentTypePrecision, 1e-9)
	assert.InDelta(t, 1.0, summary.IncidentTypeRecall, 1e-9)
	assert.InDelta(t, 1.0, summary.RankingScore, 1e-9)
	assert.True(t, summary.ClusterDetected)
	assert.Empty(t, summary.SchemaErrors)
	assert.Empty(t, summary.ScenarioWarnings)

	report, err := store.ReadText(ctx, "run-A/validation_report.md")
	require.NoError(t, err)
	assert.Contains(t, report, "# Validation report for run run-A")
	assert.Contains(t, report, "- Incident type precision: 0.50")
	assert.Contains(t, report, "- Cluster detected: yes")

	var persisted incident.ValidationSummary
	require.NoError(t, artifacts.ReadJSON(ctx, store, "run-A/validation_summary.json", &persisted))
	assert.Equal(t, "run-A", persisted.RunID)

	stages := shadowStages(t, store, "run-A")
	assert.Contains(t, stages, "validation")
}

func TestValidateEmptyTruthIsPerfect(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	pipeline := completedRun(t, store, "run-A")

	require.NoError(t, artifacts.WriteJSON(ctx, store, "run-A/truth.json", incident.Truth{RunID: "run-A"}))

	summary, err := pipeline.Validate(ctx, "run-A", false)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, summary.IncidentTypePrecision, 1e-9)
	assert.InDelta(t, 1.0, summary.IncidentTypeRecall, 1e-9)
	assert.InDelta(t, 1.0, summary.RankingScore, 1e-9)
}

func TestValidateMissingTruthFails(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	pipeline := completedRun(t, store, "run-A")

	_, err := pipeline.Validate(ctx, "run-A", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read truth labels")
}

func TestValidateScenarioWarnings(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()

	// A run with no clustered outage at all.
	fleet := incident.FleetSummary{
		SchemaVersion:    "1.0",
		RunID:            "run-X",
		GeneratedAt:      "2025-03-10T12:00:00.000000Z",
		Window:           incident.Window{Start: "2025-03-10T08:00:00Z", End: "2025-03-10T11:00:00Z"},
		HostCount:        0,
		IncidentCount:    0,
		OverallRiskScore: 0,
		TopHosts:         []incident.TopHost{},
		Clusters:         []incident.Cluster{},
	}
	require.NoError(t, artifacts.WriteJSON(ctx, store, "run-X/fleet_summary.json", fleet))
	require.NoError(t, artifacts.WriteJSON(ctx, store, "run-X/truth.json", incident.Truth{
		RunID:                  "run-X",
		ExpectsIncidentTypes:   []string{},
		ExpectsClusteredOutage: true,
		ScenarioTags:           []string{"driver_rollout_wave", "missing_data"},
	}))

	pipeline := newTestPipeline(store)
	summary, err := pipeline.Validate(ctx, "run-X", false)
	require.NoError(t, err)
	assert.Contains(t, summary.ScenarioWarnings, "expected clustered outage but none detected")
	assert.Contains(t, summary.ScenarioWarnings, "missing_data scenario resulted in zero hosts (unexpected)")
	assert.False(t, summary.ClusterDetected)

	// Strict mode promotes the warnings to a failure.
	_, err = pipeline.Validate(ctx, "run-X", true)
	require.Error(t, err)
	var scenarioErr *incident.ScenarioFailureError
	require.ErrorAs(t, err, &scenarioErr)
	assert.Len(t, scenarioErr.Warnings, 2)
}

func TestValidateSurfacesSchemaProblems(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	pipeline := completedRun(t, store, "run-A")

	require.NoError(t, artifacts.WriteJSON(ctx, store, "run-A/truth.json", incident.Truth{RunID: "run-A"}))
	// Corrupt the fleet summary after the run passed its own checks.
	require.NoError(t, store.WriteText(ctx, "run-A/fleet_summary.json", `{"schema_version":"2.0"}`))

	summary, err := pipeline.Validate(ctx, "run-A", false)
	require.Error(t, err)
	var schemaErr *incident.SchemaFailureError
	require.ErrorAs(t, err, &schemaErr)
	require.NotNil(t, summary)
	assert.NotEmpty(t, summary.SchemaErrors)

	report, err := store.ReadText(ctx, "run-A/validation_report.md")
	require.NoError(t, err)
	assert.Contains(t, report, "## Schema errors")
}
