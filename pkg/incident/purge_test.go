package incident_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/incident"
)

func writeRunSummary(t *testing.T, store artifacts.Store, runID, generatedAt string) {
	t.Helper()
	summary := summaryForRun(runID, 50)
	summary.GeneratedAt = generatedAt
	require.NoError(t, artifacts.WriteJSON(context.Background(), store, runID+"/fleet_summary.json", summary))
}

func TestPurgeOldRunsRespectsRetention(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	now := fixedClock("2025-03-10T12:00:00Z")

	writeRunSummary(t, store, "run-old", "2025-03-01T12:00:00.000000Z")
	writeRunSummary(t, store, "run-recent", "2025-03-10T06:00:00.000000Z")
	writeRunSummary(t, store, "run-current", "2025-02-01T12:00:00.000000Z")

	// Pinned run stays no matter how old.
	writeRunSummary(t, store, "run-pinned", "2025-02-01T12:00:00.000000Z")
	require.NoError(t, store.WriteText(ctx, "run-pinned/pinned", ""))

	// Runs without a readable summary and the history prefix are left alone.
	require.NoError(t, store.WriteText(ctx, "run-broken/notes.txt", "no summary"))
	require.NoError(t, store.WriteText(ctx, "history/run-old.json", "{}"))

	purged, err := incident.PurgeOldRuns(ctx, store, 48*time.Hour, "run-current", now)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-old"}, purged)

	for key, want := range map[string]bool{
		"run-old/fleet_summary.json":     false,
		"run-recent/fleet_summary.json":  true,
		"run-current/fleet_summary.json": true,
		"run-pinned/fleet_summary.json":  true,
		"run-broken/notes.txt":           true,
		"history/run-old.json":           true,
	} {
		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, want, exists, key)
	}
}

func TestPurgeOldRunsSkipsUnparseableTimestamps(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()

	writeRunSummary(t, store, "run-odd", "sometime last week")

	purged, err := incident.PurgeOldRuns(ctx, store, time.Hour, "run-current", fixedClock("2025-03-10T12:00:00Z"))
	require.NoError(t, err)
	assert.Empty(t, purged)
}
