package shadow_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/shadow"
)

func fixedClock() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestEventAppendsOneLinePerCall(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	log := shadow.New(store, "run-1", shadow.WithClock(fixedClock))

	require.NoError(t, log.Event(ctx, "header_selection_ok", map[string]any{"selected_candidate_id": "row_0"}))
	require.NoError(t, log.Event(ctx, "human_confirmation_received", nil))

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "run-1", entries[0]["run_id"])
	assert.Equal(t, "header_selection_ok", entries[0]["event"])
	assert.Equal(t, "row_0", entries[0]["selected_candidate_id"])
	assert.Equal(t, "2025-06-01T12:00:00.000000Z", entries[0]["created_at"])
	assert.Equal(t, "human_confirmation_received", entries[1]["event"])
}

func TestStageEntryShape(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	log := shadow.New(store, "run-2", shadow.WithClock(fixedClock))

	require.NoError(t, log.Stage(ctx, "start", "incident_flow started", map[string]any{"break_glass": false}))
	require.NoError(t, log.Stage(ctx, "done", "incident_flow completed", nil))

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "start", entries[0]["stage"])
	assert.Equal(t, "incident_flow started", entries[0]["message"])
	meta, ok := entries[0]["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, meta["break_glass"])

	_, hasMeta := entries[1]["meta"]
	assert.False(t, hasMeta, "empty meta must be omitted")
}

func TestAppendRepairsMissingNewline(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	log := shadow.New(store, "run-3", shadow.WithClock(fixedClock))

	// Simulate a writer that forgot the trailing newline.
	require.NoError(t, store.WriteText(ctx, log.Key(), `{"run_id":"run-3","event":"older"}`))

	require.NoError(t, log.Event(ctx, "newer", nil))

	text, err := store.ReadText(ctx, log.Key())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	assert.Len(t, lines, 2)

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "older", entries[0]["event"])
	assert.Equal(t, "newer", entries[1]["event"])
}

func TestEntriesMissingLogIsEmpty(t *testing.T) {
	ctx := context.Background()
	log := shadow.New(artifacts.NewMemStore(), "run-4")

	entries, err := log.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
