package runpointer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/runpointer"
)

func TestResolvePrefersPointer(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()

	require.NoError(t, store.WriteText(ctx, "run-20250101-000000Z/shadow.jsonl", ""))
	require.NoError(t, runpointer.Write(ctx, store, "run-20250301-000000Z"))

	got, err := runpointer.Resolve(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "run-20250301-000000Z", got)
}

func TestResolveFallsBackToLastRun(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()

	require.NoError(t, store.WriteText(ctx, "run-20250101-000000Z/a.json", "{}"))
	require.NoError(t, store.WriteText(ctx, "run-20250201-000000Z/a.json", "{}"))
	require.NoError(t, store.WriteText(ctx, "history/run-x.json", "{}"))
	require.NoError(t, store.WriteText(ctx, "locks/worker.lock", "{}"))

	got, err := runpointer.Resolve(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "run-20250201-000000Z", got)
}

func TestResolveEmptyStore(t *testing.T) {
	got, err := runpointer.Resolve(context.Background(), artifacts.NewMemStore())
	require.NoError(t, err)
	assert.Equal(t, "", got)
}
