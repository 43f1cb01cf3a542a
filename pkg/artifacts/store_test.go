package artifacts_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.WriteText(ctx, "run-1/status.txt", "running"))

	text, err := store.ReadText(ctx, "run-1/status.txt")
	require.NoError(t, err)
	assert.Equal(t, "running", text)

	ok, err := store.Exists(ctx, "run-1/status.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "run-1/missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalStoreReadMissingIsErrNotFound(t *testing.T) {
	ctx := context.Background()
	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.ReadText(ctx, "nope/nothing.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, artifacts.ErrNotFound))
}

func TestLocalStoreListSortedUnderPrefix(t *testing.T) {
	ctx := context.Background()
	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.WriteText(ctx, "run-1/snapshots/host-b/snapshot-20250101T000000Z.json", "{}"))
	require.NoError(t, store.WriteText(ctx, "run-1/snapshots/host-a/snapshot-20250101T000000Z.json", "{}"))
	require.NoError(t, store.WriteText(ctx, "run-2/other.json", "{}"))

	keys, err := store.List(ctx, "run-1/snapshots")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"run-1/snapshots/host-a/snapshot-20250101T000000Z.json",
		"run-1/snapshots/host-b/snapshot-20250101T000000Z.json",
	}, keys)
}

func TestLocalStoreListRuns(t *testing.T) {
	ctx := context.Background()
	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.WriteText(ctx, "run-2/a.txt", "x"))
	require.NoError(t, store.WriteText(ctx, "run-1/b.txt", "y"))
	require.NoError(t, store.WriteText(ctx, "history/run-1.json", "{}"))

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"history", "run-1", "run-2"}, runs)
}

func TestLocalStoreDeletePrefix(t *testing.T) {
	ctx := context.Background()
	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.WriteText(ctx, "run-1/a.txt", "x"))
	require.NoError(t, store.WriteText(ctx, "run-1/sub/b.txt", "y"))
	require.NoError(t, store.WriteText(ctx, "run-2/c.txt", "z"))

	require.NoError(t, store.DeletePrefix(ctx, "run-1"))

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-2/c.txt"}, keys)

	// Deleting something that is already gone is not an error.
	require.NoError(t, store.DeletePrefix(ctx, "run-1"))
}

func TestLocalStoreCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	created, err := store.CreateIfAbsent(ctx, "locks/worker.lock", []byte("first"))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.CreateIfAbsent(ctx, "locks/worker.lock", []byte("second"))
	require.NoError(t, err)
	assert.False(t, created)

	text, err := store.ReadText(ctx, "locks/worker.lock")
	require.NoError(t, err)
	assert.Equal(t, "first", text, "losing writer must not clobber the existing key")
}

func TestLocalStoreURIFor(t *testing.T) {
	store, err := artifacts.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	uri := store.URIFor("run-1/fleet_summary.json")
	assert.True(t, strings.HasPrefix(uri, "file://"), uri)
	assert.True(t, strings.HasSuffix(uri, "run-1/fleet_summary.json"), uri)
}

func TestBuildStoreDispatch(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	store, err := artifacts.BuildStore(ctx, dir)
	require.NoError(t, err)
	_, ok := store.(*artifacts.LocalStore)
	assert.True(t, ok)

	store, err = artifacts.BuildStore(ctx, "file://"+dir)
	require.NoError(t, err)
	_, ok = store.(*artifacts.LocalStore)
	assert.True(t, ok)

	_, err = artifacts.BuildStore(ctx, "gs://")
	require.Error(t, err)
}

func TestWriteJSONFormatting(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()

	type doc struct {
		RunID  string `json:"run_id"`
		Status string `json:"status"`
	}
	require.NoError(t, artifacts.WriteJSON(ctx, store, "run-1/run_status.json", doc{RunID: "run-1", Status: "running"}))

	text, err := store.ReadText(ctx, "run-1/run_status.json")
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"run_id\": \"run-1\",\n  \"status\": \"running\"\n}", text)

	var got doc
	require.NoError(t, artifacts.ReadJSON(ctx, store, "run-1/run_status.json", &got))
	assert.Equal(t, "run-1", got.RunID)
}
