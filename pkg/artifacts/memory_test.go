package artifacts_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
)

func TestMemStoreMatchesStoreContract(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()

	require.NoError(t, store.WriteText(ctx, "run-1/a.json", "{}"))
	require.NoError(t, store.WriteText(ctx, "run-1/b.json", "{}"))
	require.NoError(t, store.WriteText(ctx, "run-2/c.json", "{}"))

	keys, err := store.List(ctx, "run-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1/a.json", "run-1/b.json"}, keys)

	runs, err := store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1", "run-2"}, runs)

	require.NoError(t, store.DeletePrefix(ctx, "run-1"))
	keys, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-2/c.json"}, keys)

	_, err = store.ReadBytes(ctx, "run-1/a.json")
	assert.ErrorIs(t, err, artifacts.ErrNotFound)
}

func TestMemStoreCreateIfAbsentSingleWinner(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CreateIfAbsent(ctx, "locks/worker.lock", []byte("x"))
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load(), "exactly one contender may create the key")
}
