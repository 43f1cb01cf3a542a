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

func TestLockerAcquireAndRelease(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	locker := incident.NewLocker(store, "", 30*time.Minute, fixedClock("2025-03-10T12:00:00Z"))

	acquired, brokeGlass, err := locker.Acquire(ctx, "run-A")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.False(t, brokeGlass)

	exists, err := store.Exists(ctx, incident.DefaultLockKey)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, locker.Release(ctx))
	exists, err = store.Exists(ctx, incident.DefaultLockKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLockerContention(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	now := fixedClock("2025-03-10T12:00:00Z")

	first := incident.NewLocker(store, "", 30*time.Minute, now)
	acquired, _, err := first.Acquire(ctx, "run-A")
	require.NoError(t, err)
	require.True(t, acquired)

	second := incident.NewLocker(store, "", 30*time.Minute, now)
	acquired, brokeGlass, err := second.Acquire(ctx, "run-B")
	require.NoError(t, err)
	assert.False(t, acquired)
	assert.False(t, brokeGlass)
}

func TestLockerBreaksStaleLock(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()

	holder := incident.NewLocker(store, "", 30*time.Minute, fixedClock("2025-03-10T10:00:00Z"))
	acquired, _, err := holder.Acquire(ctx, "run-A")
	require.NoError(t, err)
	require.True(t, acquired)

	// 2h later the 30m TTL has long expired.
	late := incident.NewLocker(store, "", 30*time.Minute, fixedClock("2025-03-10T12:00:00Z"))
	acquired, brokeGlass, err := late.Acquire(ctx, "run-B")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, brokeGlass)
}

func TestLockerBreaksUnparseableLock(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	require.NoError(t, store.WriteText(ctx, incident.DefaultLockKey, "corrupted"))

	locker := incident.NewLocker(store, "", 30*time.Minute, fixedClock("2025-03-10T12:00:00Z"))
	acquired, brokeGlass, err := locker.Acquire(ctx, "run-A")
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, brokeGlass)
}

func TestLockerReleaseLeavesForeignLock(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	now := fixedClock("2025-03-10T10:00:00Z")

	stale := incident.NewLocker(store, "", 30*time.Minute, now)
	acquired, _, err := stale.Acquire(ctx, "run-A")
	require.NoError(t, err)
	require.True(t, acquired)

	// Someone else breaks the stale lock and becomes the owner.
	breaker := incident.NewLocker(store, "", 30*time.Minute, fixedClock("2025-03-10T12:00:00Z"))
	acquired, brokeGlass, err := breaker.Acquire(ctx, "run-B")
	require.NoError(t, err)
	require.True(t, acquired)
	require.True(t, brokeGlass)

	// The original holder's release must not delete the new owner's lock.
	require.NoError(t, stale.Release(ctx))
	exists, err := store.Exists(ctx, incident.DefaultLockKey)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, breaker.Release(ctx))
	exists, err = store.Exists(ctx, incident.DefaultLockKey)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLockerReleaseMissingLockIsNoError(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	locker := incident.NewLocker(store, "", 30*time.Minute, nil)
	assert.NoError(t, locker.Release(ctx))
}
