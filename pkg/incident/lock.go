package incident

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
)

// DefaultLockKey is where the worker lock lives in the store.
const DefaultLockKey = "locks/worker.lock"

// WorkerLock is the advisory single-writer lock payload. Owner is a
// per-acquisition UUID so release never deletes a lock someone else
// re-acquired in the meantime.
type WorkerLock struct {
	RunID      string `json:"run_id"`
	CreatedAt  string `json:"created_at"`
	TTLMinutes int    `json:"ttl_minutes"`
	Owner      string `json:"owner"`
}

// Locker acquires and releases the worker lock against one store.
type Locker struct {
	store artifacts.Store
	key   string
	ttl   time.Duration
	now   func() time.Time
	owner string
}

// NewLocker returns a Locker with a fresh owner token. key "" uses
// DefaultLockKey.
func NewLocker(store artifacts.Store, key string, ttl time.Duration, now func() time.Time) *Locker {
	if key == "" {
		key = DefaultLockKey
	}
	if now == nil {
		now = time.Now
	}
	return &Locker{store: store, key: key, ttl: ttl, now: now, owner: uuid.NewString()}
}

func (l *Locker) payload(runID string) ([]byte, error) {
	lock := WorkerLock{
		RunID:      runID,
		CreatedAt:  isoUTC(l.now()),
		TTLMinutes: int(l.ttl / time.Minute),
		Owner:      l.owner,
	}
	return json.MarshalIndent(lock, "", "  ")
}

func (l *Locker) stale(lock WorkerLock) bool {
	created, ok := parseTS(lock.CreatedAt)
	if !ok {
		return true
	}
	return created.Before(l.now().UTC().Add(-l.ttl))
}

// Acquire tries to take the lock. brokeGlass reports that a stale lock
// was broken on the way in.
func (l *Locker) Acquire(ctx context.Context, runID string) (acquired, brokeGlass bool, err error) {
	payload, err := l.payload(runID)
	if err != nil {
		return false, false, err
	}
	created, err := l.store.CreateIfAbsent(ctx, l.key, payload)
	if err != nil {
		return false, false, err
	}
	if created {
		return true, false, nil
	}

	var existing WorkerLock
	if readErr := artifacts.ReadJSON(ctx, l.store, l.key, &existing); readErr != nil && !errors.Is(readErr, artifacts.ErrNotFound) {
		existing = WorkerLock{}
	}
	if !l.stale(existing) {
		return false, false, nil
	}
	if err := l.store.DeletePrefix(ctx, l.key); err != nil {
		return false, false, err
	}
	created, err = l.store.CreateIfAbsent(ctx, l.key, payload)
	if err != nil {
		return false, false, err
	}
	return created, created, nil
}

// Release deletes the lock only when this Locker still owns it.
func (l *Locker) Release(ctx context.Context) error {
	var existing WorkerLock
	if err := artifacts.ReadJSON(ctx, l.store, l.key, &existing); err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil
		}
		return err
	}
	if existing.Owner != "" && existing.Owner != l.owner {
		return nil
	}
	return l.store.DeletePrefix(ctx, l.key)
}
