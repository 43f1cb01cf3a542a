package incident

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
)

// PurgeOldRuns deletes runs whose fleet summary was generated before
// the retention cutoff. The current run, pinned runs (a `<run>/pinned`
// marker), the history prefix, and runs without a fleet summary are
// left alone. Deletes are paced so retention never hammers an object
// store.
func PurgeOldRuns(ctx context.Context, store artifacts.Store, retention time.Duration, keepRun string, now func() time.Time) ([]string, error) {
	if now == nil {
		now = time.Now
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := now().UTC().Add(-retention)
	limiter := rate.NewLimiter(rate.Limit(10), 1)

	var deleted []string
	for _, runID := range runs {
		if runID == historyPrefix || runID == keepRun {
			continue
		}
		if pinned, err := store.Exists(ctx, runID+"/pinned"); err != nil {
			return deleted, err
		} else if pinned {
			continue
		}
		var summary struct {
			GeneratedAt string `json:"generated_at"`
		}
		if err := artifacts.ReadJSON(ctx, store, runID+"/fleet_summary.json", &summary); err != nil {
			continue
		}
		generated, ok := parseTS(summary.GeneratedAt)
		if !ok || !generated.Before(cutoff) {
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return deleted, err
		}
		if err := store.DeletePrefix(ctx, runID); err != nil {
			return deleted, err
		}
		deleted = append(deleted, runID)
	}
	return deleted, nil
}
