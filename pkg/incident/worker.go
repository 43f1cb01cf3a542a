package incident

import (
	"context"
	"errors"
	"time"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/observability"
	"github.com/Mindburn-Labs/data-agents/pkg/shadow"
)

// ErrLockHeld means another worker holds the lock and this run did not
// start.
var ErrLockHeld = errors.New("Worker lock held; exiting")

// RunStatus is the run_status.json document.
type RunStatus struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at"`
}

// Worker wraps a Pipeline with the single-writer lifecycle: lock,
// run status, shadow stages, telemetry, and guaranteed lock release.
type Worker struct {
	pipeline  *Pipeline
	lockKey   string
	lockTTL   time.Duration
	telemetry *observability.Telemetry
}

// NewWorker builds a Worker around pipeline. telemetry may be nil.
func NewWorker(pipeline *Pipeline, lockKey string, lockTTL time.Duration, telemetry *observability.Telemetry) *Worker {
	return &Worker{pipeline: pipeline, lockKey: lockKey, lockTTL: lockTTL, telemetry: telemetry}
}

func (w *Worker) writeStatus(ctx context.Context, runID, status, message, startedAt string) {
	payload := RunStatus{
		RunID:      runID,
		Status:     status,
		Message:    message,
		StartedAt:  startedAt,
		FinishedAt: isoUTC(w.pipeline.now()),
	}
	if err := artifacts.WriteJSON(ctx, w.pipeline.store, runID+"/run_status.json", payload); err != nil {
		w.pipeline.logger.Warn("failed to write run status", "run_id", runID, "error", err)
	}
}

// Run executes one locked pipeline run. Returns ErrLockHeld without
// touching any artifact except the shadow log when the lock is taken.
func (w *Worker) Run(ctx context.Context, params RunParams) (result *RunResult, err error) {
	started := w.pipeline.now()
	startedAt := isoUTC(started)
	log := shadow.New(w.pipeline.store, params.RunID, shadow.WithClock(w.pipeline.now))

	ctx, span := w.startSpan(ctx)
	defer span()

	locker := NewLocker(w.pipeline.store, w.lockKey, w.lockTTL, w.pipeline.now)
	acquired, brokeGlass, lockErr := locker.Acquire(ctx, params.RunID)
	if lockErr != nil {
		return nil, lockErr
	}
	if !acquired {
		if logErr := log.Stage(ctx, "lock", "Another run in progress; exiting", nil); logErr != nil {
			return nil, logErr
		}
		return nil, ErrLockHeld
	}
	defer func() {
		if releaseErr := locker.Release(ctx); releaseErr != nil {
			w.pipeline.logger.Warn("failed to release worker lock", "error", releaseErr)
		}
	}()

	if err = log.Stage(ctx, "start", "incident_flow started", map[string]any{"break_glass": brokeGlass}); err != nil {
		return nil, err
	}
	w.writeStatus(ctx, params.RunID, "running", "started", startedAt)

	result, err = w.pipeline.Run(ctx, params)
	if err != nil {
		w.writeStatus(ctx, params.RunID, "failure", err.Error(), startedAt)
		if logErr := log.Stage(ctx, "error", "incident_flow failed", map[string]any{"error": err.Error()}); logErr != nil {
			w.pipeline.logger.Warn("failed to record failure stage", "error", logErr)
		}
		w.recordRun(ctx, "failure", started)
		return nil, err
	}

	w.writeStatus(ctx, params.RunID, "success", "completed", startedAt)
	if err = log.Stage(ctx, "done", "incident_flow completed", nil); err != nil {
		return nil, err
	}
	if len(result.PurgedRuns) > 0 {
		if err = log.Stage(ctx, "retention", "Purged old runs", map[string]any{"purged": result.PurgedRuns}); err != nil {
			return nil, err
		}
	}

	w.recordRun(ctx, "success", started)
	if w.telemetry != nil {
		w.telemetry.RecordIncidents(ctx, result.Fleet.IncidentCount)
		w.telemetry.RecordPurged(ctx, len(result.PurgedRuns))
	}
	return result, nil
}

func (w *Worker) startSpan(ctx context.Context) (context.Context, func()) {
	if w.telemetry == nil {
		return ctx, func() {}
	}
	ctx, span := w.telemetry.StartSpan(ctx, "incident_flow.run")
	return ctx, func() { span.End() }
}

func (w *Worker) recordRun(ctx context.Context, status string, started time.Time) {
	if w.telemetry == nil {
		return
	}
	w.telemetry.RecordRun(ctx, status, w.pipeline.now().Sub(started))
}
