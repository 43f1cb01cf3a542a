package incident

import (
	"context"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/runpointer"
	"github.com/Mindburn-Labs/data-agents/pkg/schemas"
	"github.com/Mindburn-Labs/data-agents/pkg/shadow"
)

// Pipeline runs incident detection end to end against one artifact
// store. Snapshots may come from a separate store.
type Pipeline struct {
	store     artifacts.Store
	snapStore artifacts.Store
	validator *schemas.Validator
	redactor  Redactor
	logger    *slog.Logger
	now       func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithSnapshotStore reads snapshots from a different store than the
// one artifacts are written to.
func WithSnapshotStore(store artifacts.Store) PipelineOption {
	return func(p *Pipeline) { p.snapStore = store }
}

// WithRedactor overrides the default balanced redactor.
func WithRedactor(r Redactor) PipelineOption {
	return func(p *Pipeline) { p.redactor = r }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = logger }
}

// WithPipelineClock overrides the time source, for tests.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline returns a Pipeline over store.
func NewPipeline(store artifacts.Store, validator *schemas.Validator, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		store:     store,
		snapStore: store,
		validator: validator,
		redactor:  NewRedactor(RedactionBalanced, ""),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunParams are the per-run knobs of the pipeline.
type RunParams struct {
	RunID string
	// SnapshotPrefix nil means <run_id>/snapshots; a pointer to ""
	// lists the snapshot store root.
	SnapshotPrefix *string
	TicketPrefix   string // "" means <run_id>/tickets
	RetentionHours int
	WindowHours    int
	SelectMode     string // "latest" or "all"
	MaxHosts       int    // 0 = no cap
}

// RunResult is what a completed pipeline run produced.
type RunResult struct {
	Fleet      FleetSummary
	Timelines  map[string]*Timeline
	PurgedRuns []string
}

// Run executes detection: load history and snapshots, build and write
// timelines and the fleet summary, schema-validate, append history,
// advance the latest pointer, purge expired runs.
func (p *Pipeline) Run(ctx context.Context, params RunParams) (*RunResult, error) {
	log := shadow.New(p.store, params.RunID, shadow.WithClock(p.now))

	history, err := LoadHistory(ctx, p.store)
	if err != nil {
		return nil, err
	}
	prev := PreviousSummary(history)

	snapshotPrefix := params.RunID + "/snapshots"
	if params.SnapshotPrefix != nil {
		snapshotPrefix = *params.SnapshotPrefix
	}
	inputs, err := LoadSnapshots(ctx, p.snapStore, LoadSnapshotsOptions{
		Prefix:      snapshotPrefix,
		WindowHours: params.WindowHours,
		SelectMode:  params.SelectMode,
		MaxHosts:    params.MaxHosts,
		Now:         p.now,
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("snapshots selected", "run_id", params.RunID, "hosts", len(inputs))

	ticketPrefix := params.TicketPrefix
	if ticketPrefix == "" {
		ticketPrefix = params.RunID + "/tickets"
	}
	tickets, err := loadTickets(ctx, p.store, ticketPrefix)
	if err != nil {
		return nil, err
	}

	timelines, err := p.BuildHostTimelines(ctx, log, inputs, tickets)
	if err != nil {
		return nil, err
	}
	fleet := p.BuildFleetSummary(params.RunID, timelines, prev)

	if err := p.WriteHostArtifacts(ctx, log, params.RunID, timelines); err != nil {
		return nil, err
	}
	if err := artifacts.WriteJSON(ctx, p.store, params.RunID+"/fleet_summary.json", fleet); err != nil {
		return nil, err
	}
	if err := log.Stage(ctx, "fleet", "Wrote fleet summary", map[string]any{"clusters": len(fleet.Clusters)}); err != nil {
		return nil, err
	}

	if err := schemas.RequireValid(ctx, p.store, p.validator, params.RunID); err != nil {
		return nil, err
	}
	if err := AppendHistory(ctx, p.store, fleet); err != nil {
		return nil, err
	}
	if err := runpointer.Write(ctx, p.store, params.RunID); err != nil {
		return nil, err
	}

	retention := time.Duration(params.RetentionHours) * time.Hour
	purged, err := PurgeOldRuns(ctx, p.store, retention, params.RunID, p.now)
	if err != nil {
		p.logger.Warn("retention purge incomplete", "error", err)
	}
	return &RunResult{Fleet: fleet, Timelines: timelines, PurgedRuns: purged}, nil
}
