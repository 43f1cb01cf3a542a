// Package shadow maintains the append-only JSONL log each run keeps
// beside its artifacts. Every pipeline decision lands here so a human
// can replay what happened without reading code.
package shadow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
)

// Log appends entries to <run_id>/shadow.jsonl in the given store.
type Log struct {
	store artifacts.Store
	runID string
	now   func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New returns a Log for runID backed by store.
func New(store artifacts.Store, runID string, opts ...Option) *Log {
	l := &Log{store: store, runID: runID, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key returns the store key of the log file.
func (l *Log) Key() string {
	return l.runID + "/shadow.jsonl"
}

// Event appends an ingestion-style entry: run_id, event, created_at,
// plus the given details.
func (l *Log) Event(ctx context.Context, event string, details map[string]any) error {
	entry := map[string]any{
		"run_id":     l.runID,
		"event":      event,
		"created_at": isoUTC(l.now()),
	}
	for k, v := range details {
		entry[k] = v
	}
	return l.append(ctx, entry)
}

// Stage appends a worker-style entry: ts, stage, message, and optional
// meta.
func (l *Log) Stage(ctx context.Context, stage, message string, meta map[string]any) error {
	entry := map[string]any{
		"ts":      isoUTC(l.now()),
		"stage":   stage,
		"message": message,
	}
	if len(meta) > 0 {
		entry["meta"] = meta
	}
	return l.append(ctx, entry)
}

// Entries parses every line of the log. Missing log means no entries.
func (l *Log) Entries(ctx context.Context) ([]map[string]any, error) {
	text, err := l.store.ReadText(ctx, l.Key())
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var entries []map[string]any
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("corrupt shadow line %q: %w", line, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (l *Log) append(ctx context.Context, entry map[string]any) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode shadow entry: %w", err)
	}

	existing, err := l.store.ReadText(ctx, l.Key())
	if err != nil && !errors.Is(err, artifacts.ErrNotFound) {
		return err
	}
	// Repair a missing trailing newline so lines never merge.
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	return l.store.WriteText(ctx, l.Key(), existing+string(line)+"\n")
}

func isoUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}
