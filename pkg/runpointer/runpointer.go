// Package runpointer tracks which run completed last, so tooling can
// find it without scanning the store.
package runpointer

import (
	"context"
	"errors"
	"strings"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
)

// Key is where the pointer lives, relative to the store root.
const Key = "latest_run.txt"

// reserved prefixes that are never run ids.
var reserved = map[string]bool{
	"history":      true,
	"locks":        true,
	"recipe_store": true,
}

// Write records runID as the latest completed run.
func Write(ctx context.Context, store artifacts.Store, runID string) error {
	return store.WriteText(ctx, Key, runID)
}

// Read returns the recorded pointer, or "" when none exists.
func Read(ctx context.Context, store artifacts.Store) (string, error) {
	text, err := store.ReadText(ctx, Key)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Resolve returns the pointer when present, otherwise the lexically
// last run prefix in the store. Returns "" when the store has no runs.
func Resolve(ctx context.Context, store artifacts.Store) (string, error) {
	latest, err := Read(ctx, store)
	if err != nil {
		return "", err
	}
	if latest != "" {
		return latest, nil
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	last := ""
	for _, run := range runs {
		if !reserved[run] {
			last = run
		}
	}
	return last, nil
}
