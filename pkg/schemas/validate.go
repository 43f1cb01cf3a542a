package schemas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
)

// ValidateRun checks every schema-bound artifact of a run and returns
// one message per violation. An empty slice means the run is clean.
//
// Checked artifacts: all snapshots, all tickets, each incident embedded
// in the host timelines, the fleet summary (when present), and the run
// manifest (when present).
func ValidateRun(ctx context.Context, store artifacts.Store, v *Validator, runID string) ([]string, error) {
	var problems []string

	snapKeys, err := store.List(ctx, runID+"/snapshots")
	if err != nil {
		return nil, err
	}
	for _, key := range snapKeys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		problems = appendProblem(problems, Snapshot, key, validateKey(ctx, store, v, Snapshot, key))
	}

	ticketKeys, err := store.List(ctx, runID+"/tickets")
	if err != nil {
		return nil, err
	}
	for _, key := range ticketKeys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		problems = appendProblem(problems, Ticket, key, validateKey(ctx, store, v, Ticket, key))
	}

	hostKeys, err := store.List(ctx, runID+"/hosts")
	if err != nil {
		return nil, err
	}
	for _, key := range hostKeys {
		if !strings.HasSuffix(key, "timeline.json") {
			continue
		}
		data, err := store.ReadBytes(ctx, key)
		if err != nil {
			return nil, err
		}
		var timeline struct {
			Incidents []json.RawMessage `json:"incidents"`
		}
		if err := json.Unmarshal(data, &timeline); err != nil {
			problems = append(problems, fmt.Sprintf("incident %s: invalid JSON: %v", key, err))
			continue
		}
		for _, raw := range timeline.Incidents {
			problems = appendProblem(problems, Incident, key, v.ValidateBytes(Incident, raw))
		}
	}

	fleetKey := runID + "/fleet_summary.json"
	if ok, err := store.Exists(ctx, fleetKey); err != nil {
		return nil, err
	} else if ok {
		problems = appendProblem(problems, FleetSummary, fleetKey, validateKey(ctx, store, v, FleetSummary, fleetKey))
	}

	manifestKey := runID + "/run_manifest.json"
	if ok, err := store.Exists(ctx, manifestKey); err != nil {
		return nil, err
	} else if ok {
		problems = appendProblem(problems, RunManifest, manifestKey, validateKey(ctx, store, v, RunManifest, manifestKey))
	}

	return problems, nil
}

// RequireValid fails the run when any artifact violates its schema.
func RequireValid(ctx context.Context, store artifacts.Store, v *Validator, runID string) error {
	problems, err := ValidateRun(ctx, store, v, runID)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("Schema validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func validateKey(ctx context.Context, store artifacts.Store, v *Validator, name, key string) error {
	data, err := store.ReadBytes(ctx, key)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return nil
		}
		return err
	}
	return v.ValidateBytes(name, data)
}

func appendProblem(problems []string, label, key string, err error) []string {
	if err == nil {
		return problems
	}
	return append(problems, fmt.Sprintf("%s %s: %v", label, key, err))
}
