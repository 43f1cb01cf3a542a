package incident

import (
	"context"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
)

var (
	hostIDPattern       = regexp.MustCompile(`^[A-Za-z0-9._:-]{3,64}$`)
	snapshotFilePattern = regexp.MustCompile(`^snapshot-\d{8}T\d{6}Z\.json$`)
)

// HostInput is one host's worth of snapshot data after selection. With
// select_mode=all the per-host snapshots are merged: events are
// concatenated and the window is the union.
type HostInput struct {
	Key      string
	Snapshot Snapshot
}

// LoadSnapshotsOptions controls snapshot selection.
type LoadSnapshotsOptions struct {
	// Prefix is taken verbatim; "" lists the store root.
	Prefix      string
	WindowHours int
	SelectMode  string // "latest" or "all"
	MaxHosts    int    // 0 = no cap
	Now         func() time.Time
}

type loadedSnapshot struct {
	key  string
	snap Snapshot
	end  time.Time
}

// LoadSnapshots lists, filters, and selects snapshots under the given
// prefix. Hosts and filenames that do not match the naming rules are
// skipped, as are snapshots whose window ended before the lookback
// cutoff and documents that fail to parse.
func LoadSnapshots(ctx context.Context, store artifacts.Store, opts LoadSnapshotsOptions) ([]HostInput, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	keys, err := store.List(ctx, opts.Prefix)
	if err != nil {
		return nil, err
	}
	cutoff := now().UTC().Add(-time.Duration(opts.WindowHours) * time.Hour)

	perHost := map[string][]loadedSnapshot{}
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		parts := strings.Split(key, "/")
		if len(parts) < 2 {
			continue
		}
		hostDir := parts[len(parts)-2]
		filename := parts[len(parts)-1]
		if !hostIDPattern.MatchString(hostDir) || !snapshotFilePattern.MatchString(filename) {
			continue
		}

		var snap Snapshot
		if err := artifacts.ReadJSON(ctx, store, key, &snap); err != nil {
			continue
		}
		endTS := snap.Window.End
		end, parsed := parseTS(endTS)
		if parsed && end.Before(cutoff) {
			continue
		}
		if !parsed {
			end = now().UTC()
		}
		hostID := snap.HostID
		if hostID == "" {
			hostID = strings.TrimSuffix(path.Base(key), ".json")
			snap.HostID = hostID
		}
		perHost[hostID] = append(perHost[hostID], loadedSnapshot{key: key, snap: snap, end: end})
	}

	var selected []HostInput
	for _, items := range perHost {
		sort.SliceStable(items, func(i, j int) bool { return items[i].end.After(items[j].end) })
		if opts.SelectMode == "latest" {
			selected = append(selected, HostInput{Key: items[0].key, Snapshot: items[0].snap})
			continue
		}
		selected = append(selected, mergeHostSnapshots(items))
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Snapshot.HostID < selected[j].Snapshot.HostID
	})
	if opts.MaxHosts > 0 && len(selected) > opts.MaxHosts {
		selected = selected[:opts.MaxHosts]
	}
	return selected, nil
}

// mergeHostSnapshots collapses several snapshots of one host into a
// single input: events concatenated, window widened to the union.
// items arrive sorted newest-first; the newest snapshot provides the
// identity fields.
func mergeHostSnapshots(items []loadedSnapshot) HostInput {
	merged := items[0].snap
	if len(items) == 1 {
		return HostInput{Key: items[0].key, Snapshot: merged}
	}

	var events []Event
	window := merged.Window
	for _, item := range items {
		events = append(events, item.snap.Events...)
		w := item.snap.Window
		if w.Start != "" && (window.Start == "" || w.Start < window.Start) {
			window.Start = w.Start
		}
		if w.End != "" && (window.End == "" || w.End > window.End) {
			window.End = w.End
		}
	}
	sortEventsByTS(events)
	merged.Events = events
	merged.Window = window
	return HostInput{Key: items[0].key, Snapshot: merged}
}
