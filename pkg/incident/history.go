package incident

import (
	"context"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
)

const historyPrefix = "history"

const historyLimit = 7

// HistoryCluster is the compact cluster record kept across runs for
// delta computation.
type HistoryCluster struct {
	SignatureHash string `json:"signature_hash"`
	AffectedHosts int    `json:"affected_hosts"`
	Severity      int    `json:"severity"`
}

// HistoryHost is the compact per-host score kept across runs.
type HistoryHost struct {
	HostID string `json:"host_id"`
	Score  int    `json:"score"`
}

// HistoryEntry is one run's footprint at history/<run_id>.json.
type HistoryEntry struct {
	RunID       string           `json:"run_id"`
	GeneratedAt string           `json:"generated_at"`
	Clusters    []HistoryCluster `json:"clusters"`
	TopHosts    []HistoryHost    `json:"top_hosts"`
}

// LoadHistory returns up to the last seven history entries in key
// order. Unparseable entries are skipped.
func LoadHistory(ctx context.Context, store artifacts.Store) ([]HistoryEntry, error) {
	keys, err := store.List(ctx, historyPrefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	var entries []HistoryEntry
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		var entry HistoryEntry
		if err := artifacts.ReadJSON(ctx, store, key, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if len(entries) > historyLimit {
		entries = entries[len(entries)-historyLimit:]
	}
	return entries, nil
}

// PreviousSummary is the newest history entry, or nil on a first run.
func PreviousSummary(history []HistoryEntry) *HistoryEntry {
	if len(history) == 0 {
		return nil
	}
	return &history[len(history)-1]
}

// AppendHistory records the run's compact footprint and trims old
// entries on the local backend. Object-store backends rely on bucket
// lifecycle rules instead.
func AppendHistory(ctx context.Context, store artifacts.Store, summary FleetSummary) error {
	entry := HistoryEntry{
		RunID:       summary.RunID,
		GeneratedAt: summary.GeneratedAt,
		Clusters:    make([]HistoryCluster, 0, len(summary.Clusters)),
		TopHosts:    make([]HistoryHost, 0, len(summary.TopHosts)),
	}
	for _, cluster := range summary.Clusters {
		entry.Clusters = append(entry.Clusters, HistoryCluster{
			SignatureHash: cluster.SignatureHash,
			AffectedHosts: cluster.AffectedHosts,
			Severity:      cluster.Severity,
		})
	}
	for _, host := range summary.TopHosts {
		entry.TopHosts = append(entry.TopHosts, HistoryHost{HostID: host.HostID, Score: host.Score})
	}
	if err := artifacts.WriteJSON(ctx, store, historyPrefix+"/"+summary.RunID+".json", entry); err != nil {
		return err
	}

	if _, local := store.(*artifacts.LocalStore); !local {
		return nil
	}
	keys, err := store.List(ctx, historyPrefix)
	if err != nil {
		return err
	}
	sort.Strings(keys)
	extras := len(keys) - historyLimit
	for i := 0; i < extras; i++ {
		if err := store.DeletePrefix(ctx, keys[i]); err != nil {
			return err
		}
	}
	return nil
}
