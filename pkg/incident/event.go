// Package incident implements the fleet incident detection pipeline:
// load per-host snapshots, redact and detect, cluster by message
// signature, summarize fleet risk, and maintain history and retention
// over the artifact store.
package incident

import (
	"sort"
	"strconv"
	"time"
)

// Event is one log entry inside a snapshot. EventID stays untyped
// because providers emit both numbers and strings; formatEventID
// renders it for signatures and reports.
type Event struct {
	TS       string         `json:"ts"`
	Level    string         `json:"level"`
	Source   string         `json:"source,omitempty"`
	Provider string         `json:"provider"`
	EventID  any            `json:"event_id,omitempty"`
	Message  string         `json:"message"`
	Data     map[string]any `json:"data,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
	RecordID any            `json:"record_id,omitempty"`
}

func (e Event) hasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Window is a [start, end] pair of timestamp strings. Comparisons on
// windows are lexical, which is safe for the ISO-8601 UTC timestamps
// the snapshots carry.
type Window struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Snapshot is the per-host input document.
type Snapshot struct {
	SchemaVersion string         `json:"schema_version"`
	SnapshotID    string         `json:"snapshot_id"`
	HostID        string         `json:"host_id"`
	UserID        *string        `json:"user_id,omitempty"`
	GeneratedAt   string         `json:"generated_at"`
	Window        Window         `json:"window"`
	Events        []Event        `json:"events"`
	Stats         map[string]any `json:"stats,omitempty"`
	ReceiptTime   string         `json:"_receipt_time,omitempty"`
}

func formatEventID(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// parseTS accepts the timestamp shapes snapshots actually contain:
// RFC 3339 with Z or an explicit offset, with or without fractional
// seconds, and naive timestamps treated as UTC.
func parseTS(value string) (time.Time, bool) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
	} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func isoUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000") + "Z"
}

func sortEventsByTS(events []Event) {
	sort.SliceStable(events, func(i, j int) bool { return events[i].TS < events[j].TS })
}

// latestTS returns the maximum parseable event timestamp, rendered
// back in ISO form, or "" when nothing parses.
func latestTS(events []Event) string {
	var latest time.Time
	found := false
	for _, e := range events {
		if t, ok := parseTS(e.TS); ok {
			if !found || t.After(latest) {
				latest = t
				found = true
			}
		}
	}
	if !found {
		return ""
	}
	return latest.Format(time.RFC3339)
}
