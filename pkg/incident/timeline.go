package incident

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/shadow"
)

// Timeline is the per-host artifact at hosts/<host_id>/timeline.json.
// UserID marshals as null when absent; in strict redaction mode it is
// the salted pseudonym.
type Timeline struct {
	SchemaVersion string           `json:"schema_version"`
	HostID        string           `json:"host_id"`
	UserID        *string          `json:"user_id"`
	Window        Window           `json:"window"`
	Events        []Event          `json:"events"`
	Incidents     []IncidentRecord `json:"incidents"`
	Tickets       []map[string]any `json:"tickets"`
	LastEventTS   string           `json:"last_event_ts"`
	Severity      int              `json:"severity"`
}

// loadTickets groups ticket documents under prefix by host_id.
// Tickets stay schemaless here; the validator checks their shape.
func loadTickets(ctx context.Context, store artifacts.Store, prefix string) (map[string][]map[string]any, error) {
	keys, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	tickets := map[string][]map[string]any{}
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		var payload map[string]any
		if err := artifacts.ReadJSON(ctx, store, key, &payload); err != nil {
			return nil, fmt.Errorf("failed to read ticket %s: %w", key, err)
		}
		hostID, _ := payload["host_id"].(string)
		if hostID == "" {
			hostID = "unknown"
		}
		tickets[hostID] = append(tickets[hostID], payload)
	}
	return tickets, nil
}

// BuildHostTimelines redacts each host's events, runs the detectors,
// and assembles one Timeline per host. A shadow stage entry is
// appended per host evaluated.
func (p *Pipeline) BuildHostTimelines(ctx context.Context, log *shadow.Log, inputs []HostInput, tickets map[string][]map[string]any) (map[string]*Timeline, error) {
	timelines := make(map[string]*Timeline, len(inputs))
	for _, input := range inputs {
		snap := input.Snapshot
		hostID := snap.HostID

		events := make([]Event, len(snap.Events))
		copy(events, snap.Events)
		sortEventsByTS(events)
		for i := range events {
			events[i].Message = p.redactor.Message(events[i].Message)
		}

		incidents := DetectIncidentsForHost(hostID, events)
		records := make([]IncidentRecord, 0, len(incidents))
		for _, incident := range incidents {
			records = append(records, p.incidentRecord(hostID, snap.Window, incident))
		}

		hostTickets := tickets[hostID]
		if hostTickets == nil {
			hostTickets = []map[string]any{}
		}
		timelines[hostID] = &Timeline{
			SchemaVersion: "1.0",
			HostID:        hostID,
			UserID:        p.redactor.UserID(snap.UserID),
			Window:        snap.Window,
			Events:        events,
			Incidents:     records,
			Tickets:       hostTickets,
			LastEventTS:   latestTS(events),
			Severity:      hostSeverity(records),
		}
		if err := log.Stage(ctx, "timeline", "Evaluated "+hostID, map[string]any{"incidents": len(incidents)}); err != nil {
			return nil, err
		}
	}
	return timelines, nil
}

func (p *Pipeline) incidentRecord(hostID string, window Window, incident *Incident) IncidentRecord {
	return IncidentRecord{
		SchemaVersion: "1.0",
		IncidentID:    incident.ID,
		HostID:        hostID,
		Type:          incident.Type,
		Window:        window,
		DetectedAt:    isoUTC(p.now()),
		Severity:      incident.Severity,
		Confidence:    incident.Confidence,
		Summary:       incident.Summary,
		Signature: Signature{
			SignatureKey:  signatureKey(incident.ClusterBasis),
			SignatureHash: incident.ClusterSignature,
		},
		RecommendedActions: incident.RecommendedActions,
		Evidence:           incident.Evidence,
		Tags:               []string{},
	}
}

func hostSeverity(incidents []IncidentRecord) int {
	severity := 0
	for _, incident := range incidents {
		if incident.Severity > severity {
			severity = incident.Severity
		}
	}
	return severity
}

// WriteHostArtifacts persists each timeline plus its markdown report.
func (p *Pipeline) WriteHostArtifacts(ctx context.Context, log *shadow.Log, runID string, timelines map[string]*Timeline) error {
	for _, hostID := range sortedHostIDs(timelines) {
		timeline := timelines[hostID]
		base := runID + "/hosts/" + hostID
		if err := artifacts.WriteJSON(ctx, p.store, base+"/timeline.json", timeline); err != nil {
			return err
		}
		if err := p.store.WriteText(ctx, base+"/report.md", renderHostReport(timeline)); err != nil {
			return err
		}
		if err := log.Stage(ctx, "write_host", "Wrote artifacts for "+hostID, nil); err != nil {
			return err
		}
	}
	return nil
}

func renderHostReport(timeline *Timeline) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Host report: %s\n\n", timeline.HostID)
	fmt.Fprintf(&b, "Window: %s → %s\n\n", timeline.Window.Start, timeline.Window.End)
	if len(timeline.Incidents) == 0 {
		b.WriteString("No incidents detected.")
		return b.String()
	}
	b.WriteString("Incidents:")
	for _, inc := range timeline.Incidents {
		fmt.Fprintf(&b, "\n- [%d] %s (type=%s, confidence=%s)",
			inc.Severity, inc.Summary, inc.Type, strconv.FormatFloat(inc.Confidence, 'f', -1, 64))
		for _, action := range inc.RecommendedActions {
			fmt.Fprintf(&b, "\n  - Action: %s", action)
		}
		if len(inc.Evidence) > 0 {
			sample := inc.Evidence[0]
			fmt.Fprintf(&b, "\n  - Evidence: %s %s %s %s",
				sample.TS, sample.Provider, formatEventID(sample.EventID), sample.Message)
		}
	}
	return b.String()
}
