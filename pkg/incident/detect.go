package incident

import (
	"fmt"
	"strings"
)

// Incident is the in-flight result of one detector, before it is
// frozen into an IncidentRecord on a timeline.
type Incident struct {
	ID                 string
	Type               string
	Title              string
	Summary            string
	Severity           int
	Confidence         float64
	RecommendedActions []string
	Evidence           []EvidenceRecord
	ClusterSignature   string
	ClusterBasis       SignatureBasis
}

// EvidenceRecord is a trimmed copy of a source event. Messages longer
// than 512 characters are truncated with an ellipsis.
type EvidenceRecord struct {
	TS       string `json:"ts"`
	Provider string `json:"provider"`
	Level    string `json:"level"`
	Message  string `json:"message"`
	EventID  any    `json:"event_id,omitempty"`
	Source   string `json:"source,omitempty"`
	RecordID any    `json:"record_id,omitempty"`
}

// IncidentRecord is the persisted incident shape embedded in a host
// timeline.
type IncidentRecord struct {
	SchemaVersion      string           `json:"schema_version"`
	IncidentID         string           `json:"incident_id"`
	HostID             string           `json:"host_id"`
	Type               string           `json:"type"`
	Window             Window           `json:"window"`
	DetectedAt         string           `json:"detected_at"`
	Severity           int              `json:"severity"`
	Confidence         float64          `json:"confidence"`
	Summary            string           `json:"summary"`
	Signature          Signature        `json:"signature"`
	RecommendedActions []string         `json:"recommended_actions"`
	Evidence           []EvidenceRecord `json:"evidence"`
	Tags               []string         `json:"tags"`
}

func cleanEvidence(events []Event) []EvidenceRecord {
	cleaned := make([]EvidenceRecord, 0, len(events))
	for _, e := range events {
		message := e.Message
		if len(message) > 512 {
			message = message[:509] + "..."
		}
		cleaned = append(cleaned, EvidenceRecord{
			TS:       e.TS,
			Provider: e.Provider,
			Level:    e.Level,
			Message:  message,
			EventID:  e.EventID,
			Source:   e.Source,
			RecordID: e.RecordID,
		})
	}
	return cleaned
}

func recommendedActions(incidentType string) []string {
	switch incidentType {
	case "bsod":
		return []string{
			"Capture minidump and driver list before reboot loops clear them.",
			"Roll back or update the last installed driver/patch.",
		}
	case "disk_full":
		return []string{
			"Clear temp folders and large caches.",
			"Expand disk or reassign user data to secondary volume.",
		}
	case "service_crash_loop":
		return []string{
			"Review service logs for repeated stop codes.",
			"Restart service under supervisor and collect crash dumps.",
		}
	case "network_instability":
		return []string{
			"Reset adapter and DNS cache, verify driver version.",
			"Check site switch/appliance for correlated resets.",
		}
	case "update_failure":
		return []string{
			"Re-run updater with verbose logging enabled.",
			"Remove partially applied patches and retry.",
		}
	default:
		return []string{"Collect logs and escalate to tier 2."}
	}
}

func newIncident(incidentType, title, summary string, severity int, confidence float64, evidence []Event) *Incident {
	first := evidence[0]
	sig, basis := signatureForEvent(first.Provider, first.EventID, first.Message)
	return &Incident{
		Type:               incidentType,
		Title:              title,
		Summary:            summary,
		Severity:           severity,
		Confidence:         confidence,
		RecommendedActions: recommendedActions(incidentType),
		Evidence:           cleanEvidence(evidence),
		ClusterSignature:   sig,
		ClusterBasis:       basis,
	}
}

func detectBSOD(events []Event) *Incident {
	var evidence []Event
	for _, e := range events {
		if e.hasTag("bsod") || e.hasTag("unexpected_shutdown") {
			evidence = append(evidence, e)
		}
	}
	if len(evidence) == 0 {
		return nil
	}
	severity := min(100, 85+5*(len(evidence)-1))
	confidence := 0.75
	if len(evidence) > 1 {
		confidence = 0.9
	}
	return newIncident("bsod",
		"Blue screen / unexpected shutdown",
		"Detected blue screen or unexpected shutdown events",
		severity, confidence, evidence)
}

func detectDiskFull(events []Event) *Incident {
	var evidence []Event
	for _, e := range events {
		if e.hasTag("disk_full") || strings.Contains(strings.ToLower(e.Source), "disk") {
			evidence = append(evidence, e)
		}
	}
	if len(evidence) == 0 {
		return nil
	}
	severity := min(95, 70+5*(len(evidence)-1))
	confidence := min(0.95, 0.7+0.05*float64(len(evidence)))
	return newIncident("disk_full",
		"Disk near capacity",
		"Disk usage approaching capacity",
		severity, confidence, evidence)
}

func detectServiceCrash(events []Event) *Incident {
	var evidence []Event
	for _, e := range events {
		if e.hasTag("service_crash") || strings.Contains(strings.ToLower(e.Provider), "service control manager") {
			evidence = append(evidence, e)
		}
	}
	if len(evidence) < 2 {
		return nil
	}
	severity := min(90, 65+5*min(5, len(evidence)))
	confidence := min(0.95, 0.7+0.05*float64(len(evidence)))
	return newIncident("service_crash_loop",
		"Service crash loop detected",
		"Repeated service crashes detected",
		severity, confidence, evidence)
}

func detectNetwork(events []Event) *Incident {
	var evidence []Event
	for _, e := range events {
		if e.hasTag("network_reset") || e.hasTag("dns_failure") {
			evidence = append(evidence, e)
		}
	}
	if len(evidence) == 0 {
		return nil
	}
	severity := min(85, 55+5*min(6, len(evidence)))
	confidence := min(0.9, 0.6+0.05*float64(len(evidence)))
	return newIncident("network_instability",
		"Network adapter resets / DNS failures",
		"Network instability detected",
		severity, confidence, evidence)
}

func detectUpdateFailure(events []Event) *Incident {
	var evidence []Event
	for _, e := range events {
		if e.hasTag("update_failure") || strings.Contains(strings.ToLower(e.Source), "update") {
			evidence = append(evidence, e)
		}
	}
	if len(evidence) == 0 {
		return nil
	}
	severity := min(90, 65+5*min(4, len(evidence)-1))
	confidence := min(0.9, 0.65+0.05*float64(len(evidence)))
	return newIncident("update_failure",
		"Update or install failure burst",
		"Repeated update or install failures",
		severity, confidence, evidence)
}

// DetectIncidentsForHost runs every detector in fixed order and
// numbers the hits per host.
func DetectIncidentsForHost(hostID string, events []Event) []*Incident {
	detectors := []func([]Event) *Incident{
		detectBSOD,
		detectDiskFull,
		detectServiceCrash,
		detectNetwork,
		detectUpdateFailure,
	}
	var incidents []*Incident
	for _, detect := range detectors {
		if incident := detect(events); incident != nil {
			incident.ID = fmt.Sprintf("%s-incident-%d", hostID, len(incidents)+1)
			incidents = append(incidents, incident)
		}
	}
	return incidents
}
