package incident_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/data-agents/pkg/incident"
)

func taggedEvent(ts, provider, message string, eventID any, tags ...string) incident.Event {
	return incident.Event{
		TS:       ts,
		Level:    "Error",
		Provider: provider,
		EventID:  eventID,
		Message:  message,
		Tags:     tags,
	}
}

func TestDetectBSODSeverityScalesWithEvidence(t *testing.T) {
	events := []incident.Event{
		taggedEvent("2025-03-10T08:00:00Z", "Kernel-Power", "Unexpected shutdown 1", 41, "bsod"),
	}
	incidents := incident.DetectIncidentsForHost("host-01", events)
	require.Len(t, incidents, 1)
	assert.Equal(t, "bsod", incidents[0].Type)
	assert.Equal(t, 85, incidents[0].Severity)
	assert.InDelta(t, 0.75, incidents[0].Confidence, 1e-9)

	events = append(events, taggedEvent("2025-03-10T09:00:00Z", "Kernel-Power", "Unexpected shutdown 2", 41, "unexpected_shutdown"))
	incidents = incident.DetectIncidentsForHost("host-01", events)
	require.Len(t, incidents, 1)
	assert.Equal(t, 90, incidents[0].Severity)
	assert.InDelta(t, 0.9, incidents[0].Confidence, 1e-9)
}

func TestDetectServiceCrashNeedsRepetition(t *testing.T) {
	one := []incident.Event{
		taggedEvent("2025-03-10T08:00:00Z", "Service Control Manager", "Spooler terminated", 7031, "service_crash"),
	}
	assert.Empty(t, incident.DetectIncidentsForHost("host-01", one))

	three := append(one,
		taggedEvent("2025-03-10T08:05:00Z", "Service Control Manager", "Spooler terminated", 7031, "service_crash"),
		taggedEvent("2025-03-10T08:10:00Z", "Service Control Manager", "Spooler terminated", 7031, "service_crash"),
	)
	incidents := incident.DetectIncidentsForHost("host-01", three)
	require.Len(t, incidents, 1)
	assert.Equal(t, "service_crash_loop", incidents[0].Type)
	assert.Equal(t, 80, incidents[0].Severity)
	assert.InDelta(t, 0.85, incidents[0].Confidence, 1e-9)
}

func TestDetectDiskFullMatchesSourceSubstring(t *testing.T) {
	events := []incident.Event{
		{TS: "2025-03-10T08:00:00Z", Level: "Warning", Source: "Disk", Provider: "Ntfs", Message: "Volume C: is almost full"},
	}
	incidents := incident.DetectIncidentsForHost("host-01", events)
	require.Len(t, incidents, 1)
	assert.Equal(t, "disk_full", incidents[0].Type)
	assert.Equal(t, 70, incidents[0].Severity)
	assert.InDelta(t, 0.75, incidents[0].Confidence, 1e-9)
}

func TestDetectNetworkAndUpdateFailure(t *testing.T) {
	events := []incident.Event{
		taggedEvent("2025-03-10T08:00:00Z", "Tcpip", "Adapter reset", 4202, "network_reset"),
		taggedEvent("2025-03-10T08:01:00Z", "DNS Client", "Name resolution timed out", 1014, "dns_failure"),
		taggedEvent("2025-03-10T09:00:00Z", "WindowsUpdateClient", "Install failed 0x80070002", 20, "update_failure"),
		taggedEvent("2025-03-10T09:30:00Z", "WindowsUpdateClient", "Install failed 0x80070002", 20, "update_failure"),
	}
	incidents := incident.DetectIncidentsForHost("host-01", events)
	require.Len(t, incidents, 2)

	assert.Equal(t, "network_instability", incidents[0].Type)
	assert.Equal(t, 65, incidents[0].Severity)
	assert.InDelta(t, 0.7, incidents[0].Confidence, 1e-9)

	assert.Equal(t, "update_failure", incidents[1].Type)
	assert.Equal(t, 70, incidents[1].Severity)
	assert.InDelta(t, 0.75, incidents[1].Confidence, 1e-9)
}

func TestDetectorOrderAndIncidentIDs(t *testing.T) {
	events := []incident.Event{
		taggedEvent("2025-03-10T09:00:00Z", "Tcpip", "Adapter reset", 4202, "network_reset"),
		taggedEvent("2025-03-10T08:00:00Z", "Kernel-Power", "Unexpected shutdown", 41, "bsod"),
	}
	incidents := incident.DetectIncidentsForHost("host-07", events)
	require.Len(t, incidents, 2)
	assert.Equal(t, "bsod", incidents[0].Type)
	assert.Equal(t, "host-07-incident-1", incidents[0].ID)
	assert.Equal(t, "network_instability", incidents[1].Type)
	assert.Equal(t, "host-07-incident-2", incidents[1].ID)
}

func TestEvidenceMessagesAreTruncated(t *testing.T) {
	long := strings.Repeat("x", 600)
	events := []incident.Event{
		taggedEvent("2025-03-10T08:00:00Z", "Kernel-Power", long, 41, "bsod"),
	}
	incidents := incident.DetectIncidentsForHost("host-01", events)
	require.Len(t, incidents, 1)
	require.Len(t, incidents[0].Evidence, 1)
	message := incidents[0].Evidence[0].Message
	assert.Len(t, message, 512)
	assert.True(t, strings.HasSuffix(message, "..."))
}

func TestRecommendedActionsPerType(t *testing.T) {
	events := []incident.Event{
		taggedEvent("2025-03-10T08:00:00Z", "Kernel-Power", "Unexpected shutdown", 41, "bsod"),
	}
	incidents := incident.DetectIncidentsForHost("host-01", events)
	require.Len(t, incidents, 1)
	require.NotEmpty(t, incidents[0].RecommendedActions)
	assert.Contains(t, incidents[0].RecommendedActions[0], "minidump")
}
