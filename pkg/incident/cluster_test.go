package incident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timelineWithIncidents(hostID string, incidents ...IncidentRecord) *Timeline {
	return &Timeline{
		SchemaVersion: "1.0",
		HostID:        hostID,
		Window:        Window{Start: "2025-03-10T08:00:00Z", End: "2025-03-10T11:00:00Z"},
		Incidents:     incidents,
		Severity:      hostSeverity(incidents),
	}
}

func record(hostID, incidentType, sigHash string, severity int) IncidentRecord {
	return IncidentRecord{
		SchemaVersion: "1.0",
		IncidentID:    hostID + "-incident-1",
		HostID:        hostID,
		Type:          incidentType,
		Window:        Window{Start: "2025-03-10T08:00:00Z", End: "2025-03-10T11:00:00Z"},
		Severity:      severity,
		Confidence:    0.9,
		Summary:       incidentType + " detected",
		Signature:     Signature{SignatureKey: incidentType + ":41|tpl", SignatureHash: sigHash},
	}
}

func TestAggregateClustersGroupsBySignature(t *testing.T) {
	timelines := map[string]*Timeline{
		"host-01": timelineWithIncidents("host-01", record("host-01", "bsod", "aaaaaaaaaaaa", 90)),
		"host-02": timelineWithIncidents("host-02", record("host-02", "bsod", "aaaaaaaaaaaa", 85)),
		"host-03": timelineWithIncidents("host-03", record("host-03", "disk_full", "bbbbbbbbbbbb", 70)),
	}

	clusters := aggregateClusters(timelines)
	require.Len(t, clusters, 2)

	// Highest severity cluster first.
	assert.Equal(t, "aaaaaaaaaaaa", clusters[0].SignatureHash)
	assert.Equal(t, 2, clusters[0].AffectedHosts)
	assert.Equal(t, []string{"host-01", "host-02"}, clusters[0].ExampleHosts)
	assert.Equal(t, 95, clusters[0].Severity) // max(90,85) + 5 per extra host
	require.NotNil(t, clusters[0].FirstSeen)
	assert.Equal(t, "2025-03-10T08:00:00Z", *clusters[0].FirstSeen)

	assert.Equal(t, "bbbbbbbbbbbb", clusters[1].SignatureHash)
	assert.Equal(t, 1, clusters[1].AffectedHosts)
	assert.Equal(t, 70, clusters[1].Severity)
}

func TestApplyClusterStatusDeltas(t *testing.T) {
	clusters := []Cluster{
		{SignatureHash: "aaaaaaaaaaaa", AffectedHosts: 4},
		{SignatureHash: "bbbbbbbbbbbb", AffectedHosts: 2},
		{SignatureHash: "cccccccccccc", AffectedHosts: 1},
	}
	prev := &HistoryEntry{Clusters: []HistoryCluster{
		{SignatureHash: "aaaaaaaaaaaa", AffectedHosts: 1},
		{SignatureHash: "bbbbbbbbbbbb", AffectedHosts: 2},
	}}
	applyClusterStatus(clusters, prev)

	assert.Equal(t, "spiking", clusters[0].Status)
	require.NotNil(t, clusters[0].DeltaAffectedHosts)
	assert.Equal(t, 3, *clusters[0].DeltaAffectedHosts)

	assert.Equal(t, "ongoing", clusters[1].Status)
	require.NotNil(t, clusters[1].DeltaAffectedHosts)
	assert.Equal(t, 0, *clusters[1].DeltaAffectedHosts)

	assert.Equal(t, "new", clusters[2].Status)
	assert.Nil(t, clusters[2].DeltaAffectedHosts)
}

func TestApplyClusterStatusFirstRun(t *testing.T) {
	clusters := []Cluster{{SignatureHash: "aaaaaaaaaaaa", AffectedHosts: 2}}
	applyClusterStatus(clusters, nil)
	assert.Equal(t, "new", clusters[0].Status)
	assert.Nil(t, clusters[0].DeltaAffectedHosts)
}

func TestActionForHost(t *testing.T) {
	intp := func(v int) *int { return &v }

	action, delta, reason := actionForHost(90, nil, false, false)
	assert.Equal(t, "contact", action)
	assert.Nil(t, delta)
	assert.Equal(t, "High severity or cluster spike", reason)

	action, _, _ = actionForHost(40, nil, true, false)
	assert.Equal(t, "contact", action)

	action, _, _ = actionForHost(40, nil, false, true)
	assert.Equal(t, "contact", action)

	// High score but flat trend is only monitored.
	action, delta, reason = actionForHost(75, intp(74), false, false)
	assert.Equal(t, "monitor", action)
	require.NotNil(t, delta)
	assert.Equal(t, 1, *delta)
	assert.Equal(t, "Moderate severity or trending up", reason)

	action, _, _ = actionForHost(40, intp(25), false, false)
	assert.Equal(t, "monitor", action)

	action, _, reason = actionForHost(30, intp(28), false, false)
	assert.Equal(t, "ignore", action)
	assert.Equal(t, "Low severity or stable", reason)
}

func TestTopHostsRankingAndCap(t *testing.T) {
	timelines := map[string]*Timeline{}
	for _, spec := range []struct {
		host string
		sev  int
	}{
		{"host-01", 90}, {"host-02", 90}, {"host-03", 70}, {"host-04", 20},
		{"host-05", 21}, {"host-06", 22}, {"host-07", 23}, {"host-08", 24},
		{"host-09", 25}, {"host-10", 26}, {"host-11", 27}, {"host-12", 28},
	} {
		timelines[spec.host] = timelineWithIncidents(spec.host, record(spec.host, "bsod", "aaaaaaaaaaaa", spec.sev))
	}

	hosts := topHosts(timelines)
	require.Len(t, hosts, 10)
	assert.Equal(t, "host-01", hosts[0].HostID)
	assert.Equal(t, "host-02", hosts[1].HostID)
	assert.Equal(t, "host-03", hosts[2].HostID)
	assert.Equal(t, []string{"host-01-incident-1"}, hosts[0].IncidentRefs)
	assert.Equal(t, []string{"bsod (sev 90)"}, hosts[0].Reasons)
}
