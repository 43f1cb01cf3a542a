package incident_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/data-agents/pkg/artifacts"
	"github.com/Mindburn-Labs/data-agents/pkg/incident"
	"github.com/Mindburn-Labs/data-agents/pkg/runpointer"
	"github.com/Mindburn-Labs/data-agents/pkg/schemas"
	"github.com/Mindburn-Labs/data-agents/pkg/shadow"
)

func bsodEvents() []incident.Event {
	return []incident.Event{
		{TS: "2025-03-10T09:00:00Z", Level: "Critical", Provider: "Kernel-Power", EventID: 41,
			Message: "The system rebooted unexpectedly 1", Tags: []string{"bsod"}},
		{TS: "2025-03-10T10:00:00Z", Level: "Critical", Provider: "Kernel-Power", EventID: 41,
			Message: "The system rebooted unexpectedly 2", Tags: []string{"bsod"}},
	}
}

// seedFleetRun writes three schema-valid host snapshots: two hosts that
// share a bsod signature and one with a disk warning.
func seedFleetRun(t *testing.T, store artifacts.Store, runID string) {
	t.Helper()

	alice := "alice"
	hostOne := baseSnapshot("host-01", "2025-03-10T08:00:00Z", "2025-03-10T11:00:00Z", bsodEvents()...)
	hostOne.UserID = &alice
	writeSnapshot(t, store, runID+"/snapshots/host-01/snapshot-20250310T110000Z.json", hostOne)

	hostTwo := baseSnapshot("host-02", "2025-03-10T08:00:00Z", "2025-03-10T11:00:00Z", bsodEvents()...)
	writeSnapshot(t, store, runID+"/snapshots/host-02/snapshot-20250310T110000Z.json", hostTwo)

	hostThree := baseSnapshot("host-03", "2025-03-10T08:00:00Z", "2025-03-10T11:00:00Z",
		incident.Event{TS: "2025-03-10T09:30:00Z", Level: "Warning", Source: "Disk", Provider: "Ntfs",
			Message: "Volume nearly full, cleanup mail sent to alice@example.com"})
	writeSnapshot(t, store, runID+"/snapshots/host-03/snapshot-20250310T110000Z.json", hostThree)
}

func newTestPipeline(store artifacts.Store) *incident.Pipeline {
	return incident.NewPipeline(store, schemas.MustValidator(),
		incident.WithPipelineClock(fixedClock("2025-03-10T12:00:00Z")))
}

func newTestWorker(store artifacts.Store) *incident.Worker {
	return incident.NewWorker(newTestPipeline(store), "", 30*time.Minute, nil)
}

func shadowStages(t *testing.T, store artifacts.Store, runID string) []string {
	t.Helper()
	entries, err := shadow.New(store, runID).Entries(context.Background())
	require.NoError(t, err)
	stages := make([]string, 0, len(entries))
	for _, entry := range entries {
		if stage, ok := entry["stage"].(string); ok {
			stages = append(stages, stage)
		}
	}
	return stages
}

func fleetParams(runID string) incident.RunParams {
	return incident.RunParams{
		RunID:          runID,
		RetentionHours: 48,
		WindowHours:    24,
		SelectMode:     "latest",
	}
}

func TestWorkerRunEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	seedFleetRun(t, store, "run-A")

	// An expired run from last week should be purged on the way out.
	old := summaryForRun("run-ancient", 40)
	old.GeneratedAt = "2025-03-01T12:00:00.000000Z"
	require.NoError(t, artifacts.WriteJSON(ctx, store, "run-ancient/fleet_summary.json", old))

	result, err := newTestWorker(store).Run(ctx, fleetParams("run-A"))
	require.NoError(t, err)

	fleet := result.Fleet
	assert.Equal(t, 3, fleet.HostCount)
	assert.Equal(t, 3, fleet.IncidentCount)
	assert.Equal(t, 87, fleet.OverallRiskScore)
	assert.Equal(t, "2025-03-10T08:00:00Z", fleet.Window.Start)
	assert.Equal(t, "2025-03-10T11:00:00Z", fleet.Window.End)

	require.Len(t, fleet.Clusters, 2)
	bsodCluster := fleet.Clusters[0]
	assert.Equal(t, "bsod", bsodCluster.Type)
	assert.Equal(t, 2, bsodCluster.AffectedHosts)
	assert.Equal(t, 95, bsodCluster.Severity)
	assert.Equal(t, "new", bsodCluster.Status)
	assert.Nil(t, bsodCluster.DeltaAffectedHosts)
	assert.Equal(t, []string{"host-01", "host-02"}, bsodCluster.ExampleHosts)

	require.Len(t, fleet.TopHosts, 3)
	assert.Equal(t, "host-01", fleet.TopHosts[0].HostID)
	assert.Equal(t, 90, fleet.TopHosts[0].Score)
	assert.Equal(t, "contact", fleet.TopHosts[0].Action)
	require.NotNil(t, fleet.TopHosts[0].UserID)
	assert.Equal(t, "alice", *fleet.TopHosts[0].UserID)

	// Persisted artifacts.
	for _, key := range []string{
		"run-A/hosts/host-01/timeline.json",
		"run-A/hosts/host-01/report.md",
		"run-A/fleet_summary.json",
		"run-A/run_status.json",
		"history/run-A.json",
	} {
		exists, err := store.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists, key)
	}

	var status incident.RunStatus
	require.NoError(t, artifacts.ReadJSON(ctx, store, "run-A/run_status.json", &status))
	assert.Equal(t, "success", status.Status)
	assert.Equal(t, "completed", status.Message)

	latest, err := runpointer.Read(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "run-A", latest)

	// Lock is gone after the run.
	locked, err := store.Exists(ctx, incident.DefaultLockKey)
	require.NoError(t, err)
	assert.False(t, locked)

	assert.Equal(t, []string{"run-ancient"}, result.PurgedRuns)

	stages := shadowStages(t, store, "run-A")
	assert.Contains(t, stages, "start")
	assert.Contains(t, stages, "timeline")
	assert.Contains(t, stages, "write_host")
	assert.Contains(t, stages, "fleet")
	assert.Contains(t, stages, "done")
	assert.Contains(t, stages, "retention")
}

func TestPipelineRedactsAndNullsUserID(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	seedFleetRun(t, store, "run-A")

	_, err := newTestWorker(store).Run(ctx, fleetParams("run-A"))
	require.NoError(t, err)

	// host-02 had no user: the field must be present and null.
	raw, err := store.ReadBytes(ctx, "run-A/hosts/host-02/timeline.json")
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	value, present := doc["user_id"]
	assert.True(t, present)
	assert.Nil(t, value)

	// host-02's entry in top_hosts omits user_id entirely.
	raw, err = store.ReadBytes(ctx, "run-A/fleet_summary.json")
	require.NoError(t, err)
	var fleetDoc struct {
		TopHosts []map[string]any `json:"top_hosts"`
	}
	require.NoError(t, json.Unmarshal(raw, &fleetDoc))
	for _, host := range fleetDoc.TopHosts {
		if host["host_id"] == "host-02" {
			_, present := host["user_id"]
			assert.False(t, present)
		}
	}

	// Email in the disk event was scrubbed before persistence.
	var timeline incident.Timeline
	require.NoError(t, artifacts.ReadJSON(ctx, store, "run-A/hosts/host-03/timeline.json", &timeline))
	require.Len(t, timeline.Events, 1)
	assert.Contains(t, timeline.Events[0].Message, "[REDACTED_EMAIL]")
	assert.NotContains(t, timeline.Events[0].Message, "alice@example.com")
	assert.Equal(t, []map[string]any{}, timeline.Tickets)
}

func TestPipelineAttachesTickets(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	seedFleetRun(t, store, "run-A")
	require.NoError(t, artifacts.WriteJSON(ctx, store, "run-A/tickets/ticket-001.json", map[string]any{
		"schema_version": "1.0",
		"ticket_id":      "ticket-001",
		"source":         "helpdesk",
		"created_at":     "2025-03-10T10:30:00Z",
		"host_id":        "host-01",
		"subject":        "Machine keeps restarting",
	}))

	_, err := newTestWorker(store).Run(ctx, fleetParams("run-A"))
	require.NoError(t, err)

	var timeline incident.Timeline
	require.NoError(t, artifacts.ReadJSON(ctx, store, "run-A/hosts/host-01/timeline.json", &timeline))
	require.Len(t, timeline.Tickets, 1)
	assert.Equal(t, "ticket-001", timeline.Tickets[0]["ticket_id"])
}

func TestSecondRunComputesDeltas(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()

	seedFleetRun(t, store, "run-A")
	_, err := newTestWorker(store).Run(ctx, fleetParams("run-A"))
	require.NoError(t, err)

	seedFleetRun(t, store, "run-B")
	result, err := newTestWorker(store).Run(ctx, fleetParams("run-B"))
	require.NoError(t, err)

	require.Len(t, result.Fleet.Clusters, 2)
	for _, cluster := range result.Fleet.Clusters {
		assert.Equal(t, "ongoing", cluster.Status)
		require.NotNil(t, cluster.DeltaAffectedHosts)
		assert.Equal(t, 0, *cluster.DeltaAffectedHosts)
	}
	require.NotEmpty(t, result.Fleet.TopHosts)
	require.NotNil(t, result.Fleet.TopHosts[0].DeltaScore)
	assert.Equal(t, 0, *result.Fleet.TopHosts[0].DeltaScore)

	latest, err := runpointer.Read(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "run-B", latest)
}

func TestWorkerRefusesHeldLock(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	seedFleetRun(t, store, "run-A")

	holder := incident.NewLocker(store, "", 30*time.Minute, fixedClock("2025-03-10T11:55:00Z"))
	acquired, _, err := holder.Acquire(ctx, "run-other")
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = newTestWorker(store).Run(ctx, fleetParams("run-A"))
	require.ErrorIs(t, err, incident.ErrLockHeld)

	stages := shadowStages(t, store, "run-A")
	assert.Equal(t, []string{"lock"}, stages)

	exists, err := store.Exists(ctx, "run-A/run_status.json")
	require.NoError(t, err)
	assert.False(t, exists)

	// The foreign lock survives the refused run.
	exists, err = store.Exists(ctx, incident.DefaultLockKey)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWorkerRecordsFailure(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()

	// Snapshot missing its snapshot_id: loads fine, fails schema checks.
	bad := baseSnapshot("host-01", "2025-03-10T08:00:00Z", "2025-03-10T11:00:00Z", bsodEvents()...)
	bad.SnapshotID = ""
	writeSnapshot(t, store, "run-A/snapshots/host-01/snapshot-20250310T110000Z.json", bad)

	_, err := newTestWorker(store).Run(ctx, fleetParams("run-A"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Schema validation failed")

	var status incident.RunStatus
	require.NoError(t, artifacts.ReadJSON(ctx, store, "run-A/run_status.json", &status))
	assert.Equal(t, "failure", status.Status)

	stages := shadowStages(t, store, "run-A")
	assert.Contains(t, stages, "error")

	locked, err := store.Exists(ctx, incident.DefaultLockKey)
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestPipelineReadsSnapshotsFromSeparateStore(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	snapStore := artifacts.NewMemStore()
	seedFleetRun(t, snapStore, "feed")

	pipeline := incident.NewPipeline(store, schemas.MustValidator(),
		incident.WithPipelineClock(fixedClock("2025-03-10T12:00:00Z")),
		incident.WithSnapshotStore(snapStore))

	prefix := "feed/snapshots"
	params := fleetParams("run-A")
	params.SnapshotPrefix = &prefix
	result, err := pipeline.Run(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Fleet.HostCount)

	// Artifacts land in the main store, not the snapshot feed.
	exists, err := store.Exists(ctx, "run-A/fleet_summary.json")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = snapStore.Exists(ctx, "run-A/fleet_summary.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHostReportRendering(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()
	seedFleetRun(t, store, "run-A")

	_, err := newTestWorker(store).Run(ctx, fleetParams("run-A"))
	require.NoError(t, err)

	report, err := store.ReadText(ctx, "run-A/hosts/host-01/report.md")
	require.NoError(t, err)
	assert.Contains(t, report, "# Host report: host-01")
	assert.Contains(t, report, "Window: 2025-03-10T08:00:00Z → 2025-03-10T11:00:00Z")
	assert.Contains(t, report, "- [90] Detected blue screen or unexpected shutdown events (type=bsod, confidence=0.9)")
	assert.Contains(t, report, "- Action: Capture minidump")

	// Quiet host: no incidents section at all.
	quiet := baseSnapshot("host-99", "2025-03-10T08:00:00Z", "2025-03-10T11:00:00Z")
	writeSnapshot(t, store, "run-C/snapshots/host-99/snapshot-20250310T110000Z.json", quiet)
	_, err = newTestWorker(store).Run(ctx, fleetParams("run-C"))
	require.NoError(t, err)
	report, err = store.ReadText(ctx, "run-C/hosts/host-99/report.md")
	require.NoError(t, err)
	assert.Contains(t, report, "No incidents detected.")
}

func TestPipelineEmptyFleet(t *testing.T) {
	ctx := context.Background()
	store := artifacts.NewMemStore()

	result, err := newTestWorker(store).Run(ctx, fleetParams("run-empty"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Fleet.HostCount)
	assert.Equal(t, 0, result.Fleet.OverallRiskScore)
	assert.Empty(t, result.Fleet.TopHosts)
	assert.Equal(t, "2025-03-10T12:00:00.000000Z", result.Fleet.Window.Start)
	assert.Equal(t, result.Fleet.Window.Start, result.Fleet.Window.End)
}
