package incident

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Cluster is one signature group in the fleet summary.
type Cluster struct {
	SignatureHash      string   `json:"signature_hash"`
	SignatureKey       string   `json:"signature_key"`
	Type               string   `json:"type"`
	AffectedHosts      int      `json:"affected_hosts"`
	ExampleHosts       []string `json:"example_hosts"`
	Severity           int      `json:"severity"`
	FirstSeen          *string  `json:"first_seen,omitempty"`
	LastSeen           *string  `json:"last_seen,omitempty"`
	Status             string   `json:"status"`
	DeltaAffectedHosts *int     `json:"delta_affected_hosts"`
}

// TopHost is one ranked host in the fleet summary. UserID is omitted
// entirely when the snapshot had none.
type TopHost struct {
	HostID       string   `json:"host_id"`
	UserID       *string  `json:"user_id,omitempty"`
	Score        int      `json:"score"`
	Reasons      []string `json:"reasons"`
	IncidentRefs []string `json:"incident_refs"`
	Action       string   `json:"action"`
	DeltaScore   *int     `json:"delta_score"`
	ActionReason string   `json:"action_reason"`
}

// FleetSummary is the run-level artifact at fleet_summary.json.
type FleetSummary struct {
	SchemaVersion    string    `json:"schema_version"`
	RunID            string    `json:"run_id"`
	GeneratedAt      string    `json:"generated_at"`
	Window           Window    `json:"window"`
	HostCount        int       `json:"host_count"`
	IncidentCount    int       `json:"incident_count"`
	OverallRiskScore int       `json:"overall_risk_score"`
	TopHosts         []TopHost `json:"top_hosts"`
	Clusters         []Cluster `json:"clusters"`
}

func sortedHostIDs(timelines map[string]*Timeline) []string {
	ids := make([]string, 0, len(timelines))
	for id := range timelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// aggregateClusters groups every incident across the fleet by its
// signature hash. Cluster severity is the max incident severity plus 5
// per additional affected host, capped at 100.
func aggregateClusters(timelines map[string]*Timeline) []Cluster {
	type clusterAccum struct {
		signatureHash string
		signatureKey  string
		incidentType  string
		hosts         map[string]bool
		severity      int
		firstSeen     *time.Time
		lastSeen      *time.Time
	}

	accums := map[string]*clusterAccum{}
	var order []string
	for _, hostID := range sortedHostIDs(timelines) {
		for _, inc := range timelines[hostID].Incidents {
			sigHash := inc.Signature.SignatureHash
			if sigHash == "" {
				continue
			}
			accum, ok := accums[sigHash]
			if !ok {
				accum = &clusterAccum{
					signatureHash: sigHash,
					signatureKey:  inc.Signature.SignatureKey,
					incidentType:  inc.Type,
					hosts:         map[string]bool{},
				}
				accums[sigHash] = accum
				order = append(order, sigHash)
			}
			accum.hosts[hostID] = true
			if inc.Severity > accum.severity {
				accum.severity = inc.Severity
			}
			start, startOK := parseTS(inc.Window.Start)
			end, endOK := parseTS(inc.Window.End)
			if !startOK || !endOK {
				continue
			}
			if accum.firstSeen == nil || start.Before(*accum.firstSeen) {
				accum.firstSeen = &start
			}
			if accum.lastSeen == nil || end.After(*accum.lastSeen) {
				accum.lastSeen = &end
			}
		}
	}

	clusters := make([]Cluster, 0, len(order))
	for _, sigHash := range order {
		accum := accums[sigHash]
		hosts := make([]string, 0, len(accum.hosts))
		for host := range accum.hosts {
			hosts = append(hosts, host)
		}
		sort.Strings(hosts)
		examples := hosts
		if len(examples) > 20 {
			examples = examples[:20]
		}
		cluster := Cluster{
			SignatureHash: accum.signatureHash,
			SignatureKey:  accum.signatureKey,
			Type:          accum.incidentType,
			AffectedHosts: len(accum.hosts),
			ExampleHosts:  examples,
			Severity:      min(100, accum.severity+5*(len(accum.hosts)-1)),
		}
		if accum.firstSeen != nil {
			first := accum.firstSeen.Format(time.RFC3339)
			cluster.FirstSeen = &first
		}
		if accum.lastSeen != nil {
			last := accum.lastSeen.Format(time.RFC3339)
			cluster.LastSeen = &last
		}
		clusters = append(clusters, cluster)
	}

	sort.SliceStable(clusters, func(i, j int) bool {
		if clusters[i].Severity != clusters[j].Severity {
			return clusters[i].Severity > clusters[j].Severity
		}
		return clusters[i].AffectedHosts > clusters[j].AffectedHosts
	})
	return clusters
}

// applyClusterStatus marks each cluster new, spiking (two or more new
// hosts since the previous run), or ongoing.
func applyClusterStatus(clusters []Cluster, prev *HistoryEntry) {
	if prev == nil {
		for i := range clusters {
			clusters[i].Status = "new"
			clusters[i].DeltaAffectedHosts = nil
		}
		return
	}
	prevMap := map[string]HistoryCluster{}
	for _, c := range prev.Clusters {
		prevMap[c.SignatureHash] = c
	}
	for i := range clusters {
		prevCluster, seen := prevMap[clusters[i].SignatureHash]
		if !seen {
			clusters[i].Status = "new"
			clusters[i].DeltaAffectedHosts = nil
			continue
		}
		delta := clusters[i].AffectedHosts - prevCluster.AffectedHosts
		clusters[i].DeltaAffectedHosts = &delta
		if delta >= 2 {
			clusters[i].Status = "spiking"
		} else {
			clusters[i].Status = "ongoing"
		}
	}
}

// topHosts ranks hosts by severity score, then incident count, and
// keeps the top ten.
func topHosts(timelines map[string]*Timeline) []TopHost {
	hosts := make([]TopHost, 0, len(timelines))
	for _, hostID := range sortedHostIDs(timelines) {
		timeline := timelines[hostID]
		refs := make([]string, 0, len(timeline.Incidents))
		reasons := make([]string, 0, len(timeline.Incidents))
		for _, inc := range timeline.Incidents {
			if inc.IncidentID != "" {
				refs = append(refs, inc.IncidentID)
			}
			reasons = append(reasons, fmt.Sprintf("%s (sev %d)", inc.Type, inc.Severity))
		}
		hosts = append(hosts, TopHost{
			HostID:       hostID,
			UserID:       timeline.UserID,
			Score:        timeline.Severity,
			Reasons:      reasons,
			IncidentRefs: refs,
		})
	}
	sort.SliceStable(hosts, func(i, j int) bool {
		if hosts[i].Score != hosts[j].Score {
			return hosts[i].Score > hosts[j].Score
		}
		return len(hosts[i].IncidentRefs) > len(hosts[j].IncidentRefs)
	})
	if len(hosts) > 10 {
		hosts = hosts[:10]
	}
	return hosts
}

// actionForHost decides contact / monitor / ignore for one host.
func actionForHost(score int, prevScore *int, hasClusterSpike, hasNewCritical bool) (string, *int, string) {
	var delta *int
	if prevScore != nil {
		d := score - *prevScore
		delta = &d
	}
	if hasNewCritical || hasClusterSpike || (score >= 70 && (prevScore == nil || (delta != nil && *delta >= 5))) {
		return "contact", delta, "High severity or cluster spike"
	}
	if score >= 50 || (delta != nil && *delta >= 10) {
		return "monitor", delta, "Moderate severity or trending up"
	}
	return "ignore", delta, "Low severity or stable"
}

// BuildFleetSummary assembles the fleet artifact: clusters with status
// deltas, ranked hosts with recommended actions, the union window, and
// the overall risk score.
func (p *Pipeline) BuildFleetSummary(runID string, timelines map[string]*Timeline, prev *HistoryEntry) FleetSummary {
	clusters := aggregateClusters(timelines)
	applyClusterStatus(clusters, prev)
	hosts := topHosts(timelines)

	clusterByHash := map[string]*Cluster{}
	for i := range clusters {
		clusterByHash[clusters[i].SignatureHash] = &clusters[i]
	}
	hostClusters := map[string][]*Cluster{}
	for hostID, timeline := range timelines {
		for _, inc := range timeline.Incidents {
			if cluster, ok := clusterByHash[inc.Signature.SignatureHash]; ok {
				hostClusters[hostID] = append(hostClusters[hostID], cluster)
			}
		}
	}

	prevScores := map[string]int{}
	if prev != nil {
		for _, h := range prev.TopHosts {
			prevScores[h.HostID] = h.Score
		}
	}
	for i := range hosts {
		related := hostClusters[hosts[i].HostID]
		hasSpike, hasNew := false, false
		for _, cluster := range related {
			switch cluster.Status {
			case "spiking":
				hasSpike = true
			case "new":
				hasNew = true
			}
		}
		hasCritical := false
		for _, reason := range hosts[i].Reasons {
			lower := strings.ToLower(reason)
			if strings.Contains(lower, "bsod") || strings.Contains(lower, "unexpected_shutdown") {
				hasCritical = true
				break
			}
		}
		var prevScore *int
		if score, seen := prevScores[hosts[i].HostID]; seen {
			prevScore = &score
		}
		action, delta, reason := actionForHost(hosts[i].Score, prevScore, hasSpike, hasNew || hasCritical)
		hosts[i].Action = action
		hosts[i].DeltaScore = delta
		hosts[i].ActionReason = reason
	}

	overall := 0
	if len(hosts) > 0 {
		top := hosts
		if len(top) > 5 {
			top = top[:5]
		}
		sum := 0
		for _, h := range top {
			sum += h.Score
		}
		overall = min(100, sum/len(top)+len(clusters)*2)
	}

	window := Window{}
	for _, timeline := range timelines {
		w := timeline.Window
		if w.Start != "" && (window.Start == "" || w.Start < window.Start) {
			window.Start = w.Start
		}
		if w.End != "" && (window.End == "" || w.End > window.End) {
			window.End = w.End
		}
	}
	if window.Start == "" {
		window.Start = isoUTC(p.now())
	}
	if window.End == "" {
		window.End = window.Start
	}

	incidentCount := 0
	for _, timeline := range timelines {
		incidentCount += len(timeline.Incidents)
	}
	return FleetSummary{
		SchemaVersion:    "1.0",
		RunID:            runID,
		GeneratedAt:      isoUTC(p.now()),
		Window:           window,
		HostCount:        len(timelines),
		IncidentCount:    incidentCount,
		OverallRiskScore: overall,
		TopHosts:         hosts,
		Clusters:         clusters,
	}
}
