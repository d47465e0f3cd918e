// Package cluster groups event ids into canonical-event clusters from the
// scored match decisions and validates each cluster's coherence.
package cluster

import (
	"sort"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/pkg/config"
)

// FailedCheck names a coherence check a cluster failed.
type FailedCheck string

const (
	CheckSize        FailedCheck = "size"
	CheckInternalSim FailedCheck = "internal_similarity"
	CheckDateSpread  FailedCheck = "date_spread"
)

// Cluster is one connected component of the match graph, ids sorted.
type Cluster struct {
	IDs          []string
	Singleton    bool
	FailedChecks []FailedCheck
	NeedsReview  bool
}

// Result is the full clustering outcome over a set of ids and decisions.
type Result struct {
	Clusters       []Cluster
	FlaggedCount   int
	SingletonCount int
}

// Build constructs the match graph over allIDs and the match-decision edges,
// computes connected components, and validates each non-singleton component
// against the configured coherence checks. allIDs must include every known
// event id, even ones with no match edges, so they surface as singletons.
func Build(allIDs []string, decisions []model.MatchDecision, daysByID map[string]map[string]struct{}, cfg config.ClusterConfig) Result {
	adjacency := make(map[string]map[string]float64, len(allIDs))
	for _, id := range allIDs {
		adjacency[id] = make(map[string]float64)
	}
	for _, d := range decisions {
		if d.Decision != model.DecisionMatch {
			continue
		}
		if _, ok := adjacency[d.IDA]; !ok {
			adjacency[d.IDA] = make(map[string]float64)
		}
		if _, ok := adjacency[d.IDB]; !ok {
			adjacency[d.IDB] = make(map[string]float64)
		}
		adjacency[d.IDA][d.IDB] = d.CombinedScore
		adjacency[d.IDB][d.IDA] = d.CombinedScore
	}

	components := connectedComponents(allIDs, adjacency)

	result := Result{}
	for _, comp := range components {
		sort.Strings(comp)
		c := Cluster{IDs: comp}
		if len(comp) == 1 {
			c.Singleton = true
			result.SingletonCount++
			result.Clusters = append(result.Clusters, c)
			continue
		}

		var failed []FailedCheck
		if len(comp) > cfg.MaxClusterSize {
			failed = append(failed, CheckSize)
		}
		if meanInternalWeight(comp, adjacency) < cfg.MinInternalSimilarity {
			failed = append(failed, CheckInternalSim)
		}
		if distinctDaySpan(comp, daysByID) > 3 {
			failed = append(failed, CheckDateSpread)
		}

		c.FailedChecks = failed
		c.NeedsReview = len(failed) > 0
		if c.NeedsReview {
			result.FlaggedCount++
		}
		result.Clusters = append(result.Clusters, c)
	}

	sort.Slice(result.Clusters, func(i, j int) bool {
		return result.Clusters[i].IDs[0] < result.Clusters[j].IDs[0]
	})

	return result
}

func connectedComponents(allIDs []string, adjacency map[string]map[string]float64) [][]string {
	visited := make(map[string]bool, len(allIDs))
	ordered := append([]string(nil), allIDs...)
	sort.Strings(ordered)

	var components [][]string
	for _, start := range ordered {
		if visited[start] {
			continue
		}
		stack := []string{start}
		visited[start] = true
		var comp []string
		for len(stack) > 0 {
			n := len(stack) - 1
			cur := stack[n]
			stack = stack[:n]
			comp = append(comp, cur)

			neighbors := make([]string, 0, len(adjacency[cur]))
			for nb := range adjacency[cur] {
				neighbors = append(neighbors, nb)
			}
			sort.Strings(neighbors)
			for _, nb := range neighbors {
				if !visited[nb] {
					visited[nb] = true
					stack = append(stack, nb)
				}
			}
		}
		components = append(components, comp)
	}
	return components
}

// meanInternalWeight averages the weight of every edge with both endpoints
// inside the cluster (each undirected edge counted once).
func meanInternalWeight(ids []string, adjacency map[string]map[string]float64) float64 {
	inCluster := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		inCluster[id] = struct{}{}
	}

	var sum float64
	var count int
	for _, a := range ids {
		for b, w := range adjacency[a] {
			if _, ok := inCluster[b]; !ok {
				continue
			}
			if a < b {
				sum += w
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func distinctDaySpan(ids []string, daysByID map[string]map[string]struct{}) int {
	all := make(map[string]struct{})
	for _, id := range ids {
		for day := range daysByID[id] {
			all[day] = struct{}{}
		}
	}
	return len(all)
}
