package cluster

import (
	"testing"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/pkg/config"
)

func decision(t *testing.T, a, b string, combined float64, d model.Decision) model.MatchDecision {
	t.Helper()
	md, err := model.NewMatchDecision(a, b, 0.8, 0.8, 0.8, 0.8, combined, d, model.TierDeterministic)
	if err != nil {
		t.Fatalf("NewMatchDecision: %v", err)
	}
	return md
}

func days(day string) map[string]struct{} {
	return map[string]struct{}{day: {}}
}

func TestBuild_CoversAllIDsExactlyOnce(t *testing.T) {
	ids := []string{"a1", "a2", "a3", "b1"}
	decisions := []model.MatchDecision{
		decision(t, "a1", "a2", 0.9, model.DecisionMatch),
	}
	daysByID := map[string]map[string]struct{}{
		"a1": days("2026-08-01"), "a2": days("2026-08-01"),
		"a3": days("2026-08-01"), "b1": days("2026-08-01"),
	}
	cfg := config.Default().Cluster

	result := Build(ids, decisions, daysByID, cfg)

	seen := make(map[string]int)
	for _, c := range result.Clusters {
		for _, id := range c.IDs {
			seen[id]++
		}
	}
	for _, id := range ids {
		if seen[id] != 1 {
			t.Fatalf("id %q covered %d times, want exactly 1", id, seen[id])
		}
	}
}

func TestBuild_MatchEdgesLandTogether(t *testing.T) {
	ids := []string{"a1", "a2", "b1"}
	decisions := []model.MatchDecision{
		decision(t, "a1", "a2", 0.9, model.DecisionMatch),
		decision(t, "a2", "b1", 0.2, model.DecisionNoMatch),
	}
	daysByID := map[string]map[string]struct{}{
		"a1": days("2026-08-01"), "a2": days("2026-08-01"), "b1": days("2026-08-01"),
	}
	result := Build(ids, decisions, daysByID, config.Default().Cluster)

	var grouped bool
	for _, c := range result.Clusters {
		if len(c.IDs) == 2 && c.IDs[0] == "a1" && c.IDs[1] == "a2" {
			grouped = true
		}
	}
	if !grouped {
		t.Fatalf("expected a1/a2 clustered together, got %+v", result.Clusters)
	}
	if result.SingletonCount != 1 {
		t.Fatalf("expected b1 as singleton, got singleton count %d", result.SingletonCount)
	}
}

func TestBuild_FlagsDateSpreadViolation(t *testing.T) {
	ids := []string{"a1", "a2"}
	decisions := []model.MatchDecision{
		decision(t, "a1", "a2", 0.9, model.DecisionMatch),
	}
	daysByID := map[string]map[string]struct{}{
		"a1": days("2026-08-01"),
		"a2": {"2026-08-01": {}, "2026-08-02": {}, "2026-08-03": {}, "2026-08-04": {}},
	}
	result := Build(ids, decisions, daysByID, config.Default().Cluster)

	if result.FlaggedCount != 1 {
		t.Fatalf("expected 1 flagged cluster for date spread, got %d", result.FlaggedCount)
	}
	if !result.Clusters[0].NeedsReview {
		t.Fatalf("expected cluster to need review")
	}
}

func TestBuild_FlagsLowInternalSimilarity(t *testing.T) {
	ids := []string{"a1", "a2", "a3"}
	decisions := []model.MatchDecision{
		decision(t, "a1", "a2", 0.20, model.DecisionMatch),
		decision(t, "a2", "a3", 0.20, model.DecisionMatch),
	}
	daysByID := map[string]map[string]struct{}{
		"a1": days("2026-08-01"), "a2": days("2026-08-01"), "a3": days("2026-08-01"),
	}
	result := Build(ids, decisions, daysByID, config.Default().Cluster)

	if result.FlaggedCount != 1 {
		t.Fatalf("expected cluster flagged for low internal similarity, got %d flagged", result.FlaggedCount)
	}
}

func TestBuild_SingletonsAreNotFlagged(t *testing.T) {
	ids := []string{"solo"}
	result := Build(ids, nil, map[string]map[string]struct{}{"solo": days("2026-08-01")}, config.Default().Cluster)
	if len(result.Clusters) != 1 || !result.Clusters[0].Singleton {
		t.Fatalf("expected single singleton cluster, got %+v", result.Clusters)
	}
	if result.Clusters[0].NeedsReview {
		t.Fatalf("singleton must not need review")
	}
}
