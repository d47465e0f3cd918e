package eval

import (
	"testing"

	"github.com/regioevents/dedupe/internal/model"
)

func md(t *testing.T, a, b string, decision model.Decision, combined float64) model.MatchDecision {
	t.Helper()
	d, err := model.NewMatchDecision(a, b, 0.5, 0.5, 0.5, 0.5, combined, decision, model.TierDeterministic)
	if err != nil {
		t.Fatalf("NewMatchDecision: %v", err)
	}
	return d
}

func TestEvaluate_PrecisionRecallF1(t *testing.T) {
	predicted := []model.MatchDecision{
		md(t, "a1", "a2", model.DecisionMatch, 0.9),
		md(t, "a3", "a4", model.DecisionMatch, 0.8),
		md(t, "a5", "a6", model.DecisionNoMatch, 0.2),
	}
	groundTruth := []model.GroundTruthPair{
		{IDA: "a1", IDB: "a2", Label: model.LabelSame},
		{IDA: "a3", IDB: "a4", Label: model.LabelDifferent},
		{IDA: "a5", IDB: "a6", Label: model.LabelSame},
	}

	metrics := Evaluate(predicted, groundTruth)
	if metrics.TruePositives != 1 || metrics.FalsePositives != 1 || metrics.FalseNegatives != 1 {
		t.Fatalf("unexpected confusion counts: %+v", metrics)
	}
	if metrics.Precision != 0.5 || metrics.Recall != 0.5 {
		t.Fatalf("unexpected precision/recall: %+v", metrics)
	}
}

func TestEvaluate_ExcludesAmbiguousLabels(t *testing.T) {
	predicted := []model.MatchDecision{md(t, "a1", "a2", model.DecisionMatch, 0.9)}
	groundTruth := []model.GroundTruthPair{{IDA: "a1", IDB: "a2", Label: model.LabelAmbiguous}}

	metrics := Evaluate(predicted, groundTruth)
	if metrics.TruePositives+metrics.FalsePositives+metrics.FalseNegatives != 0 {
		t.Fatalf("ambiguous ground truth must not contribute to metrics: %+v", metrics)
	}
}

func TestThresholdSweep_HigherThresholdLowersRecall(t *testing.T) {
	decisions := []model.MatchDecision{md(t, "a1", "a2", model.DecisionMatch, 0.6)}
	groundTruth := []model.GroundTruthPair{{IDA: "a1", IDB: "a2", Label: model.LabelSame}}

	result := ThresholdSweep(decisions, groundTruth, []float64{0.5, 0.7})
	if result[0.5].Recall != 1.0 {
		t.Fatalf("expected recall 1.0 at threshold 0.5, got %+v", result[0.5])
	}
	if result[0.7].Recall != 0.0 {
		t.Fatalf("expected recall 0.0 at threshold 0.7, got %+v", result[0.7])
	}
}

func TestFilterByCategory(t *testing.T) {
	predicted := []model.MatchDecision{
		md(t, "a1", "a2", model.DecisionMatch, 0.9),
		md(t, "b1", "b2", model.DecisionMatch, 0.9),
	}
	groundTruth := []model.GroundTruthPair{
		{IDA: "a1", IDB: "a2", Label: model.LabelSame},
		{IDA: "b1", IDB: "b2", Label: model.LabelSame},
	}
	categories := map[string]map[string]struct{}{
		"a1": {"musik": {}}, "a2": {"musik": {}},
		"b1": {"sport": {}}, "b2": {"sport": {}},
	}

	filteredPredicted, filteredGT := FilterByCategory(predicted, groundTruth, categories, "musik")
	if len(filteredPredicted) != 1 || filteredPredicted[0].IDA != "a1" {
		t.Fatalf("expected only the musik pair, got %+v", filteredPredicted)
	}
	if len(filteredGT) != 1 {
		t.Fatalf("expected ground truth filtered to musik pair, got %+v", filteredGT)
	}
}
