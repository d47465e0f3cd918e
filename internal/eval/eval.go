// Package eval scores predicted match decisions against a labeled
// ground-truth set: precision/recall/F1, a threshold sweep over stored
// signal scores, and a category-subset filter.
package eval

import (
	"github.com/regioevents/dedupe/internal/model"
)

// Metrics holds the standard classification metrics over same/different
// ground truth (ambiguous labels are excluded).
type Metrics struct {
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Evaluate compares predicted decisions to ground truth, treating
// decision==match as a predicted positive. Ambiguous ground-truth labels
// are excluded from scoring.
func Evaluate(predicted []model.MatchDecision, groundTruth []model.GroundTruthPair) Metrics {
	predictedMatch := make(map[string]bool, len(predicted))
	for _, d := range predicted {
		predictedMatch[d.PairKey()] = d.Decision == model.DecisionMatch
	}

	var tp, fp, fn int
	for _, gt := range groundTruth {
		if gt.Label == model.LabelAmbiguous {
			continue
		}
		key := pairKey(gt.IDA, gt.IDB)
		isPredictedMatch := predictedMatch[key]
		isActualMatch := gt.Label == model.LabelSame

		switch {
		case isPredictedMatch && isActualMatch:
			tp++
		case isPredictedMatch && !isActualMatch:
			fp++
		case !isPredictedMatch && isActualMatch:
			fn++
		}
	}

	return computeMetrics(tp, fp, fn)
}

func computeMetrics(tp, fp, fn int) Metrics {
	m := Metrics{TruePositives: tp, FalsePositives: fp, FalseNegatives: fn}
	if tp+fp > 0 {
		m.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		m.Recall = float64(tp) / float64(tp+fn)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

// ThresholdSweep replays stored combined scores through alternate "high"
// thresholds without rerunning scoring, returning metrics keyed by
// threshold.
func ThresholdSweep(decisions []model.MatchDecision, groundTruth []model.GroundTruthPair, thresholds []float64) map[float64]Metrics {
	out := make(map[float64]Metrics, len(thresholds))
	for _, high := range thresholds {
		replayed := make([]model.MatchDecision, 0, len(decisions))
		for _, d := range decisions {
			decision := model.DecisionNoMatch
			if d.CombinedScore >= high {
				decision = model.DecisionMatch
			}
			replayed = append(replayed, model.MatchDecision{
				IDA: d.IDA, IDB: d.IDB, CombinedScore: d.CombinedScore, Decision: decision, Tier: d.Tier,
			})
		}
		out[high] = Evaluate(replayed, groundTruth)
	}
	return out
}

// FilterByCategory restricts ground truth and predicted decisions to pairs
// where either event's category set contains category.
func FilterByCategory(predicted []model.MatchDecision, groundTruth []model.GroundTruthPair, categoriesByID map[string]map[string]struct{}, category string) ([]model.MatchDecision, []model.GroundTruthPair) {
	inCategory := func(idA, idB string) bool {
		if _, ok := categoriesByID[idA][category]; ok {
			return true
		}
		if _, ok := categoriesByID[idB][category]; ok {
			return true
		}
		return false
	}

	var filteredPredicted []model.MatchDecision
	for _, d := range predicted {
		if inCategory(d.IDA, d.IDB) {
			filteredPredicted = append(filteredPredicted, d)
		}
	}

	var filteredGroundTruth []model.GroundTruthPair
	for _, gt := range groundTruth {
		if inCategory(gt.IDA, gt.IDB) {
			filteredGroundTruth = append(filteredGroundTruth, gt)
		}
	}

	return filteredPredicted, filteredGroundTruth
}

func pairKey(idA, idB string) string {
	if idA > idB {
		idA, idB = idB, idA
	}
	return idA + "|" + idB
}
