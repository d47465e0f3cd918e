package scoring

import "github.com/regioevents/dedupe/pkg/config"

// Signals holds the four pure scores for one pair, pre-weighting.
type Signals struct {
	Date        float64
	Geo         float64
	Title       float64
	Description float64
}

// ResolveWeights picks the weight vector for a pair: the first category in
// the configured priority list present in both events' category sets wins;
// otherwise the default scoring weights apply. The result is normalized to
// sum to 1.
func ResolveWeights(categoriesA, categoriesB map[string]struct{}, cfg config.Config) config.SignalWeights {
	for _, cat := range cfg.Category.Priority {
		_, inA := categoriesA[cat]
		_, inB := categoriesB[cat]
		if inA && inB {
			if w, ok := cfg.Category.Overrides[cat]; ok {
				return w.Normalize()
			}
		}
	}
	return cfg.Scoring.Weights.Normalize()
}
