package scoring

import (
	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/pkg/config"
)

// Score computes the four signal scores for a canonically-ordered pair
// (a.ID < b.ID), resolves weights, combines them, and classifies the
// resulting MatchDecision (tier=deterministic). Callers must pre-order the
// pair before calling Score, because NewMatchDecision returns an error
// unless a.ID < b.ID; the signal scores themselves, including the
// cross-source-type title blend, are the same in either order.
func Score(a, b model.Record, cfg config.Config) (model.MatchDecision, error) {
	signals := Signals{
		Date:        DateScore(a, b, cfg.Date),
		Geo:         GeoScore(a, b, cfg.Geo),
		Title:       TitleScore(a, b, cfg.Title),
		Description: DescriptionScore(a, b),
	}

	weights := ResolveWeights(a.CategorySet(), b.CategorySet(), cfg)
	combined := weights.Date*signals.Date + weights.Geo*signals.Geo +
		weights.Title*signals.Title + weights.Description*signals.Description

	decision := classify(combined, signals.Title, cfg.Thresholds)

	return model.NewMatchDecision(a.ID, b.ID, signals.Date, signals.Geo, signals.Title, signals.Description,
		combined, decision, model.TierDeterministic)
}

func classify(combined, titleScore float64, t config.ThresholdsConfig) model.Decision {
	var decision model.Decision
	switch {
	case combined >= t.High:
		decision = model.DecisionMatch
	case combined <= t.Low:
		decision = model.DecisionNoMatch
	default:
		decision = model.DecisionAmbiguous
	}

	if titleScore < t.TitleVeto && decision == model.DecisionMatch {
		return model.DecisionAmbiguous
	}
	return decision
}
