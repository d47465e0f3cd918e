package scoring

import (
	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/pkg/config"
)

// TitleScore blends a token-order ratio (primary) with a token-set ratio
// (secondary) using a blend window, switching to an alternate blend config
// when the two records come from different, containment-prone source types
// (e.g. a long article title vs. a short listing title).
func TitleScore(a, b model.Record, cfg config.TitleConfig) float64 {
	primary := tokenOrderRatio(a.TitleNormalized, b.TitleNormalized)
	secondary := tokenSetRatio(a.TitleNormalized, b.TitleNormalized)

	if crossSourceTypeEligible(a, b, cfg.CrossSourcePairs) {
		return blend(primary, secondary,
			cfg.CrossSourceType.PrimaryWeight, cfg.CrossSourceType.SecondaryWeight,
			cfg.CrossSourceType.BlendLower, cfg.CrossSourceType.BlendUpper)
	}

	return blend(primary, secondary, cfg.PrimaryWeight, cfg.SecondaryWeight, cfg.BlendLower, cfg.BlendUpper)
}

func blend(primary, secondary, wp, ws, lo, hi float64) float64 {
	if primary < lo {
		return primary
	}
	if primary > hi {
		return primary
	}
	return wp*primary + ws*secondary
}

func crossSourceTypeEligible(a, b model.Record, pairs []config.CrossSourceTypePair) bool {
	if a.SourceType == b.SourceType {
		return false
	}
	for _, p := range pairs {
		if matchesUnordered(string(a.SourceType), string(b.SourceType), p.A, p.B) {
			return true
		}
	}
	return false
}

func matchesUnordered(a, b, x, y string) bool {
	return (a == x && b == y) || (a == y && b == x)
}
