package scoring

import (
	"testing"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/pkg/config"
)

func f64(v float64) *float64 { return &v }

func TestDateScore_IdenticalDaysFullOverlap(t *testing.T) {
	cfg := config.Default().Date
	a := model.Record{Dates: []model.DateRange{{Date: "2026-08-01"}}}
	b := model.Record{Dates: []model.DateRange{{Date: "2026-08-01"}}}
	if got := DateScore(a, b, cfg); got != 1.0 {
		t.Fatalf("expected full overlap score 1.0, got %v", got)
	}
}

func TestDateScore_NoOverlapIsZero(t *testing.T) {
	cfg := config.Default().Date
	a := model.Record{Dates: []model.DateRange{{Date: "2026-08-01"}}}
	b := model.Record{Dates: []model.DateRange{{Date: "2026-09-01"}}}
	if got := DateScore(a, b, cfg); got != 0.0 {
		t.Fatalf("expected zero overlap score, got %v", got)
	}
}

func TestDateScore_TimeGapReducesScore(t *testing.T) {
	cfg := config.Default().Date
	ta, tb := "18:00", "22:00"
	a := model.Record{Dates: []model.DateRange{{Date: "2026-08-01", StartTime: &ta}}}
	b := model.Record{Dates: []model.DateRange{{Date: "2026-08-01", StartTime: &tb}}}
	got := DateScore(a, b, cfg)
	if got != cfg.TimeGapPenaltyFactor {
		t.Fatalf("expected time gap penalty factor %v, got %v", cfg.TimeGapPenaltyFactor, got)
	}
}

func TestGeoScore_MissingCoordinatesIsNeutral(t *testing.T) {
	cfg := config.Default().Geo
	a := model.Record{}
	b := model.Record{GeoLatitude: f64(48.0), GeoLongitude: f64(7.85)}
	if got := GeoScore(a, b, cfg); got != cfg.NeutralScore {
		t.Fatalf("expected neutral score, got %v", got)
	}
}

func TestGeoScore_IdenticalCoordinatesIsOne(t *testing.T) {
	cfg := config.Default().Geo
	a := model.Record{GeoLatitude: f64(48.0), GeoLongitude: f64(7.85)}
	b := model.Record{GeoLatitude: f64(48.0), GeoLongitude: f64(7.85)}
	if got := GeoScore(a, b, cfg); got != 1.0 {
		t.Fatalf("expected score 1.0 for identical coordinates, got %v", got)
	}
}

func TestGeoScore_LowConfidenceIsNeutral(t *testing.T) {
	cfg := config.Default().Geo
	a := model.Record{GeoLatitude: f64(48.0), GeoLongitude: f64(7.85), GeoConfidence: f64(0.1)}
	b := model.Record{GeoLatitude: f64(48.01), GeoLongitude: f64(7.86), GeoConfidence: f64(0.1)}
	if got := GeoScore(a, b, cfg); got != cfg.NeutralScore {
		t.Fatalf("expected neutral score for low confidence, got %v", got)
	}
}

func TestGeoScore_FarDistanceScoresZero(t *testing.T) {
	cfg := config.Default().Geo
	a := model.Record{GeoLatitude: f64(48.0), GeoLongitude: f64(7.85), GeoConfidence: f64(0.99)}
	b := model.Record{GeoLatitude: f64(10.0), GeoLongitude: f64(10.0), GeoConfidence: f64(0.99)}
	if got := GeoScore(a, b, cfg); got != 0 {
		t.Fatalf("expected zero score for far distance, got %v", got)
	}
}

func TestTitleScore_IdenticalTitlesScoreOne(t *testing.T) {
	cfg := config.Default().Title
	a := model.Record{TitleNormalized: "stadtfest freiburg"}
	b := model.Record{TitleNormalized: "stadtfest freiburg"}
	if got := TitleScore(a, b, cfg); got != 1.0 {
		t.Fatalf("expected identical titles to score 1.0, got %v", got)
	}
}

func TestTitleScore_CrossSourceTypeUsesAlternateBlend(t *testing.T) {
	cfg := config.Default().Title
	a := model.Record{SourceType: model.SourceArticle, TitleNormalized: "stadtfest freiburg grosses fest am hafen"}
	b := model.Record{SourceType: model.SourceListing, TitleNormalized: "stadtfest freiburg"}
	got := TitleScore(a, b, cfg)
	if got <= 0 || got > 1 {
		t.Fatalf("expected a valid ratio in (0,1], got %v", got)
	}
	want := blend(tokenOrderRatio(a.TitleNormalized, b.TitleNormalized), tokenSetRatio(a.TitleNormalized, b.TitleNormalized),
		cfg.CrossSourceType.PrimaryWeight, cfg.CrossSourceType.SecondaryWeight, cfg.CrossSourceType.BlendLower, cfg.CrossSourceType.BlendUpper)
	if got != want {
		t.Fatalf("expected cross-source-type blend %v, got %v", want, got)
	}
}

func TestDescriptionScore_BothEmptyIsNeutral(t *testing.T) {
	if got := DescriptionScore(model.Record{}, model.Record{}); got != 0.5 {
		t.Fatalf("expected neutral 0.5 for both empty, got %v", got)
	}
}

func TestDescriptionScore_OneEmptyIsPenalized(t *testing.T) {
	got := DescriptionScore(model.Record{ShortDescription: "a great event"}, model.Record{})
	if got != 0.4 {
		t.Fatalf("expected 0.4 for one-sided empty description, got %v", got)
	}
}

func TestDescriptionScore_FallsBackToShortDescription(t *testing.T) {
	a := model.Record{ShortDescription: "stadtfest am hafen"}
	b := model.Record{ShortDescription: "stadtfest am hafen"}
	if got := DescriptionScore(a, b); got != 1.0 {
		t.Fatalf("expected short-description fallback to match fully, got %v", got)
	}
}

func TestResolveWeights_DefaultsWhenNoCategoryOverride(t *testing.T) {
	cfg := config.Default()
	got := ResolveWeights(map[string]struct{}{}, map[string]struct{}{}, cfg)
	want := cfg.Scoring.Weights.Normalize()
	if got != want {
		t.Fatalf("expected default normalized weights %v, got %v", want, got)
	}
}

func TestResolveWeights_UsesCategoryOverrideWhenSharedAndConfigured(t *testing.T) {
	cfg := config.Default()
	cfg.Category.Priority = []string{"concert"}
	cfg.Category.Overrides = map[string]config.SignalWeights{
		"concert": {Date: 0.1, Geo: 0.6, Title: 0.2, Description: 0.1},
	}
	catsA := map[string]struct{}{"concert": {}}
	catsB := map[string]struct{}{"concert": {}}
	got := ResolveWeights(catsA, catsB, cfg)
	want := cfg.Category.Overrides["concert"].Normalize()
	if got != want {
		t.Fatalf("expected category override weights %v, got %v", want, got)
	}
}

func TestScore_CombinesSignalsAndClassifies(t *testing.T) {
	cfg := config.Default()
	a := model.Record{ID: "a", TitleNormalized: "stadtfest freiburg", Description: "ein fest",
		Dates: []model.DateRange{{Date: "2026-08-01"}}}
	b := model.Record{ID: "b", TitleNormalized: "stadtfest freiburg", Description: "ein fest",
		Dates: []model.DateRange{{Date: "2026-08-01"}}}

	decision, err := Score(a, b, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Decision != model.DecisionMatch {
		t.Fatalf("expected a match decision for near-identical records, got %v", decision.Decision)
	}
	if decision.Tier != model.TierDeterministic {
		t.Fatalf("expected deterministic tier, got %v", decision.Tier)
	}
}

func TestScore_TitleVetoDowngradesMatchToAmbiguous(t *testing.T) {
	cfg := config.Default()
	a := model.Record{ID: "a", TitleNormalized: "stadtfest freiburg",
		Dates: []model.DateRange{{Date: "2026-08-01"}}}
	b := model.Record{ID: "b", TitleNormalized: "voellig anderes konzert in muenchen",
		Dates: []model.DateRange{{Date: "2026-08-01"}}}

	decision, err := Score(a, b, cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.TitleScore >= cfg.Thresholds.TitleVeto && decision.Decision == model.DecisionMatch {
		t.Fatalf("expected title veto to prevent a match when titles diverge sharply")
	}
}
