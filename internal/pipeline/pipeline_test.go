package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/internal/storage/memory"
	"github.com/regioevents/dedupe/pkg/config"
)

func TestRun_DialectPairClustersTogether(t *testing.T) {
	store := memory.New()
	orch := &Orchestrator{Store: store}

	lat, lon, conf := 48.0, 7.85, 0.9
	records := []model.Record{
		{
			ID: "a1", SourceCode: "src-a", SourceType: model.SourceArticle,
			Title: "Stadtfest Freiburg", TitleNormalized: "stadtfest freiburg",
			ShortDescription: "Ein großes Fest in der Innenstadt",
			LocationCity: "Freiburg", LocationCityNormalized: "freiburg",
			GeoLatitude: &lat, GeoLongitude: &lon, GeoConfidence: &conf,
			Dates: []model.DateRange{{Date: "2026-08-01"}},
		},
		{
			ID: "b1", SourceCode: "src-b", SourceType: model.SourceListing,
			Title: "Schdadtfescht Friburg", TitleNormalized: "schdadtfescht friburg",
			ShortDescription: "Ein großes Fest in der Innenstadt",
			LocationCity: "Freiburg", LocationCityNormalized: "freiburg",
			GeoLatitude: &lat, GeoLongitude: &lon, GeoConfidence: &conf,
			Dates: []model.DateRange{{Date: "2026-08-01"}},
		},
	}

	cfg := config.Default()
	result, err := orch.Run(context.Background(), records, cfg, "batch-1", time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.CanonicalEvents) != 1 {
		t.Fatalf("expected a single canonical event, got %d: %+v", len(result.CanonicalEvents), result.CanonicalEvents)
	}
	if result.CanonicalEvents[0].SourceCount != 2 {
		t.Fatalf("expected source_count=2, got %d", result.CanonicalEvents[0].SourceCount)
	}
}

func TestRun_UnrelatedEventsStaySingletons(t *testing.T) {
	store := memory.New()
	orch := &Orchestrator{Store: store}

	records := []model.Record{
		{ID: "a1", SourceCode: "src-a", Title: "Konzert im Park", TitleNormalized: "konzert im park",
			LocationCityNormalized: "freiburg", Dates: []model.DateRange{{Date: "2026-08-01"}}},
		{ID: "b1", SourceCode: "src-b", Title: "Flohmarkt am Hafen", TitleNormalized: "flohmarkt am hafen",
			LocationCityNormalized: "freiburg", Dates: []model.DateRange{{Date: "2026-08-01"}}},
	}

	result, err := orch.Run(context.Background(), records, config.Default(), "batch-1", time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.CanonicalEvents) != 2 {
		t.Fatalf("expected 2 singleton canonicals, got %d", len(result.CanonicalEvents))
	}
	if result.ClusterResult.SingletonCount != 2 {
		t.Fatalf("expected 2 singletons reported, got %d", result.ClusterResult.SingletonCount)
	}
}

func TestRebuildFromUpdatedDecisions_SkipsScoring(t *testing.T) {
	store := memory.New()
	orch := &Orchestrator{Store: store}

	records := []model.Record{
		{ID: "a1", SourceCode: "src-a", Title: "Event A", Dates: []model.DateRange{{Date: "2026-08-01"}}},
		{ID: "b1", SourceCode: "src-b", Title: "Event B", Dates: []model.DateRange{{Date: "2026-08-01"}}},
	}
	decision, err := model.NewMatchDecision("a1", "b1", 0.9, 0.9, 0.9, 0.9, 0.9, model.DecisionMatch, model.TierAI)
	if err != nil {
		t.Fatalf("NewMatchDecision: %v", err)
	}

	result, err := orch.RebuildFromUpdatedDecisions(context.Background(), records, []model.MatchDecision{decision}, config.Default(), time.Unix(0, 0).UTC())
	if err != nil {
		t.Fatalf("RebuildFromUpdatedDecisions: %v", err)
	}
	if len(result.CanonicalEvents) != 1 || !result.CanonicalEvents[0].AIAssisted {
		t.Fatalf("expected single ai_assisted canonical, got %+v", result.CanonicalEvents)
	}
}
