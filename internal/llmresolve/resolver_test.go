package llmresolve

import (
	"context"
	"sort"
	"testing"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/internal/storage/memory"
	"github.com/regioevents/dedupe/pkg/config"
)

func ambiguousDecision(t *testing.T, a, b string) model.MatchDecision {
	t.Helper()
	d, err := model.NewMatchDecision(a, b, 0.5, 0.5, 0.5, 0.5, 0.5, model.DecisionAmbiguous, model.TierDeterministic)
	if err != nil {
		t.Fatalf("NewMatchDecision: %v", err)
	}
	return d
}

func TestResolveBatch_AppliesSameDecisionAboveThreshold(t *testing.T) {
	store := memory.New()
	client := StubClient{FixedResponse: Response{Decision: DecisionSame, Confidence: 0.9, TokensIn: 100, TokensOut: 20}, ModelName: "test-model"}
	cfg := config.AIConfig{MaxConcurrentRequests: 2, ConfidenceThreshold: 0.6, CostPer1MInputTokens: 1, CostPer1MOutputTokens: 2, Model: "test-model"}
	resolver := NewResolver(client, store, cfg, nil)

	records := map[string]model.Record{
		"a1": {ID: "a1", TitleNormalized: "stadtfest"},
		"b1": {ID: "b1", TitleNormalized: "stadtfest feier"},
	}
	decisions := []model.MatchDecision{ambiguousDecision(t, "a1", "b1")}

	out, err := resolver.ResolveBatch(context.Background(), "batch-1", decisions, records)
	if err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if out[0].Decision != model.DecisionMatch {
		t.Fatalf("expected match, got %v", out[0].Decision)
	}
	if out[0].Tier != model.TierAI {
		t.Fatalf("expected tier ai, got %v", out[0].Tier)
	}
	if out[0].CombinedScore != decisions[0].CombinedScore {
		t.Fatalf("signal scores must be preserved")
	}
}

func TestResolveBatch_BelowThresholdStaysAmbiguous(t *testing.T) {
	store := memory.New()
	client := StubClient{FixedResponse: Response{Decision: DecisionSame, Confidence: 0.3}, ModelName: "test-model"}
	cfg := config.AIConfig{MaxConcurrentRequests: 1, ConfidenceThreshold: 0.6, Model: "test-model"}
	resolver := NewResolver(client, store, cfg, nil)

	records := map[string]model.Record{"a1": {ID: "a1"}, "b1": {ID: "b1"}}
	decisions := []model.MatchDecision{ambiguousDecision(t, "a1", "b1")}

	out, err := resolver.ResolveBatch(context.Background(), "batch-1", decisions, records)
	if err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if out[0].Decision != model.DecisionAmbiguous {
		t.Fatalf("expected ambiguous, got %v", out[0].Decision)
	}
	if out[0].Tier != model.TierAILowConfidence {
		t.Fatalf("expected tier ai_low_confidence, got %v", out[0].Tier)
	}
}

func TestResolveBatch_TransportErrorFailsOpenToAmbiguous(t *testing.T) {
	store := memory.New()
	client := StubClient{Err: context.DeadlineExceeded, ModelName: "test-model"}
	cfg := config.AIConfig{MaxConcurrentRequests: 1, ConfidenceThreshold: 0.6, Model: "test-model"}
	resolver := NewResolver(client, store, cfg, nil)

	records := map[string]model.Record{"a1": {ID: "a1"}, "b1": {ID: "b1"}}
	decisions := []model.MatchDecision{ambiguousDecision(t, "a1", "b1")}

	out, err := resolver.ResolveBatch(context.Background(), "batch-1", decisions, records)
	if err != nil {
		t.Fatalf("ResolveBatch must not raise on transport error: %v", err)
	}
	if out[0].Decision != model.DecisionAmbiguous || out[0].Tier != model.TierDeterministic {
		t.Fatalf("expected unchanged ambiguous/deterministic decision, got %v/%v", out[0].Decision, out[0].Tier)
	}
}

func TestResolveBatch_CacheHitIsFreeAndIdempotent(t *testing.T) {
	store := memory.New()
	client := StubClient{FixedResponse: Response{Decision: DecisionDifferent, Confidence: 0.95, TokensIn: 50, TokensOut: 10}, ModelName: "test-model"}
	cfg := config.AIConfig{MaxConcurrentRequests: 1, ConfidenceThreshold: 0.6, CostPer1MInputTokens: 10, CostPer1MOutputTokens: 10, Model: "test-model"}
	resolver := NewResolver(client, store, cfg, nil)

	records := map[string]model.Record{"a1": {ID: "a1"}, "b1": {ID: "b1"}}
	decisions := []model.MatchDecision{ambiguousDecision(t, "a1", "b1")}

	first, err := resolver.ResolveBatch(context.Background(), "batch-1", decisions, records)
	if err != nil {
		t.Fatalf("first ResolveBatch: %v", err)
	}
	second, err := resolver.ResolveBatch(context.Background(), "batch-2", decisions, records)
	if err != nil {
		t.Fatalf("second ResolveBatch: %v", err)
	}
	if first[0].Decision != second[0].Decision || first[0].Tier != second[0].Tier {
		t.Fatalf("cache hit must reproduce the same resolution: %+v vs %+v", first[0], second[0])
	}
}

// countingClient counts how many times Resolve is actually invoked, so tests
// can assert that a second ResolveBatch call for the same pair hits the
// cache instead of the transport.
type countingClient struct {
	StubClient
	calls *int
}

func (c countingClient) Resolve(ctx context.Context, req Request) (Response, error) {
	*c.calls++
	return c.StubClient.Resolve(ctx, req)
}

func multiDayRecord(id, title string) model.Record {
	end := "2026-08-05"
	return model.Record{
		ID:              id,
		TitleNormalized: title,
		Dates:           []model.DateRange{{Date: "2026-08-01", EndDate: &end}},
	}
}

func TestToPairFields_DatesAreSorted(t *testing.T) {
	r := multiDayRecord("a1", "stadtfest")
	for i := 0; i < 5; i++ {
		fields := toPairFields(r)
		if !sort.StringsAreSorted(fields.Dates) {
			t.Fatalf("expected sorted dates, got %v", fields.Dates)
		}
	}
}

func TestSortedDayStrings_IsSorted(t *testing.T) {
	r := multiDayRecord("a1", "stadtfest")
	for i := 0; i < 5; i++ {
		days := sortedDayStrings(r)
		if !sort.StringsAreSorted(days) {
			t.Fatalf("expected sorted day strings, got %v", days)
		}
	}
}

func TestResolveBatch_MultiDateRecordsCacheDeterministically(t *testing.T) {
	calls := 0
	client := countingClient{
		StubClient: StubClient{FixedResponse: Response{Decision: DecisionSame, Confidence: 0.9, TokensIn: 10, TokensOut: 5}, ModelName: "test-model"},
		calls:      &calls,
	}
	store := memory.New()
	cfg := config.AIConfig{MaxConcurrentRequests: 1, ConfidenceThreshold: 0.6, CostPer1MInputTokens: 1, CostPer1MOutputTokens: 1, Model: "test-model"}
	resolver := NewResolver(client, store, cfg, nil)

	records := map[string]model.Record{
		"a1": multiDayRecord("a1", "stadtfest freiburg"),
		"b1": multiDayRecord("b1", "stadtfest feier"),
	}
	decisions := []model.MatchDecision{ambiguousDecision(t, "a1", "b1")}

	for i := 0; i < 5; i++ {
		if _, err := resolver.ResolveBatch(context.Background(), "batch", decisions, records); err != nil {
			t.Fatalf("ResolveBatch iteration %d: %v", i, err)
		}
	}

	if calls != 1 {
		t.Fatalf("expected exactly one transport call across repeated runs for a multi-date pair, got %d", calls)
	}
}
