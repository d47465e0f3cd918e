package llmresolve

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/internal/storage"
	"github.com/regioevents/dedupe/pkg/config"
	"github.com/regioevents/dedupe/pkg/contentkey"
	"github.com/regioevents/dedupe/pkg/telemetry"
)

const systemPrompt = "You are resolving ambiguous duplicate-event candidates for German regional " +
	"event listings. Two source records may describe the same real-world event even when their " +
	"titles or descriptions differ by dialect, abbreviation, or phrasing. Respond with a structured " +
	"decision of same or different, a confidence in [0,1], and brief reasoning."

const callTimeout = 20 * time.Second

// Resolver reapplies ambiguous deterministic decisions through an LLM
// Client, bounding concurrency with a counting semaphore and reusing cache
// entries keyed by pair_hash.
type Resolver struct {
	client Client
	store  storage.Store
	cfg    config.AIConfig
	log    *telemetry.Logger
	sem    chan struct{}
}

func NewResolver(client Client, store storage.Store, cfg config.AIConfig, log *telemetry.Logger) *Resolver {
	if log == nil {
		log = telemetry.Nop
	}
	concurrency := cfg.MaxConcurrentRequests
	if concurrency < 1 {
		concurrency = 1
	}
	return &Resolver{
		client: client,
		store:  store,
		cfg:    cfg,
		log:    log,
		sem:    make(chan struct{}, concurrency),
	}
}

// ResolveBatch reapplies the LLM resolver to every ambiguous decision in
// decisions, returning a new slice in the same order. Non-ambiguous
// decisions pass through unchanged. recordsByID must contain every id
// referenced by decisions.
func (r *Resolver) ResolveBatch(ctx context.Context, batchID string, decisions []model.MatchDecision, recordsByID map[string]model.Record) ([]model.MatchDecision, error) {
	out := make([]model.MatchDecision, len(decisions))
	copy(out, decisions)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for i, d := range decisions {
		if d.Decision != model.DecisionAmbiguous {
			continue
		}
		i, d := i, d
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, err := r.resolveOne(ctx, batchID, d, recordsByID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			out[i] = updated
		}()
	}
	wg.Wait()

	return out, firstErr
}

func (r *Resolver) resolveOne(ctx context.Context, batchID string, d model.MatchDecision, recordsByID map[string]model.Record) (model.MatchDecision, error) {
	a, okA := recordsByID[d.IDA]
	b, okB := recordsByID[d.IDB]
	if !okA || !okB {
		return d, nil
	}

	pairHash, err := contentkey.PairHash(a.ID, toPairFields(a), b.ID, toPairFields(b))
	if err != nil {
		r.log.Warn(ctx, "llmresolve: pair_hash failed, leaving ambiguous", map[string]any{"error": err.Error()})
		return d, nil
	}

	if entry, hit, err := r.store.CacheLookup(ctx, pairHash); err == nil && hit && entry.Model == r.cfg.Model {
		_ = r.store.AppendUsageLog(ctx, model.UsageLogRow{BatchID: batchID, PairHash: pairHash, WasCached: true})
		return applyResolution(d, entry.Decision, entry.Confidence, r.cfg.ConfidenceThreshold), nil
	}

	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return d, nil
	}
	defer func() { <-r.sem }()

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	resp, err := r.client.Resolve(callCtx, Request{
		PairHash:     pairHash,
		SystemPrompt: systemPrompt,
		TitleA:       a.TitleNormalized, TitleB: b.TitleNormalized,
		DescriptionA: a.Description, DescriptionB: b.Description,
		CityA: a.LocationCityNormalized, CityB: b.LocationCityNormalized,
		DatesA: sortedDayStrings(a), DatesB: sortedDayStrings(b),
	})
	if err != nil {
		r.log.Warn(ctx, "llmresolve: transport error, leaving ambiguous",
			map[string]any{"pair_hash": pairHash, "error": err.Error()})
		return d, nil
	}

	resolution, ok := toAIResolution(resp.Decision)
	if !ok {
		return model.NewMatchDecision(d.IDA, d.IDB, d.DateScore, d.GeoScore, d.TitleScore, d.DescriptionScore,
			d.CombinedScore, model.DecisionAmbiguous, model.TierAIUnexpected)
	}

	cost := float64(resp.TokensIn)*r.cfg.CostPer1MInputTokens/1e6 + float64(resp.TokensOut)*r.cfg.CostPer1MOutputTokens/1e6
	_ = r.store.CacheStore(ctx, model.CacheEntry{
		PairHash: pairHash, Decision: resolution, Confidence: resp.Confidence, Reasoning: resp.Reasoning, Model: r.client.Model(),
	})
	_ = r.store.AppendUsageLog(ctx, model.UsageLogRow{
		BatchID: batchID, PairHash: pairHash, TokensIn: resp.TokensIn, TokensOut: resp.TokensOut, CostUSD: cost,
	})

	return applyResolution(d, resolution, resp.Confidence, r.cfg.ConfidenceThreshold), nil
}

func applyResolution(d model.MatchDecision, resolution model.AIResolution, confidence, threshold float64) model.MatchDecision {
	decision := model.DecisionAmbiguous
	tier := model.TierAILowConfidence

	if confidence >= threshold {
		tier = model.TierAI
		switch resolution {
		case model.AISame:
			decision = model.DecisionMatch
		case model.AIDifferent:
			decision = model.DecisionNoMatch
		}
	}

	updated, err := model.NewMatchDecision(d.IDA, d.IDB, d.DateScore, d.GeoScore, d.TitleScore, d.DescriptionScore,
		d.CombinedScore, decision, tier)
	if err != nil {
		return d
	}
	return updated
}

func toAIResolution(d Decision) (model.AIResolution, bool) {
	switch d {
	case DecisionSame:
		return model.AISame, true
	case DecisionDifferent:
		return model.AIDifferent, true
	default:
		return "", false
	}
}

func toPairFields(r model.Record) contentkey.PairFields {
	days := r.ExpandedDays()
	dates := make([]string, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return contentkey.PairFields{
		Title:         r.TitleNormalized,
		Description:   r.Description,
		City:          r.LocationCityNormalized,
		LocationName:  r.LocationName,
		Dates:         dates,
		Lat:           r.GeoLatitude,
		Lon:           r.GeoLongitude,
		GeoConfidence: r.GeoConfidence,
		SourceType:    string(r.SourceType),
	}
}

func sortedDayStrings(r model.Record) []string {
	days := r.ExpandedDays()
	out := make([]string, 0, len(days))
	for d := range days {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
