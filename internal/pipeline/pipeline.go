// Package pipeline orchestrates the full dedupe run: candidate generation,
// deterministic scoring, optional LLM resolution of ambiguous decisions,
// clustering, canonical synthesis, and a write-replace persist.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/regioevents/dedupe/internal/candidates"
	"github.com/regioevents/dedupe/internal/cluster"
	"github.com/regioevents/dedupe/internal/llmresolve"
	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/internal/scoring"
	"github.com/regioevents/dedupe/internal/storage"
	"github.com/regioevents/dedupe/internal/synth"
	"github.com/regioevents/dedupe/pkg/config"
	"github.com/regioevents/dedupe/pkg/telemetry"
)

// Result is everything one run produces plus the candidate-generation stats.
type Result struct {
	Decisions       []model.MatchDecision
	CanonicalEvents []model.CanonicalEvent
	Sources         []model.CanonicalEventSource
	ClusterResult   cluster.Result
	CandidateStats  candidates.Stats
}

// Orchestrator wires the pure scoring/clustering/synthesis stages to an LLM
// resolver and a persistence Store.
type Orchestrator struct {
	Store     storage.Store
	LLMClient llmresolve.Client
	Log       *telemetry.Logger
}

// Run executes the full pipeline over records and persists the result via
// ReplaceAll. batchID tags the run's LLM usage-log rows.
func (o *Orchestrator) Run(ctx context.Context, records []model.Record, cfg config.Config, batchID string, now time.Time) (Result, error) {
	log := o.Log
	if log == nil {
		log = telemetry.Nop
	}

	recordsByID := make(map[string]model.Record, len(records))
	for _, r := range records {
		recordsByID[r.ID] = r
	}

	pairs, stats := candidates.Generate(records)
	log.Info(ctx, "pipeline: candidates generated", map[string]any{
		"total_events": stats.TotalEvents, "blocked_pairs": stats.BlockedPairCount, "reduction_percent": stats.ReductionPercent,
	})

	decisions := make([]model.MatchDecision, 0, len(pairs))
	for _, p := range pairs {
		a, b := recordsByID[p.IDA], recordsByID[p.IDB]
		d, err := scoring.Score(a, b, cfg)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: scoring %s/%s: %w", p.IDA, p.IDB, err)
		}
		decisions = append(decisions, d)
	}

	if cfg.AI.Enabled && o.LLMClient != nil {
		resolver := llmresolve.NewResolver(o.LLMClient, o.Store, cfg.AI, log)
		resolved, err := resolver.ResolveBatch(ctx, batchID, decisions, recordsByID)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: llm resolution: %w", err)
		}
		decisions = resolved
	}

	return o.rebuildFromDecisions(ctx, records, recordsByID, decisions, cfg, stats, now)
}

// RebuildFromUpdatedDecisions re-clusters and re-synthesizes from an already
// scored (and possibly LLM-resolved) decision set, without rerunning
// candidate generation or scoring.
func (o *Orchestrator) RebuildFromUpdatedDecisions(ctx context.Context, records []model.Record, decisions []model.MatchDecision, cfg config.Config, now time.Time) (Result, error) {
	recordsByID := make(map[string]model.Record, len(records))
	for _, r := range records {
		recordsByID[r.ID] = r
	}
	return o.rebuildFromDecisions(ctx, records, recordsByID, decisions, cfg, candidates.Stats{}, now)
}

func (o *Orchestrator) rebuildFromDecisions(ctx context.Context, records []model.Record, recordsByID map[string]model.Record, decisions []model.MatchDecision, cfg config.Config, stats candidates.Stats, now time.Time) (Result, error) {
	daysByID := make(map[string]map[string]struct{}, len(records))
	for _, r := range records {
		daysByID[r.ID] = r.ExpandedDays()
	}

	allIDs := model.SortedIDs(records)
	clusterResult := cluster.Build(allIDs, decisions, daysByID, cfg.Cluster)

	var canonicals []model.CanonicalEvent
	var sources []model.CanonicalEventSource
	nextID := 1
	for _, c := range clusterResult.Clusters {
		clusterRecords := make([]model.Record, 0, len(c.IDs))
		for _, id := range c.IDs {
			clusterRecords = append(clusterRecords, recordsByID[id])
		}

		ev, err := synth.Synthesize(clusterRecords)
		if err != nil {
			return Result{}, fmt.Errorf("pipeline: synthesize cluster %v: %w", c.IDs, err)
		}
		ev.ID = fmt.Sprintf("canon-%d", nextID)
		nextID++
		ev.NeedsReview = c.NeedsReview
		ev.CreatedAt = now
		ev.UpdatedAt = now

		internal := internalEdges(c.IDs, decisions)
		if len(internal) > 0 {
			var sum float64
			var anyAI bool
			for _, e := range internal {
				sum += e.CombinedScore
				if e.Tier.IsAI() {
					anyAI = true
				}
			}
			mean := sum / float64(len(internal))
			ev.MatchConfidence = &mean
			ev.AIAssisted = anyAI
		}

		canonicals = append(canonicals, ev)
		for _, id := range c.IDs {
			sources = append(sources, model.CanonicalEventSource{CanonicalID: ev.ID, SourceEventID: id})
		}
	}

	if o.Store != nil {
		if err := o.Store.ReplaceAll(ctx, storage.RunResult{
			MatchDecisions:  decisions,
			CanonicalEvents: canonicals,
			Sources:         sources,
		}); err != nil {
			return Result{}, fmt.Errorf("pipeline: persist: %w", err)
		}
	}

	return Result{
		Decisions:       decisions,
		CanonicalEvents: canonicals,
		Sources:         sources,
		ClusterResult:   clusterResult,
		CandidateStats:  stats,
	}, nil
}

// internalEdges returns the match decisions whose both endpoints fall
// inside ids, sorted deterministically.
func internalEdges(ids []string, decisions []model.MatchDecision) []model.MatchDecision {
	in := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		in[id] = struct{}{}
	}

	var out []model.MatchDecision
	for _, d := range decisions {
		if d.Decision != model.DecisionMatch {
			continue
		}
		_, okA := in[d.IDA]
		_, okB := in[d.IDB]
		if okA && okB {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IDA != out[j].IDA {
			return out[i].IDA < out[j].IDA
		}
		return out[i].IDB < out[j].IDB
	})
	return out
}
