// Package candidates builds the blocking index and enumerates deduplicated
// cross-source candidate pairs for scoring.
package candidates

import (
	"sort"

	"github.com/regioevents/dedupe/internal/blocking"
	"github.com/regioevents/dedupe/internal/model"
)

// Pair is one deduplicated, canonically-ordered candidate pair.
type Pair struct {
	IDA string
	IDB string
}

// Stats reports the effectiveness of blocking versus the naive cross-source
// Cartesian product.
type Stats struct {
	TotalEvents      int     `json:"total_events"`
	NaivePairCount   int     `json:"naive_pair_count"`
	BlockedPairCount int     `json:"blocked_pair_count"`
	ReductionPercent float64 `json:"reduction_percent"`
}

// Generate builds the blocking index over records and returns the
// deduplicated, sorted list of cross-source candidate pairs plus stats.
// Output is deterministic: pairs sorted by (id_a, id_b).
func Generate(records []model.Record) ([]Pair, Stats) {
	index := buildIndex(records)
	bySourceCount := countPerSourcePair(records)

	seen := make(map[string]struct{})
	pairs := make([]Pair, 0)

	for _, ids := range index {
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				a, b := ids[i], ids[j]
				if a.id == b.id {
					continue
				}
				if a.sourceCode == b.sourceCode {
					continue
				}
				idA, idB := a.id, b.id
				if idA > idB {
					idA, idB = idB, idA
				}
				key := idA + "|" + idB
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				pairs = append(pairs, Pair{IDA: idA, IDB: idB})
			}
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].IDA != pairs[j].IDA {
			return pairs[i].IDA < pairs[j].IDA
		}
		return pairs[i].IDB < pairs[j].IDB
	})

	naive := 0
	for _, n := range bySourceCount {
		naive += n
	}

	stats := Stats{
		TotalEvents:      len(records),
		NaivePairCount:   naive,
		BlockedPairCount: len(pairs),
	}
	if naive > 0 {
		stats.ReductionPercent = 100.0 * (1.0 - float64(len(pairs))/float64(naive))
	}
	return pairs, stats
}

type idAndSource struct {
	id         string
	sourceCode string
}

func buildIndex(records []model.Record) map[string][]idAndSource {
	index := make(map[string][]idAndSource)
	for _, r := range records {
		keys := r.BlockingKeys
		if len(keys) == 0 {
			keys = blocking.Keys(r)
		}
		for _, k := range keys {
			index[k] = append(index[k], idAndSource{id: r.ID, sourceCode: r.SourceCode})
		}
	}
	return index
}

// countPerSourcePair returns |source_i| * |source_j| for every pair of
// distinct source codes, keyed "codeI|codeJ"; the sum of its values is the
// naive cross-source Cartesian product size.
func countPerSourcePair(records []model.Record) map[string]int {
	bySource := make(map[string]int)
	for _, r := range records {
		bySource[r.SourceCode]++
	}
	codes := make([]string, 0, len(bySource))
	for c := range bySource {
		codes = append(codes, c)
	}
	sort.Strings(codes)

	out := make(map[string]int)
	for i := 0; i < len(codes); i++ {
		for j := i + 1; j < len(codes); j++ {
			key := codes[i] + "|" + codes[j]
			out[key] = bySource[codes[i]] * bySource[codes[j]]
		}
	}
	return out
}
