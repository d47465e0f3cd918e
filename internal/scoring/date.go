package scoring

import (
	"strconv"
	"strings"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/pkg/config"
)

// DateScore computes the Jaccard overlap of expanded calendar days between
// two records, multiplied by a time-proximity factor derived from their
// first dates' start times.
func DateScore(a, b model.Record, cfg config.DateConfig) float64 {
	daysA := a.ExpandedDays()
	daysB := b.ExpandedDays()

	overlap := jaccard(daysA, daysB)
	factor := timeProximityFactor(a, b, cfg)
	return overlap * factor
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 1.0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 1.0
	}
	return float64(inter) / float64(union)
}

func timeProximityFactor(a, b model.Record, cfg config.DateConfig) float64 {
	ta := firstStartTime(a)
	tb := firstStartTime(b)
	if ta == nil || tb == nil {
		return 1.0
	}

	diff := absInt(*ta - *tb)
	if float64(diff) <= cfg.TimeToleranceMinutes {
		return 1.0
	}
	if float64(diff) <= cfg.TimeCloseMinutes {
		return cfg.CloseFactor
	}
	if float64(diff) <= cfg.TimeGapPenaltyHours*60 {
		return cfg.FarFactor
	}
	return cfg.TimeGapPenaltyFactor
}

// firstStartTime returns the first date's start time in minutes-since-midnight.
func firstStartTime(r model.Record) *int {
	if len(r.Dates) == 0 || r.Dates[0].StartTime == nil {
		return nil
	}
	minutes, ok := parseHHMM(*r.Dates[0].StartTime)
	if !ok {
		return nil
	}
	return &minutes
}

func parseHHMM(s string) (int, bool) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
