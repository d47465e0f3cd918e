package scoring

import (
	"math"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/pkg/config"
)

const earthRadiusKm = 6371.0

// GeoScore computes a distance-based similarity with a venue-name fuzzy
// check near-miss penalty, per the geo config.
func GeoScore(a, b model.Record, cfg config.GeoConfig) float64 {
	if !a.HasCoordinates() || !b.HasCoordinates() {
		return cfg.NeutralScore
	}

	latA, lonA := *a.GeoLatitude, *a.GeoLongitude
	latB, lonB := *b.GeoLatitude, *b.GeoLongitude

	identical := math.Abs(latA-latB) < 1e-6 && math.Abs(lonA-lonB) < 1e-6
	if !identical {
		confA, confB := confidenceOf(a), confidenceOf(b)
		if confA < cfg.MinConfidence || confB < cfg.MinConfidence {
			return cfg.NeutralScore
		}
	}

	distKm := haversineKm(latA, lonA, latB, lonB)
	if identical {
		distKm = 0
	}

	base := 1.0 - distKm/cfg.MaxDistanceKm
	if base < 0 {
		base = 0
	}

	if distKm < cfg.VenueMatchDistanceKm && a.LocationName != "" && b.LocationName != "" {
		ratio := tokenOrderRatio(a.LocationName, b.LocationName)
		if ratio < 0.5 {
			base *= cfg.VenueMismatchFactor
		}
	}

	return base
}

func confidenceOf(r model.Record) float64 {
	if r.GeoConfidence == nil {
		return 0
	}
	return *r.GeoConfidence
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	la1 := toRad(lat1)
	la2 := toRad(lat2)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(la1)*math.Cos(la2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusKm * c
}
