// Package blocking emits candidate-generation keys for source records so
// the pair generator never has to consider the full cross-source Cartesian
// product.
package blocking

import (
	"fmt"
	"math"

	"github.com/regioevents/dedupe/internal/model"
)

var germanBoundingBox = struct {
	latMin, latMax float64
	lonMin, lonMax float64
}{latMin: 47.5, latMax: 48.5, lonMin: 7.3, lonMax: 8.5}

const geoConfidenceGate = 0.85

// Keys returns the set of blocking keys for a record: one date-city key per
// expanded calendar day (if city is non-empty), plus one date-geocell key
// per day when the record has a high-confidence geocode inside the regional
// bounding box.
func Keys(r model.Record) []string {
	days := r.ExpandedDays()
	if len(days) == 0 {
		return nil
	}

	hasGeo := r.HasCoordinates() && r.GeoConfidence != nil && *r.GeoConfidence >= geoConfidenceGate &&
		inBoundingBox(*r.GeoLatitude, *r.GeoLongitude)

	keys := make([]string, 0, len(days)*2)
	for day := range days {
		if r.LocationCityNormalized != "" {
			keys = append(keys, fmt.Sprintf("dc|%s|%s", day, r.LocationCityNormalized))
		}
		if hasGeo {
			cellLat := roundToCell(*r.GeoLatitude, 0.09)
			cellLon := roundToCell(*r.GeoLongitude, 0.13)
			keys = append(keys, fmt.Sprintf("dg|%s|%.2f|%.2f", day, cellLat, cellLon))
		}
	}
	return keys
}

func inBoundingBox(lat, lon float64) bool {
	return lat >= germanBoundingBox.latMin && lat <= germanBoundingBox.latMax &&
		lon >= germanBoundingBox.lonMin && lon <= germanBoundingBox.lonMax
}

func roundToCell(v, cellSize float64) float64 {
	return math.Round(v/cellSize) * cellSize
}
