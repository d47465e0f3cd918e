package blocking

import (
	"testing"

	"github.com/regioevents/dedupe/internal/model"
)

func f64(v float64) *float64 { return &v }

func TestKeys_NoDatesReturnsNil(t *testing.T) {
	r := model.Record{LocationCityNormalized: "freiburg"}
	if got := Keys(r); got != nil {
		t.Fatalf("expected nil keys, got %v", got)
	}
}

func TestKeys_DateCityKey(t *testing.T) {
	r := model.Record{
		LocationCityNormalized: "freiburg",
		Dates:                  []model.DateRange{{Date: "2026-08-01"}},
	}
	got := Keys(r)
	want := "dc|2026-08-01|freiburg"
	if len(got) != 1 || got[0] != want {
		t.Fatalf("expected [%q], got %v", want, got)
	}
}

func TestKeys_GeoKeyRequiresConfidenceGateAndBoundingBox(t *testing.T) {
	r := model.Record{
		Dates:         []model.DateRange{{Date: "2026-08-01"}},
		GeoLatitude:   f64(48.0),
		GeoLongitude:  f64(7.85),
		GeoConfidence: f64(0.9),
	}
	got := Keys(r)
	if len(got) != 1 {
		t.Fatalf("expected exactly one geo key, got %v", got)
	}

	r.GeoConfidence = f64(0.5)
	if got := Keys(r); len(got) != 0 {
		t.Fatalf("expected no keys below confidence gate, got %v", got)
	}
}

func TestKeys_GeoOutsideBoundingBoxSkipped(t *testing.T) {
	r := model.Record{
		Dates:         []model.DateRange{{Date: "2026-08-01"}},
		GeoLatitude:   f64(10.0),
		GeoLongitude:  f64(10.0),
		GeoConfidence: f64(0.99),
	}
	if got := Keys(r); len(got) != 0 {
		t.Fatalf("expected no geo key outside bounding box, got %v", got)
	}
}

func TestKeys_MultiDayRangeExpandsPerDay(t *testing.T) {
	end := "2026-08-03"
	r := model.Record{
		LocationCityNormalized: "freiburg",
		Dates:                  []model.DateRange{{Date: "2026-08-01", EndDate: &end}},
	}
	got := Keys(r)
	if len(got) != 3 {
		t.Fatalf("expected 3 date-city keys for 3-day range, got %v", got)
	}
}
