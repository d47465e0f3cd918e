package synth

import (
	"testing"

	"github.com/regioevents/dedupe/internal/model"
)

func ptr(b bool) *bool { return &b }
func fptr(f float64) *float64 { return &f }

func TestSynthesize_ProvenanceComplete(t *testing.T) {
	records := []model.Record{
		{ID: "r1", Title: "Kurzer Titel", ShortDescription: "short", Categories: []string{"musik"}},
		{ID: "r2", Title: "Ein deutlich längerer und ausführlicherer Titel", Description: "long description text"},
	}
	canon, err := Synthesize(records)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	for _, field := range []string{"title", "short_description", "description", "highlights", "categories",
		"location_name", "location_district", "location_street", "location_zipcode", "location_city",
		"is_family_event", "is_child_focused", "admission_free", "dates"} {
		if _, ok := canon.FieldProvenance[field]; !ok {
			t.Errorf("missing provenance for field %q", field)
		}
	}
	if canon.SourceCount != 2 {
		t.Errorf("expected source_count=2, got %d", canon.SourceCount)
	}
}

func TestSynthesize_TitleLongestNonGeneric(t *testing.T) {
	records := []model.Record{
		{ID: "r1", Title: "Kurz"},
		{ID: "r2", Title: "Ein hinreichend langer Titel"},
	}
	canon, _ := Synthesize(records)
	if canon.Title != "Ein hinreichend langer Titel" {
		t.Fatalf("expected the longer, non-generic title, got %q", canon.Title)
	}
	if canon.FieldProvenance["title"] != "r2" {
		t.Fatalf("expected provenance r2, got %q", canon.FieldProvenance["title"])
	}
}

func TestSynthesize_BooleanAnyTrue(t *testing.T) {
	records := []model.Record{
		{ID: "r1", IsFamilyEvent: ptr(false)},
		{ID: "r2", IsFamilyEvent: ptr(true)},
	}
	canon, _ := Synthesize(records)
	if canon.IsFamilyEvent == nil || !*canon.IsFamilyEvent {
		t.Fatalf("expected is_family_event true")
	}
	if canon.FieldProvenance["is_family_event"] != "r2" {
		t.Fatalf("expected provenance r2, got %q", canon.FieldProvenance["is_family_event"])
	}
}

func TestSynthesize_GeoHighestConfidence(t *testing.T) {
	records := []model.Record{
		{ID: "r1", GeoLatitude: fptr(48.0), GeoLongitude: fptr(7.8), GeoConfidence: fptr(0.5)},
		{ID: "r2", GeoLatitude: fptr(48.1), GeoLongitude: fptr(7.9), GeoConfidence: fptr(0.95)},
	}
	canon, _ := Synthesize(records)
	if canon.GeoConfidence == nil || *canon.GeoConfidence != 0.95 {
		t.Fatalf("expected highest-confidence geo triple copied")
	}
	if canon.FieldProvenance["geo"] != "r2" {
		t.Fatalf("expected provenance r2, got %q", canon.FieldProvenance["geo"])
	}
}

func TestEnrich_NeverShortensTextFields(t *testing.T) {
	existing := model.CanonicalEvent{
		ID:              "c1",
		Title:           "Ein ausführlicher bestehender Titel mit viel Kontext",
		FieldProvenance: map[string]string{"title": "r1"},
		Version:         1,
	}
	records := []model.Record{
		{ID: "r1", Title: "Kurz"},
		{ID: "r3", Title: "Kürzer"},
	}
	updated, err := Enrich(existing, records, false, false)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if updated.Title != existing.Title {
		t.Fatalf("enrichment must not shorten title: got %q", updated.Title)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version incremented to 2, got %d", updated.Version)
	}
}

func TestEnrich_NeverDowngradesReviewFlags(t *testing.T) {
	existing := model.CanonicalEvent{
		ID:              "c1",
		Title:           "x",
		FieldProvenance: map[string]string{},
		NeedsReview:     true,
		AIAssisted:      true,
	}
	records := []model.Record{{ID: "r1", Title: "y"}}
	updated, err := Enrich(existing, records, false, false)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if !updated.NeedsReview || !updated.AIAssisted {
		t.Fatalf("flags must not be downgraded implicitly")
	}
}
