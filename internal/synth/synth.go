// Package synth derives one canonical event from a cluster of source
// records, tracking per-field provenance and applying enrichment's
// downgrade-prevention rule on re-synthesis.
package synth

import (
	"fmt"
	"sort"

	"github.com/regioevents/dedupe/internal/model"
)

const titleMinNonGenericLen = 10

// Synthesize derives a canonical event from a non-empty, caller-ordered
// sequence of records. Field provenance records which source record (or the
// UnionAllSources sentinel) contributed each field.
func Synthesize(records []model.Record) (model.CanonicalEvent, error) {
	if len(records) == 0 {
		return model.CanonicalEvent{}, fmt.Errorf("synth: cannot synthesize from zero records")
	}

	provenance := make(map[string]string)
	out := model.CanonicalEvent{}

	out.Title, provenance["title"] = longestNonGeneric(records, func(r model.Record) string { return r.Title })
	out.ShortDescription, provenance["short_description"] = longest(records, func(r model.Record) string { return r.ShortDescription })
	out.Description, provenance["description"] = longest(records, func(r model.Record) string { return r.Description })

	out.Highlights = unionStrings(records, func(r model.Record) []string { return r.Highlights })
	out.Categories = unionStrings(records, func(r model.Record) []string { return r.Categories })
	provenance["highlights"] = model.UnionAllSources
	provenance["categories"] = model.UnionAllSources

	out.LocationName, provenance["location_name"] = mostComplete(records, func(r model.Record) string { return r.LocationName })
	out.LocationDistrict, provenance["location_district"] = mostComplete(records, func(r model.Record) string { return r.LocationDistrict })
	out.LocationStreet, provenance["location_street"] = mostComplete(records, func(r model.Record) string { return r.LocationStreet })
	out.LocationZipcode, provenance["location_zipcode"] = mostComplete(records, func(r model.Record) string { return r.LocationZipcode })

	out.LocationCity, provenance["location_city"] = mostFrequent(records, func(r model.Record) string { return r.LocationCity })

	out.GeoLatitude, out.GeoLongitude, out.GeoConfidence, provenance["geo"] = highestConfidenceGeo(records)

	out.IsFamilyEvent, provenance["is_family_event"] = anyTrue(records, func(r model.Record) *bool { return r.IsFamilyEvent })
	out.IsChildFocused, provenance["is_child_focused"] = anyTrue(records, func(r model.Record) *bool { return r.IsChildFocused })
	out.AdmissionFree, provenance["admission_free"] = anyTrue(records, func(r model.Record) *bool { return r.AdmissionFree })

	out.Dates = unionDates(records)
	provenance["dates"] = model.UnionAllSources
	out.FirstDate, out.LastDate = dateSpan(out.Dates)

	out.SourceCount = len(records)
	out.FieldProvenance = provenance

	return out, nil
}

// Enrich re-synthesizes from an updated record list, then applies
// downgrade prevention: the three long-text fields never shrink relative to
// the existing canonical. needsReviewNow/aiAssistedNow are the freshly
// computed flags from the new decision set; both are OR'd with the existing
// values so neither is ever silently downgraded from true to false (only an
// explicit review action may do that).
func Enrich(existing model.CanonicalEvent, records []model.Record, needsReviewNow, aiAssistedNow bool) (model.CanonicalEvent, error) {
	fresh, err := Synthesize(records)
	if err != nil {
		return model.CanonicalEvent{}, err
	}

	fresh.ID = existing.ID
	preventDowngrade(&fresh, existing, "title", existing.Title)
	preventDowngrade(&fresh, existing, "short_description", existing.ShortDescription)
	preventDowngrade(&fresh, existing, "description", existing.Description)

	fresh.NeedsReview = existing.NeedsReview || needsReviewNow
	fresh.AIAssisted = existing.AIAssisted || aiAssistedNow
	fresh.Version = existing.Version + 1
	fresh.CreatedAt = existing.CreatedAt

	return fresh, nil
}

func preventDowngrade(fresh *model.CanonicalEvent, existing model.CanonicalEvent, field, existingValue string) {
	var freshValue *string
	switch field {
	case "title":
		freshValue = &fresh.Title
	case "short_description":
		freshValue = &fresh.ShortDescription
	case "description":
		freshValue = &fresh.Description
	}
	if len(existingValue) > len(*freshValue) {
		*freshValue = existingValue
		fresh.FieldProvenance[field] = existing.FieldProvenance[field]
	}
}

func longestNonGeneric(records []model.Record, get func(model.Record) string) (string, string) {
	var bestVal, bestID string
	var bestLen = -1
	var fallbackVal, fallbackID string
	var fallbackLen = -1

	for _, r := range records {
		v := get(r)
		if len(v) >= titleMinNonGenericLen && len(v) > bestLen {
			bestVal, bestID, bestLen = v, r.ID, len(v)
		}
		if len(v) > fallbackLen {
			fallbackVal, fallbackID, fallbackLen = v, r.ID, len(v)
		}
	}
	if bestLen >= 0 {
		return bestVal, bestID
	}
	return fallbackVal, fallbackID
}

func longest(records []model.Record, get func(model.Record) string) (string, string) {
	var bestVal, bestID string
	bestLen := -1
	for _, r := range records {
		v := get(r)
		if v == "" {
			continue
		}
		if len(v) > bestLen {
			bestVal, bestID, bestLen = v, r.ID, len(v)
		}
	}
	return bestVal, bestID
}

// mostComplete is longest by contract; kept as a distinct name so field
// strategy assignment in this file reads the same as the field-class table.
func mostComplete(records []model.Record, get func(model.Record) string) (string, string) {
	return longest(records, get)
}

func mostFrequent(records []model.Record, get func(model.Record) string) (string, string) {
	type count struct {
		value    string
		id       string
		n        int
		firstPos int
	}
	counts := make(map[string]*count)
	pos := 0
	for _, r := range records {
		v := get(r)
		if v == "" {
			continue
		}
		c, ok := counts[v]
		if !ok {
			counts[v] = &count{value: v, id: r.ID, n: 1, firstPos: pos}
		} else {
			c.n++
		}
		pos++
	}
	if len(counts) == 0 {
		return "", ""
	}
	ordered := make([]*count, 0, len(counts))
	for _, c := range counts {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].n != ordered[j].n {
			return ordered[i].n > ordered[j].n
		}
		return ordered[i].firstPos < ordered[j].firstPos
	})
	return ordered[0].value, ordered[0].id
}

func unionStrings(records []model.Record, get func(model.Record) []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		for _, v := range get(r) {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func highestConfidenceGeo(records []model.Record) (*float64, *float64, *float64, string) {
	var bestConf float64 = -1
	var bestLat, bestLon, bestGeoConf *float64
	var bestID string
	for _, r := range records {
		if r.GeoConfidence == nil || !r.HasCoordinates() {
			continue
		}
		if *r.GeoConfidence > bestConf {
			bestConf = *r.GeoConfidence
			bestLat, bestLon, bestGeoConf = r.GeoLatitude, r.GeoLongitude, r.GeoConfidence
			bestID = r.ID
		}
	}
	if bestID == "" {
		return nil, nil, nil, ""
	}
	return bestLat, bestLon, bestGeoConf, bestID
}

func anyTrue(records []model.Record, get func(model.Record) *bool) (*bool, string) {
	for _, r := range records {
		v := get(r)
		if v != nil && *v {
			t := true
			return &t, r.ID
		}
	}
	for _, r := range records {
		if get(r) != nil {
			f := false
			return &f, r.ID
		}
	}
	return nil, ""
}

func unionDates(records []model.Record) []model.DateRange {
	type key struct {
		date, start, end, endDate string
	}
	seen := make(map[key]struct{})
	var out []model.DateRange
	for _, r := range records {
		for _, d := range r.Dates {
			k := key{date: d.Date, start: derefStr(d.StartTime), end: derefStr(d.EndTime), endDate: derefStr(d.EndDate)}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, d)
		}
	}
	return out
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dateSpan(dates []model.DateRange) (first, last string) {
	for _, d := range dates {
		if d.Date == "" {
			continue
		}
		if first == "" || d.Date < first {
			first = d.Date
		}
		end := d.Date
		if d.EndDate != nil && *d.EndDate != "" {
			end = *d.EndDate
		}
		if last == "" || end > last {
			last = end
		}
	}
	return first, last
}
