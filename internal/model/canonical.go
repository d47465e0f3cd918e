package model

import "time"

// UnionAllSources is the provenance sentinel for fields synthesized from the
// full cluster rather than copied from a single source record.
const UnionAllSources = "union_all_sources"

// CanonicalEvent is the deduplicated event derived from a non-empty cluster
// of source records.
type CanonicalEvent struct {
	ID string `json:"id"`

	Title             string   `json:"title"`
	ShortDescription  string   `json:"short_description"`
	Description       string   `json:"description"`
	Highlights        []string `json:"highlights"`
	Categories        []string `json:"categories"`

	LocationName     string `json:"location_name"`
	LocationCity     string `json:"location_city"`
	LocationDistrict string `json:"location_district"`
	LocationStreet   string `json:"location_street"`
	LocationZipcode  string `json:"location_zipcode"`

	GeoLatitude   *float64 `json:"geo_latitude,omitempty"`
	GeoLongitude  *float64 `json:"geo_longitude,omitempty"`
	GeoConfidence *float64 `json:"geo_confidence,omitempty"`

	IsFamilyEvent  *bool `json:"is_family_event,omitempty"`
	IsChildFocused *bool `json:"is_child_focused,omitempty"`
	AdmissionFree  *bool `json:"admission_free,omitempty"`

	Dates []DateRange `json:"dates"`

	SourceCount    int      `json:"source_count"`
	MatchConfidence *float64 `json:"match_confidence,omitempty"`
	NeedsReview    bool     `json:"needs_review"`
	AIAssisted     bool     `json:"ai_assisted"`

	FirstDate string `json:"first_date,omitempty"`
	LastDate  string `json:"last_date,omitempty"`

	FieldProvenance map[string]string `json:"field_provenance"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanonicalEventSource links a canonical event to one of its source records.
type CanonicalEventSource struct {
	CanonicalID    string `json:"canonical_id"`
	SourceEventID  string `json:"source_event_id"`
}

type AuditAction string

const (
	AuditSplit          AuditAction = "split"
	AuditMerge          AuditAction = "merge"
	AuditOverride       AuditAction = "override"
	AuditReviewApprove  AuditAction = "review_approve"
	AuditReviewDismiss  AuditAction = "review_dismiss"
)

// AuditRecord is an append-only log entry for a review operation.
type AuditRecord struct {
	ID          int64          `json:"id"`
	Action      AuditAction    `json:"action"`
	CanonicalID string         `json:"canonical_id,omitempty"`
	SourceID    string         `json:"source_id,omitempty"`
	Operator    string         `json:"operator"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

type AIResolution string

const (
	AISame      AIResolution = "same"
	AIDifferent AIResolution = "different"
)

// CacheEntry is a content-addressed LLM resolution reusable across runs,
// unique by PairHash. Reusable only if Model matches the current resolver
// model.
type CacheEntry struct {
	PairHash   string       `json:"pair_hash"`
	Decision   AIResolution `json:"decision"`
	Confidence float64      `json:"confidence"`
	Reasoning  string       `json:"reasoning"`
	Model      string       `json:"model"`
	CreatedAt  time.Time    `json:"created_at"`
}

// UsageLogRow records one LLM call or cache hit for cost accounting.
type UsageLogRow struct {
	ID         int64     `json:"id"`
	BatchID    string    `json:"batch_id"`
	PairHash   string    `json:"pair_hash"`
	TokensIn   int       `json:"tokens_in"`
	TokensOut  int       `json:"tokens_out"`
	CostUSD    float64   `json:"cost_usd"`
	WasCached  bool      `json:"was_cached"`
	CreatedAt  time.Time `json:"created_at"`
}

// GroundTruthPair is a labeled pair used by the evaluator.
type GroundTruthPair struct {
	IDA   string       `json:"id_a"`
	IDB   string       `json:"id_b"`
	Label PairLabel    `json:"label"`
}

type PairLabel string

const (
	LabelSame      PairLabel = "same"
	LabelDifferent PairLabel = "different"
	LabelAmbiguous PairLabel = "ambiguous"
)
