package config

import "encoding/json"

// Config is the typed dedupe configuration surface. Every field has a
// documented default matched by Default().
type Config struct {
	Scoring    ScoringConfig    `json:"scoring" yaml:"scoring"`
	Thresholds ThresholdsConfig `json:"thresholds" yaml:"thresholds"`
	Geo        GeoConfig        `json:"geo" yaml:"geo"`
	Date       DateConfig       `json:"date" yaml:"date"`
	Title      TitleConfig      `json:"title" yaml:"title"`
	Cluster    ClusterConfig    `json:"cluster" yaml:"cluster"`
	Canonical  CanonicalConfig  `json:"canonical" yaml:"canonical"`
	Category   CategoryConfig   `json:"category_weights" yaml:"category_weights"`
	AI         AIConfig         `json:"ai" yaml:"ai"`
}

type ScoringConfig struct {
	Weights SignalWeights `json:"weights" yaml:"weights"`
}

// SignalWeights holds the four per-signal weights; Normalize rescales them to sum to 1.
type SignalWeights struct {
	Date        float64 `json:"date" yaml:"date"`
	Geo         float64 `json:"geo" yaml:"geo"`
	Title       float64 `json:"title" yaml:"title"`
	Description float64 `json:"description" yaml:"description"`
}

// Normalize scales the four weights so they sum to 1. A zero-sum vector is
// left untouched (callers should treat that as "all signals disabled").
func (w SignalWeights) Normalize() SignalWeights {
	sum := w.Date + w.Geo + w.Title + w.Description
	if sum <= 0 {
		return w
	}
	return SignalWeights{
		Date:        w.Date / sum,
		Geo:         w.Geo / sum,
		Title:       w.Title / sum,
		Description: w.Description / sum,
	}
}

type ThresholdsConfig struct {
	High      float64 `json:"high" yaml:"high"`
	Low       float64 `json:"low" yaml:"low"`
	TitleVeto float64 `json:"title_veto" yaml:"title_veto"`
}

type GeoConfig struct {
	MaxDistanceKm        float64 `json:"max_distance_km" yaml:"max_distance_km"`
	MinConfidence        float64 `json:"min_confidence" yaml:"min_confidence"`
	NeutralScore         float64 `json:"neutral_score" yaml:"neutral_score"`
	VenueMatchDistanceKm float64 `json:"venue_match_distance_km" yaml:"venue_match_distance_km"`
	VenueMismatchFactor  float64 `json:"venue_mismatch_factor" yaml:"venue_mismatch_factor"`
}

type DateConfig struct {
	TimeToleranceMinutes float64 `json:"time_tolerance_minutes" yaml:"time_tolerance_minutes"`
	TimeCloseMinutes     float64 `json:"time_close_minutes" yaml:"time_close_minutes"`
	CloseFactor          float64 `json:"close_factor" yaml:"close_factor"`
	FarFactor            float64 `json:"far_factor" yaml:"far_factor"`
	TimeGapPenaltyHours  float64 `json:"time_gap_penalty_hours" yaml:"time_gap_penalty_hours"`
	TimeGapPenaltyFactor float64 `json:"time_gap_penalty_factor" yaml:"time_gap_penalty_factor"`
}

type TitleConfig struct {
	PrimaryWeight    float64                `json:"primary_weight" yaml:"primary_weight"`
	SecondaryWeight  float64                `json:"secondary_weight" yaml:"secondary_weight"`
	BlendLower       float64                `json:"blend_lower" yaml:"blend_lower"`
	BlendUpper       float64                `json:"blend_upper" yaml:"blend_upper"`
	CrossSourceType  CrossSourceTypeBlend   `json:"cross_source_type" yaml:"cross_source_type"`
	CrossSourcePairs []CrossSourceTypePair  `json:"cross_source_pairs" yaml:"cross_source_pairs"`
}

type CrossSourceTypeBlend struct {
	PrimaryWeight   float64 `json:"primary_weight" yaml:"primary_weight"`
	SecondaryWeight float64 `json:"secondary_weight" yaml:"secondary_weight"`
	BlendLower      float64 `json:"blend_lower" yaml:"blend_lower"`
	BlendUpper      float64 `json:"blend_upper" yaml:"blend_upper"`
}

// CrossSourceTypePair names a pair of source types eligible for the
// cross-source-type title blend override (default: article<->listing only).
type CrossSourceTypePair struct {
	A string `json:"a" yaml:"a"`
	B string `json:"b" yaml:"b"`
}

type ClusterConfig struct {
	MaxClusterSize        int     `json:"max_cluster_size" yaml:"max_cluster_size"`
	MinInternalSimilarity float64 `json:"min_internal_similarity" yaml:"min_internal_similarity"`
}

// CanonicalConfig carries the field->strategy mapping as configuration.
// internal/synth applies its own fixed per-field strategies and does not
// read this mapping.
type CanonicalConfig struct {
	FieldStrategies map[string]string `json:"field_strategies" yaml:"field_strategies"`
}

type CategoryConfig struct {
	Priority  []string                 `json:"priority" yaml:"priority"`
	Overrides map[string]SignalWeights `json:"overrides" yaml:"overrides"`
}

type AIConfig struct {
	Enabled               bool    `json:"enabled" yaml:"enabled"`
	Model                 string  `json:"model" yaml:"model"`
	Temperature           float64 `json:"temperature" yaml:"temperature"`
	MaxOutputTokens       int     `json:"max_output_tokens" yaml:"max_output_tokens"`
	MaxConcurrentRequests int     `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	ConfidenceThreshold   float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	CacheEnabled          bool    `json:"cache_enabled" yaml:"cache_enabled"`
	CostPer1MInputTokens  float64 `json:"cost_per_1m_input_tokens" yaml:"cost_per_1m_input_tokens"`
	CostPer1MOutputTokens float64 `json:"cost_per_1m_output_tokens" yaml:"cost_per_1m_output_tokens"`
}

// Default returns the documented default configuration (spec.md §6).
func Default() Config {
	return Config{
		Scoring: ScoringConfig{
			Weights: SignalWeights{Date: 0.30, Geo: 0.25, Title: 0.30, Description: 0.15},
		},
		Thresholds: ThresholdsConfig{High: 0.75, Low: 0.35, TitleVeto: 0.30},
		Geo: GeoConfig{
			MaxDistanceKm:        10,
			MinConfidence:        0.85,
			NeutralScore:         0.5,
			VenueMatchDistanceKm: 1.0,
			VenueMismatchFactor:  0.5,
		},
		Date: DateConfig{
			TimeToleranceMinutes: 30,
			TimeCloseMinutes:     90,
			CloseFactor:          0.7,
			FarFactor:            0.3,
			TimeGapPenaltyHours:  2.0,
			TimeGapPenaltyFactor: 0.15,
		},
		Title: TitleConfig{
			PrimaryWeight:   0.7,
			SecondaryWeight: 0.3,
			BlendLower:      0.40,
			BlendUpper:      0.80,
			CrossSourceType: CrossSourceTypeBlend{
				PrimaryWeight:   0.4,
				SecondaryWeight: 0.6,
				BlendLower:      0.25,
				BlendUpper:      0.95,
			},
			CrossSourcePairs: []CrossSourceTypePair{{A: "article", B: "listing"}},
		},
		Cluster: ClusterConfig{MaxClusterSize: 15, MinInternalSimilarity: 0.40},
		Canonical: CanonicalConfig{
			FieldStrategies: map[string]string{
				"title":         "longest_non_generic",
				"description":   "most_complete",
				"city":          "most_frequent",
				"venue":         "most_frequent",
				"location_name": "most_frequent",
				"category":      "union",
				"url":           "highest_confidence",
				"image_url":     "highest_confidence",
				"is_free":       "any_true",
				"dates":         "date_union",
			},
		},
		Category: CategoryConfig{
			Priority:  nil,
			Overrides: map[string]SignalWeights{},
		},
		AI: AIConfig{
			Enabled:               false,
			Model:                 "",
			Temperature:           0,
			MaxOutputTokens:       256,
			MaxConcurrentRequests: 4,
			ConfidenceThreshold:   0.6,
			CacheEnabled:          true,
			CostPer1MInputTokens:  0,
			CostPer1MOutputTokens: 0,
		},
	}
}

// Decode overlays bundle.Merged onto Default() via a JSON round-trip: the
// merged tree is already deterministic (sorted-key canonical encoding), so
// unmarshaling into Config simply fills in whatever the layers specified and
// leaves defaulted fields alone as long as the JSON key is absent.
func Decode(merged map[string]any) (Config, error) {
	cfg := Default()
	if len(merged) == 0 {
		return cfg, nil
	}
	b, err := json.Marshal(merged)
	if err != nil {
		return Config{}, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
