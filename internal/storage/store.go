// Package storage defines the persistence contract shared by the memory,
// SQLite, and PostgreSQL backends: a replace-all write for full pipeline
// runs, plus the narrower read/write operations review and evaluation need.
package storage

import (
	"context"
	"errors"

	"github.com/regioevents/dedupe/internal/model"
)

var (
	ErrNotFound    = errors.New("storage: not found")
	ErrConflict    = errors.New("storage: conflict")
	ErrInvalidArg  = errors.New("storage: invalid argument")
)

// RunResult is everything one full pipeline run produces, written
// atomically via ReplaceAll.
type RunResult struct {
	MatchDecisions  []model.MatchDecision
	CanonicalEvents []model.CanonicalEvent
	Sources         []model.CanonicalEventSource
}

// Store is the full persistence surface. Implementations must make
// ReplaceAll and the review mutators (Split/Merge/Dismiss, via WithTx)
// atomic: any returned error must leave prior state untouched.
type Store interface {
	// ReplaceAll deletes existing match_decisions, canonical_event_sources,
	// and canonical_events rows and inserts the new set, in one transaction.
	ReplaceAll(ctx context.Context, result RunResult) error

	MatchDecisions(ctx context.Context) ([]model.MatchDecision, error)
	CanonicalEvent(ctx context.Context, id string) (model.CanonicalEvent, error)
	CanonicalEvents(ctx context.Context, needsReviewOnly bool) ([]model.CanonicalEvent, error)
	SourcesForCanonical(ctx context.Context, canonicalID string) ([]string, error)
	CanonicalForSource(ctx context.Context, sourceID string) (string, error)

	CacheLookup(ctx context.Context, pairHash string) (model.CacheEntry, bool, error)
	CacheStore(ctx context.Context, entry model.CacheEntry) error
	AppendUsageLog(ctx context.Context, row model.UsageLogRow) error

	AppendAudit(ctx context.Context, rec model.AuditRecord) error

	// WithTx runs fn inside a single transaction-scoped Tx, committing on
	// nil return and rolling back otherwise. Used by internal/review so
	// split/merge/dismiss are all-or-nothing.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the subset of Store operations valid inside a review transaction.
type Tx interface {
	DeleteCanonicalEventSource(ctx context.Context, canonicalID, sourceID string) error
	InsertCanonicalEventSource(ctx context.Context, canonicalID, sourceID string) error
	CountSourcesForCanonical(ctx context.Context, canonicalID string) (int, error)
	RecordsForCanonical(ctx context.Context, canonicalID string) ([]model.Record, error)
	PutCanonicalEvent(ctx context.Context, ev model.CanonicalEvent) error
	DeleteCanonicalEvent(ctx context.Context, canonicalID string) error
	GetCanonicalEvent(ctx context.Context, canonicalID string) (model.CanonicalEvent, error)
	HasSourceLink(ctx context.Context, canonicalID, sourceID string) (bool, error)
	AppendAudit(ctx context.Context, rec model.AuditRecord) error
	NewCanonicalID(ctx context.Context) (string, error)
}
