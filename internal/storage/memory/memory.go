// Package memory is an in-process Store used by tests and the CLI's
// --store=memory mode. It implements the same replace-all and
// transactional review semantics as the SQL-backed stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/internal/storage"
)

// Store is a mutex-guarded in-memory implementation of storage.Store.
type Store struct {
	mu sync.Mutex

	decisions  map[string]model.MatchDecision // keyed by PairKey
	canonicals map[string]model.CanonicalEvent
	sources    map[string]map[string]struct{} // canonicalID -> sourceIDs
	sourceOf   map[string]string              // sourceID -> canonicalID
	records    map[string]model.Record        // sourceID -> record, for re-synthesis

	cache     map[string]model.CacheEntry
	usageLog  []model.UsageLogRow
	audit     []model.AuditRecord
	nextID    int
}

func New() *Store {
	return &Store{
		decisions:  make(map[string]model.MatchDecision),
		canonicals: make(map[string]model.CanonicalEvent),
		sources:    make(map[string]map[string]struct{}),
		sourceOf:   make(map[string]string),
		records:    make(map[string]model.Record),
		cache:      make(map[string]model.CacheEntry),
	}
}

// SeedRecords registers source records so review re-synthesis can look them
// up by id. Ingestion-facing stores would persist these separately; the
// in-memory store keeps them alongside everything else for simplicity.
func (s *Store) SeedRecords(records []model.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.ID] = r
	}
}

func (s *Store) ReplaceAll(ctx context.Context, result storage.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisions = make(map[string]model.MatchDecision, len(result.MatchDecisions))
	for _, d := range result.MatchDecisions {
		s.decisions[d.PairKey()] = d
	}

	s.canonicals = make(map[string]model.CanonicalEvent, len(result.CanonicalEvents))
	for _, c := range result.CanonicalEvents {
		s.canonicals[c.ID] = c
	}

	s.sources = make(map[string]map[string]struct{})
	s.sourceOf = make(map[string]string)
	for _, src := range result.Sources {
		if s.sources[src.CanonicalID] == nil {
			s.sources[src.CanonicalID] = make(map[string]struct{})
		}
		s.sources[src.CanonicalID][src.SourceEventID] = struct{}{}
		s.sourceOf[src.SourceEventID] = src.CanonicalID
	}
	return nil
}

func (s *Store) MatchDecisions(ctx context.Context) ([]model.MatchDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.MatchDecision, 0, len(s.decisions))
	for _, d := range s.decisions {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IDA != out[j].IDA {
			return out[i].IDA < out[j].IDA
		}
		return out[i].IDB < out[j].IDB
	})
	return out, nil
}

func (s *Store) CanonicalEvent(ctx context.Context, id string) (model.CanonicalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.canonicals[id]
	if !ok {
		return model.CanonicalEvent{}, fmt.Errorf("%w: canonical %q", storage.ErrNotFound, id)
	}
	return ev, nil
}

func (s *Store) CanonicalEvents(ctx context.Context, needsReviewOnly bool) ([]model.CanonicalEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.CanonicalEvent, 0, len(s.canonicals))
	for _, ev := range s.canonicals {
		if needsReviewOnly && !ev.NeedsReview {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SourcesForCanonical(ctx context.Context, canonicalID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.sources[canonicalID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) CanonicalForSource(ctx context.Context, sourceID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.sourceOf[sourceID]
	if !ok {
		return "", fmt.Errorf("%w: source %q", storage.ErrNotFound, sourceID)
	}
	return id, nil
}

func (s *Store) CacheLookup(ctx context.Context, pairHash string) (model.CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[pairHash]
	return entry, ok, nil
}

func (s *Store) CacheStore(ctx context.Context, entry model.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cache[entry.PairHash]; exists {
		// Conflict on unique pair_hash is ignored: concurrent producers race
		// to populate the same cache row and the first writer wins.
		return nil
	}
	s.cache[entry.PairHash] = entry
	return nil
}

func (s *Store) AppendUsageLog(ctx context.Context, row model.UsageLogRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row.ID = int64(len(s.usageLog) + 1)
	s.usageLog = append(s.usageLog, row)
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendAuditLocked(rec)
}

func (s *Store) appendAuditLocked(rec model.AuditRecord) error {
	s.nextID++
	rec.ID = int64(s.nextID)
	s.audit = append(s.audit, rec)
	return nil
}

// WithTx serializes on the store mutex for the duration of fn: the
// in-memory store has no separate transaction log, so the lock itself is
// the atomicity boundary. A non-nil return leaves the snapshot taken before
// fn ran in place.
func (s *Store) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotLocked()
	tx := &tx{s: s}
	if err := fn(tx); err != nil {
		s.restoreLocked(snapshot)
		return err
	}
	return nil
}

type storeSnapshot struct {
	canonicals map[string]model.CanonicalEvent
	sources    map[string]map[string]struct{}
	sourceOf   map[string]string
	audit      []model.AuditRecord
	nextID     int
}

func (s *Store) snapshotLocked() storeSnapshot {
	canonicals := make(map[string]model.CanonicalEvent, len(s.canonicals))
	for k, v := range s.canonicals {
		canonicals[k] = v
	}
	sources := make(map[string]map[string]struct{}, len(s.sources))
	for k, v := range s.sources {
		inner := make(map[string]struct{}, len(v))
		for id := range v {
			inner[id] = struct{}{}
		}
		sources[k] = inner
	}
	sourceOf := make(map[string]string, len(s.sourceOf))
	for k, v := range s.sourceOf {
		sourceOf[k] = v
	}
	audit := append([]model.AuditRecord(nil), s.audit...)
	return storeSnapshot{canonicals: canonicals, sources: sources, sourceOf: sourceOf, audit: audit, nextID: s.nextID}
}

func (s *Store) restoreLocked(snap storeSnapshot) {
	s.canonicals = snap.canonicals
	s.sources = snap.sources
	s.sourceOf = snap.sourceOf
	s.audit = snap.audit
	s.nextID = snap.nextID
}

type tx struct {
	s *Store
}

func (t *tx) DeleteCanonicalEventSource(ctx context.Context, canonicalID, sourceID string) error {
	set := t.s.sources[canonicalID]
	if set == nil {
		return fmt.Errorf("%w: link %s/%s", storage.ErrNotFound, canonicalID, sourceID)
	}
	if _, ok := set[sourceID]; !ok {
		return fmt.Errorf("%w: link %s/%s", storage.ErrNotFound, canonicalID, sourceID)
	}
	delete(set, sourceID)
	if len(set) == 0 {
		delete(t.s.sources, canonicalID)
	}
	delete(t.s.sourceOf, sourceID)
	return nil
}

func (t *tx) InsertCanonicalEventSource(ctx context.Context, canonicalID, sourceID string) error {
	if t.s.sources[canonicalID] == nil {
		t.s.sources[canonicalID] = make(map[string]struct{})
	}
	t.s.sources[canonicalID][sourceID] = struct{}{}
	t.s.sourceOf[sourceID] = canonicalID
	return nil
}

func (t *tx) CountSourcesForCanonical(ctx context.Context, canonicalID string) (int, error) {
	return len(t.s.sources[canonicalID]), nil
}

func (t *tx) RecordsForCanonical(ctx context.Context, canonicalID string) ([]model.Record, error) {
	ids := make([]string, 0, len(t.s.sources[canonicalID]))
	for id := range t.s.sources[canonicalID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]model.Record, 0, len(ids))
	for _, id := range ids {
		r, ok := t.s.records[id]
		if !ok {
			return nil, fmt.Errorf("%w: record %q", storage.ErrNotFound, id)
		}
		out = append(out, r)
	}
	return out, nil
}

func (t *tx) PutCanonicalEvent(ctx context.Context, ev model.CanonicalEvent) error {
	t.s.canonicals[ev.ID] = ev
	return nil
}

func (t *tx) DeleteCanonicalEvent(ctx context.Context, canonicalID string) error {
	if _, ok := t.s.canonicals[canonicalID]; !ok {
		return fmt.Errorf("%w: canonical %q", storage.ErrNotFound, canonicalID)
	}
	delete(t.s.canonicals, canonicalID)
	return nil
}

func (t *tx) GetCanonicalEvent(ctx context.Context, canonicalID string) (model.CanonicalEvent, error) {
	ev, ok := t.s.canonicals[canonicalID]
	if !ok {
		return model.CanonicalEvent{}, fmt.Errorf("%w: canonical %q", storage.ErrNotFound, canonicalID)
	}
	return ev, nil
}

func (t *tx) HasSourceLink(ctx context.Context, canonicalID, sourceID string) (bool, error) {
	set := t.s.sources[canonicalID]
	if set == nil {
		return false, nil
	}
	_, ok := set[sourceID]
	return ok, nil
}

func (t *tx) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	return t.s.appendAuditLocked(rec)
}

func (t *tx) NewCanonicalID(ctx context.Context) (string, error) {
	t.s.nextID++
	return fmt.Sprintf("canon-%d", t.s.nextID), nil
}
