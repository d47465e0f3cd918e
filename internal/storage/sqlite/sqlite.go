// Package sqlite is the SQLite-backed storage.Store, grounded on the
// control-plane aggregator's WAL-mode DSN and single-writer-connection
// conventions: one busy-timeout'd, foreign-key-enforcing connection shared
// across the process since SQLite serializes writers anyway.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/internal/storage"
)

// Store is a database/sql-backed storage.Store for SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) a WAL-mode SQLite database at path.
// A single connection is kept open: SQLite only ever allows one writer, so
// pooling beyond that just adds SQLITE_BUSY retries.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=ON", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the backing tables if they do not exist. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS match_decisions (
			id_a TEXT NOT NULL, id_b TEXT NOT NULL,
			date_score REAL NOT NULL, geo_score REAL NOT NULL,
			title_score REAL NOT NULL, description_score REAL NOT NULL,
			combined_score REAL NOT NULL,
			decision TEXT NOT NULL, tier TEXT NOT NULL,
			PRIMARY KEY (id_a, id_b)
		);`,
		`CREATE TABLE IF NOT EXISTS canonical_events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL, short_description TEXT NOT NULL, description TEXT NOT NULL,
			highlights_json TEXT NOT NULL, categories_json TEXT NOT NULL,
			location_name TEXT NOT NULL, location_city TEXT NOT NULL, location_district TEXT NOT NULL,
			location_street TEXT NOT NULL, location_zipcode TEXT NOT NULL,
			geo_latitude REAL, geo_longitude REAL, geo_confidence REAL,
			is_family_event INTEGER, is_child_focused INTEGER, admission_free INTEGER,
			dates_json TEXT NOT NULL,
			source_count INTEGER NOT NULL, match_confidence REAL,
			needs_review INTEGER NOT NULL, ai_assisted INTEGER NOT NULL,
			first_date TEXT NOT NULL, last_date TEXT NOT NULL,
			field_provenance_json TEXT NOT NULL,
			version INTEGER NOT NULL, created_at TEXT NOT NULL, updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS canonical_event_sources (
			canonical_id TEXT NOT NULL, source_event_id TEXT NOT NULL,
			PRIMARY KEY (canonical_id, source_event_id)
		);`,
		`CREATE TABLE IF NOT EXISTS source_records (
			id TEXT PRIMARY KEY, data_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS llm_cache (
			pair_hash TEXT PRIMARY KEY, decision TEXT NOT NULL, confidence REAL NOT NULL,
			reasoning TEXT NOT NULL, model TEXT NOT NULL, created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS llm_usage_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT, batch_id TEXT NOT NULL, pair_hash TEXT NOT NULL,
			tokens_in INTEGER NOT NULL, tokens_out INTEGER NOT NULL, cost_usd REAL NOT NULL,
			was_cached INTEGER NOT NULL, created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT, action TEXT NOT NULL, canonical_id TEXT, source_id TEXT,
			operator TEXT NOT NULL, details_json TEXT, created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_event_sources_source ON canonical_event_sources (source_event_id);`,
		`CREATE INDEX IF NOT EXISTS idx_canonical_events_needs_review ON canonical_events (needs_review);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

// SeedRecord persists a source record so review operations (split/merge) can
// re-synthesize from it later. The in-memory store keeps these in a plain
// map; SQLite needs them durable across process restarts.
func (s *Store) SeedRecord(ctx context.Context, r model.Record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("sqlite: encode source record: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO source_records (id, data_json) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET data_json = excluded.data_json`, r.ID, string(data))
	if err != nil {
		return fmt.Errorf("sqlite: seed record: %w", err)
	}
	return nil
}

func (s *Store) ReplaceAll(ctx context.Context, result storage.RunResult) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer sqlTx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM match_decisions`, `DELETE FROM canonical_event_sources`, `DELETE FROM canonical_events`,
	} {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: replace all, clear: %w", err)
		}
	}

	for _, d := range result.MatchDecisions {
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO match_decisions (id_a, id_b, date_score, geo_score, title_score, description_score, combined_score, decision, tier)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			d.IDA, d.IDB, d.DateScore, d.GeoScore, d.TitleScore, d.DescriptionScore, d.CombinedScore, string(d.Decision), string(d.Tier)); err != nil {
			return fmt.Errorf("sqlite: insert match_decision: %w", err)
		}
	}

	for _, ev := range result.CanonicalEvents {
		if err := insertCanonicalEvent(ctx, sqlTx, ev); err != nil {
			return err
		}
	}

	for _, src := range result.Sources {
		if _, err := sqlTx.ExecContext(ctx, `
			INSERT INTO canonical_event_sources (canonical_id, source_event_id) VALUES (?,?)`,
			src.CanonicalID, src.SourceEventID); err != nil {
			return fmt.Errorf("sqlite: insert source link: %w", err)
		}
	}

	return sqlTx.Commit()
}

func insertCanonicalEvent(ctx context.Context, tx *sql.Tx, ev model.CanonicalEvent) error {
	highlights, _ := json.Marshal(ev.Highlights)
	categories, _ := json.Marshal(ev.Categories)
	dates, _ := json.Marshal(ev.Dates)
	provenance, _ := json.Marshal(sortedProvenance(ev.FieldProvenance))

	_, err := tx.ExecContext(ctx, `
		INSERT INTO canonical_events (
			id, title, short_description, description, highlights_json, categories_json,
			location_name, location_city, location_district, location_street, location_zipcode,
			geo_latitude, geo_longitude, geo_confidence,
			is_family_event, is_child_focused, admission_free,
			dates_json, source_count, match_confidence, needs_review, ai_assisted,
			first_date, last_date, field_provenance_json, version, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (id) DO UPDATE SET
			title=excluded.title, short_description=excluded.short_description, description=excluded.description,
			highlights_json=excluded.highlights_json, categories_json=excluded.categories_json,
			location_name=excluded.location_name, location_city=excluded.location_city,
			location_district=excluded.location_district, location_street=excluded.location_street,
			location_zipcode=excluded.location_zipcode,
			geo_latitude=excluded.geo_latitude, geo_longitude=excluded.geo_longitude, geo_confidence=excluded.geo_confidence,
			is_family_event=excluded.is_family_event, is_child_focused=excluded.is_child_focused, admission_free=excluded.admission_free,
			dates_json=excluded.dates_json, source_count=excluded.source_count, match_confidence=excluded.match_confidence,
			needs_review=excluded.needs_review, ai_assisted=excluded.ai_assisted,
			first_date=excluded.first_date, last_date=excluded.last_date,
			field_provenance_json=excluded.field_provenance_json, version=excluded.version, updated_at=excluded.updated_at`,
		ev.ID, ev.Title, ev.ShortDescription, ev.Description, string(highlights), string(categories),
		ev.LocationName, ev.LocationCity, ev.LocationDistrict, ev.LocationStreet, ev.LocationZipcode,
		ev.GeoLatitude, ev.GeoLongitude, ev.GeoConfidence,
		boolPtrToInt(ev.IsFamilyEvent), boolPtrToInt(ev.IsChildFocused), boolPtrToInt(ev.AdmissionFree),
		string(dates), ev.SourceCount, ev.MatchConfidence, ev.NeedsReview, ev.AIAssisted,
		ev.FirstDate, ev.LastDate, string(provenance), ev.Version, timeOrNow(ev.CreatedAt).Format(time.RFC3339Nano), timeOrNow(ev.UpdatedAt).Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert canonical_event: %w", err)
	}
	return nil
}

func (s *Store) MatchDecisions(ctx context.Context) ([]model.MatchDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id_a, id_b, date_score, geo_score, title_score, description_score, combined_score, decision, tier
		FROM match_decisions ORDER BY id_a, id_b`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: match_decisions: %w", err)
	}
	defer rows.Close()

	var out []model.MatchDecision
	for rows.Next() {
		var d model.MatchDecision
		var decision, tier string
		if err := rows.Scan(&d.IDA, &d.IDB, &d.DateScore, &d.GeoScore, &d.TitleScore, &d.DescriptionScore, &d.CombinedScore, &decision, &tier); err != nil {
			return nil, fmt.Errorf("sqlite: scan match_decision: %w", err)
		}
		d.Decision, d.Tier = model.Decision(decision), model.Tier(tier)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CanonicalEvent(ctx context.Context, id string) (model.CanonicalEvent, error) {
	row := s.db.QueryRowContext(ctx, canonicalSelectQuery+` WHERE id = ?`, id)
	ev, err := scanCanonicalEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CanonicalEvent{}, fmt.Errorf("%w: canonical %q", storage.ErrNotFound, id)
	}
	return ev, err
}

func (s *Store) CanonicalEvents(ctx context.Context, needsReviewOnly bool) ([]model.CanonicalEvent, error) {
	q := canonicalSelectQuery
	if needsReviewOnly {
		q += ` WHERE needs_review = 1`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("sqlite: canonical_events: %w", err)
	}
	defer rows.Close()

	var out []model.CanonicalEvent
	for rows.Next() {
		ev, err := scanCanonicalEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

const canonicalSelectQuery = `SELECT id, title, short_description, description, highlights_json, categories_json,
	location_name, location_city, location_district, location_street, location_zipcode,
	geo_latitude, geo_longitude, geo_confidence,
	is_family_event, is_child_focused, admission_free,
	dates_json, source_count, match_confidence, needs_review, ai_assisted,
	first_date, last_date, field_provenance_json, version, created_at, updated_at
	FROM canonical_events`

type scanner interface {
	Scan(dest ...any) error
}

func scanCanonicalEvent(row scanner) (model.CanonicalEvent, error) {
	var ev model.CanonicalEvent
	var highlights, categories, dates, provenance, createdAt, updatedAt string
	var isFamily, isChild, admissionFree sql.NullInt64
	var needsReview, aiAssisted int
	if err := row.Scan(
		&ev.ID, &ev.Title, &ev.ShortDescription, &ev.Description, &highlights, &categories,
		&ev.LocationName, &ev.LocationCity, &ev.LocationDistrict, &ev.LocationStreet, &ev.LocationZipcode,
		&ev.GeoLatitude, &ev.GeoLongitude, &ev.GeoConfidence,
		&isFamily, &isChild, &admissionFree,
		&dates, &ev.SourceCount, &ev.MatchConfidence, &needsReview, &aiAssisted,
		&ev.FirstDate, &ev.LastDate, &provenance, &ev.Version, &createdAt, &updatedAt,
	); err != nil {
		return model.CanonicalEvent{}, err
	}
	_ = json.Unmarshal([]byte(highlights), &ev.Highlights)
	_ = json.Unmarshal([]byte(categories), &ev.Categories)
	_ = json.Unmarshal([]byte(dates), &ev.Dates)
	ev.FieldProvenance = make(map[string]string)
	_ = json.Unmarshal([]byte(provenance), &ev.FieldProvenance)
	ev.IsFamilyEvent = intToBoolPtr(isFamily)
	ev.IsChildFocused = intToBoolPtr(isChild)
	ev.AdmissionFree = intToBoolPtr(admissionFree)
	ev.NeedsReview = needsReview != 0
	ev.AIAssisted = aiAssisted != 0
	ev.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	ev.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return ev, nil
}

func (s *Store) SourcesForCanonical(ctx context.Context, canonicalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_event_id FROM canonical_event_sources WHERE canonical_id = ? ORDER BY source_event_id`, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: sources_for_canonical: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) CanonicalForSource(ctx context.Context, sourceID string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT canonical_id FROM canonical_event_sources WHERE source_event_id = ?`, sourceID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: source %q", storage.ErrNotFound, sourceID)
	}
	return id, err
}

func (s *Store) CacheLookup(ctx context.Context, pairHash string) (model.CacheEntry, bool, error) {
	var entry model.CacheEntry
	var decision, createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT pair_hash, decision, confidence, reasoning, model, created_at FROM llm_cache WHERE pair_hash = ?`, pairHash).
		Scan(&entry.PairHash, &decision, &entry.Confidence, &entry.Reasoning, &entry.Model, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CacheEntry{}, false, nil
	}
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("sqlite: cache_lookup: %w", err)
	}
	entry.Decision = model.AIResolution(decision)
	entry.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return entry, true, nil
}

func (s *Store) CacheStore(ctx context.Context, entry model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_cache (pair_hash, decision, confidence, reasoning, model, created_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT (pair_hash) DO NOTHING`,
		entry.PairHash, string(entry.Decision), entry.Confidence, entry.Reasoning, entry.Model, timeOrNow(entry.CreatedAt).Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: cache_store: %w", err)
	}
	return nil
}

func (s *Store) AppendUsageLog(ctx context.Context, row model.UsageLogRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_usage_log (batch_id, pair_hash, tokens_in, tokens_out, cost_usd, was_cached, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		row.BatchID, row.PairHash, row.TokensIn, row.TokensOut, row.CostUSD, row.WasCached, timeOrNow(row.CreatedAt).Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: append_usage_log: %w", err)
	}
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	details, _ := json.Marshal(rec.Details)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (action, canonical_id, source_id, operator, details_json, created_at)
		VALUES (?,?,?,?,?,?)`,
		string(rec.Action), rec.CanonicalID, rec.SourceID, rec.Operator, string(details), timeOrNow(rec.CreatedAt).Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: append_audit: %w", err)
	}
	return nil
}

// WithTx serializes through the single shared connection. SQLite only
// supports one writer at a time regardless, so this just makes that
// constraint explicit at the Go level.
func (s *Store) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	if err := fn(&tx{tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

type tx struct {
	tx *sql.Tx
}

func (t *tx) DeleteCanonicalEventSource(ctx context.Context, canonicalID, sourceID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM canonical_event_sources WHERE canonical_id=? AND source_event_id=?`, canonicalID, sourceID)
	if err != nil {
		return fmt.Errorf("sqlite: delete source link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: link %s/%s", storage.ErrNotFound, canonicalID, sourceID)
	}
	return nil
}

func (t *tx) InsertCanonicalEventSource(ctx context.Context, canonicalID, sourceID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO canonical_event_sources (canonical_id, source_event_id) VALUES (?,?)
		ON CONFLICT (canonical_id, source_event_id) DO NOTHING`, canonicalID, sourceID)
	if err != nil {
		return fmt.Errorf("sqlite: insert source link: %w", err)
	}
	return nil
}

func (t *tx) CountSourcesForCanonical(ctx context.Context, canonicalID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM canonical_event_sources WHERE canonical_id=?`, canonicalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count sources: %w", err)
	}
	return n, nil
}

func (t *tx) RecordsForCanonical(ctx context.Context, canonicalID string) ([]model.Record, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT sr.data_json FROM source_records sr
		JOIN canonical_event_sources ces ON ces.source_event_id = sr.id
		WHERE ces.canonical_id = ? ORDER BY sr.id`, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: records_for_canonical: %w", err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var r model.Record
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("sqlite: decode source record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *tx) PutCanonicalEvent(ctx context.Context, ev model.CanonicalEvent) error {
	return insertCanonicalEvent(ctx, t.tx, ev)
}

func (t *tx) DeleteCanonicalEvent(ctx context.Context, canonicalID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM canonical_events WHERE id=?`, canonicalID)
	if err != nil {
		return fmt.Errorf("sqlite: delete canonical_event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: canonical %q", storage.ErrNotFound, canonicalID)
	}
	return nil
}

func (t *tx) GetCanonicalEvent(ctx context.Context, canonicalID string) (model.CanonicalEvent, error) {
	row := t.tx.QueryRowContext(ctx, canonicalSelectQuery+` WHERE id = ?`, canonicalID)
	ev, err := scanCanonicalEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CanonicalEvent{}, fmt.Errorf("%w: canonical %q", storage.ErrNotFound, canonicalID)
	}
	return ev, err
}

func (t *tx) HasSourceLink(ctx context.Context, canonicalID, sourceID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM canonical_event_sources WHERE canonical_id=? AND source_event_id=?`, canonicalID, sourceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: has_source_link: %w", err)
	}
	return n > 0, nil
}

func (t *tx) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	details, _ := json.Marshal(rec.Details)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_log (action, canonical_id, source_id, operator, details_json, created_at)
		VALUES (?,?,?,?,?,?)`,
		string(rec.Action), rec.CanonicalID, rec.SourceID, rec.Operator, string(details), timeOrNow(rec.CreatedAt).Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("sqlite: append_audit: %w", err)
	}
	return nil
}

func (t *tx) NewCanonicalID(ctx context.Context) (string, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM canonical_events`).Scan(&n); err != nil {
		return "", fmt.Errorf("sqlite: new_canonical_id: %w", err)
	}
	return fmt.Sprintf("canon-%d-%d", n+1, time.Now().UnixNano()), nil
}

func sortedProvenance(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]string, len(m))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func boolPtrToInt(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func intToBoolPtr(n sql.NullInt64) *bool {
	if !n.Valid {
		return nil
	}
	v := n.Int64 != 0
	return &v
}
