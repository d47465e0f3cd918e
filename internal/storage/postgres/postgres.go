// Package postgres is the PostgreSQL-backed storage.Store, grounded on the
// services/storage relational store's database/sql + lib/pq conventions:
// explicit tenant-free schema here (the dedupe engine runs single-tenant
// per deployment), parameterized queries, and canonical JSON encoding for
// structured columns.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/lib/pq"

	"github.com/regioevents/dedupe/internal/model"
	"github.com/regioevents/dedupe/internal/storage"
)

// Store is a database/sql-backed storage.Store for PostgreSQL.
type Store struct {
	db *sql.DB
}

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the backing tables if they do not exist. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS match_decisions (
			id_a TEXT NOT NULL, id_b TEXT NOT NULL,
			date_score DOUBLE PRECISION NOT NULL, geo_score DOUBLE PRECISION NOT NULL,
			title_score DOUBLE PRECISION NOT NULL, description_score DOUBLE PRECISION NOT NULL,
			combined_score DOUBLE PRECISION NOT NULL,
			decision TEXT NOT NULL, tier TEXT NOT NULL,
			PRIMARY KEY (id_a, id_b)
		);`,
		`CREATE TABLE IF NOT EXISTS canonical_events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL, short_description TEXT NOT NULL, description TEXT NOT NULL,
			highlights_json TEXT NOT NULL, categories_json TEXT NOT NULL,
			location_name TEXT NOT NULL, location_city TEXT NOT NULL, location_district TEXT NOT NULL,
			location_street TEXT NOT NULL, location_zipcode TEXT NOT NULL,
			geo_latitude DOUBLE PRECISION, geo_longitude DOUBLE PRECISION, geo_confidence DOUBLE PRECISION,
			is_family_event BOOLEAN, is_child_focused BOOLEAN, admission_free BOOLEAN,
			dates_json TEXT NOT NULL,
			source_count INTEGER NOT NULL, match_confidence DOUBLE PRECISION,
			needs_review BOOLEAN NOT NULL, ai_assisted BOOLEAN NOT NULL,
			first_date TEXT NOT NULL, last_date TEXT NOT NULL,
			field_provenance_json TEXT NOT NULL,
			version INTEGER NOT NULL, created_at TIMESTAMPTZ NOT NULL, updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS canonical_event_sources (
			canonical_id TEXT NOT NULL, source_event_id TEXT NOT NULL,
			PRIMARY KEY (canonical_id, source_event_id)
		);`,
		`CREATE TABLE IF NOT EXISTS source_records (
			id TEXT PRIMARY KEY, data_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS llm_cache (
			pair_hash TEXT PRIMARY KEY, decision TEXT NOT NULL, confidence DOUBLE PRECISION NOT NULL,
			reasoning TEXT NOT NULL, model TEXT NOT NULL, created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS llm_usage_log (
			id BIGSERIAL PRIMARY KEY, batch_id TEXT NOT NULL, pair_hash TEXT NOT NULL,
			tokens_in INTEGER NOT NULL, tokens_out INTEGER NOT NULL, cost_usd DOUBLE PRECISION NOT NULL,
			was_cached BOOLEAN NOT NULL, created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id BIGSERIAL PRIMARY KEY, action TEXT NOT NULL, canonical_id TEXT, source_id TEXT,
			operator TEXT NOT NULL, details_json TEXT, created_at TIMESTAMPTZ NOT NULL
		);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) ReplaceAll(ctx context.Context, result storage.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM match_decisions`, `DELETE FROM canonical_event_sources`, `DELETE FROM canonical_events`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: replace all, clear: %w", err)
		}
	}

	for _, d := range result.MatchDecisions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO match_decisions (id_a, id_b, date_score, geo_score, title_score, description_score, combined_score, decision, tier)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			d.IDA, d.IDB, d.DateScore, d.GeoScore, d.TitleScore, d.DescriptionScore, d.CombinedScore, string(d.Decision), string(d.Tier)); err != nil {
			return fmt.Errorf("postgres: insert match_decision: %w", err)
		}
	}

	for _, ev := range result.CanonicalEvents {
		if err := insertCanonicalEvent(ctx, tx, ev); err != nil {
			return err
		}
	}

	for _, src := range result.Sources {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO canonical_event_sources (canonical_id, source_event_id) VALUES ($1,$2)`,
			src.CanonicalID, src.SourceEventID); err != nil {
			return fmt.Errorf("postgres: insert source link: %w", err)
		}
	}

	return tx.Commit()
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
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
		ON CONFLICT (id) DO UPDATE SET
			title=EXCLUDED.title, short_description=EXCLUDED.short_description, description=EXCLUDED.description,
			highlights_json=EXCLUDED.highlights_json, categories_json=EXCLUDED.categories_json,
			location_name=EXCLUDED.location_name, location_city=EXCLUDED.location_city,
			location_district=EXCLUDED.location_district, location_street=EXCLUDED.location_street,
			location_zipcode=EXCLUDED.location_zipcode,
			geo_latitude=EXCLUDED.geo_latitude, geo_longitude=EXCLUDED.geo_longitude, geo_confidence=EXCLUDED.geo_confidence,
			is_family_event=EXCLUDED.is_family_event, is_child_focused=EXCLUDED.is_child_focused, admission_free=EXCLUDED.admission_free,
			dates_json=EXCLUDED.dates_json, source_count=EXCLUDED.source_count, match_confidence=EXCLUDED.match_confidence,
			needs_review=EXCLUDED.needs_review, ai_assisted=EXCLUDED.ai_assisted,
			first_date=EXCLUDED.first_date, last_date=EXCLUDED.last_date,
			field_provenance_json=EXCLUDED.field_provenance_json, version=EXCLUDED.version, updated_at=EXCLUDED.updated_at`,
		ev.ID, ev.Title, ev.ShortDescription, ev.Description, string(highlights), string(categories),
		ev.LocationName, ev.LocationCity, ev.LocationDistrict, ev.LocationStreet, ev.LocationZipcode,
		ev.GeoLatitude, ev.GeoLongitude, ev.GeoConfidence,
		ev.IsFamilyEvent, ev.IsChildFocused, ev.AdmissionFree,
		string(dates), ev.SourceCount, ev.MatchConfidence, ev.NeedsReview, ev.AIAssisted,
		ev.FirstDate, ev.LastDate, string(provenance), ev.Version, timeOrNow(ev.CreatedAt), timeOrNow(ev.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert canonical_event: %w", err)
	}
	return nil
}

func (s *Store) MatchDecisions(ctx context.Context) ([]model.MatchDecision, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id_a, id_b, date_score, geo_score, title_score, description_score, combined_score, decision, tier
		FROM match_decisions ORDER BY id_a, id_b`)
	if err != nil {
		return nil, fmt.Errorf("postgres: match_decisions: %w", err)
	}
	defer rows.Close()

	var out []model.MatchDecision
	for rows.Next() {
		var d model.MatchDecision
		var decision, tier string
		if err := rows.Scan(&d.IDA, &d.IDB, &d.DateScore, &d.GeoScore, &d.TitleScore, &d.DescriptionScore, &d.CombinedScore, &decision, &tier); err != nil {
			return nil, fmt.Errorf("postgres: scan match_decision: %w", err)
		}
		d.Decision, d.Tier = model.Decision(decision), model.Tier(tier)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CanonicalEvent(ctx context.Context, id string) (model.CanonicalEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, short_description, description, highlights_json, categories_json,
			location_name, location_city, location_district, location_street, location_zipcode,
			geo_latitude, geo_longitude, geo_confidence,
			is_family_event, is_child_focused, admission_free,
			dates_json, source_count, match_confidence, needs_review, ai_assisted,
			first_date, last_date, field_provenance_json, version, created_at, updated_at
		FROM canonical_events WHERE id = $1`, id)
	ev, err := scanCanonicalEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CanonicalEvent{}, fmt.Errorf("%w: canonical %q", storage.ErrNotFound, id)
	}
	return ev, err
}

func (s *Store) CanonicalEvents(ctx context.Context, needsReviewOnly bool) ([]model.CanonicalEvent, error) {
	q := `SELECT id, title, short_description, description, highlights_json, categories_json,
			location_name, location_city, location_district, location_street, location_zipcode,
			geo_latitude, geo_longitude, geo_confidence,
			is_family_event, is_child_focused, admission_free,
			dates_json, source_count, match_confidence, needs_review, ai_assisted,
			first_date, last_date, field_provenance_json, version, created_at, updated_at
		FROM canonical_events`
	if needsReviewOnly {
		q += ` WHERE needs_review = true`
	}
	q += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: canonical_events: %w", err)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanCanonicalEvent(row scanner) (model.CanonicalEvent, error) {
	var ev model.CanonicalEvent
	var highlights, categories, dates, provenance string
	if err := row.Scan(
		&ev.ID, &ev.Title, &ev.ShortDescription, &ev.Description, &highlights, &categories,
		&ev.LocationName, &ev.LocationCity, &ev.LocationDistrict, &ev.LocationStreet, &ev.LocationZipcode,
		&ev.GeoLatitude, &ev.GeoLongitude, &ev.GeoConfidence,
		&ev.IsFamilyEvent, &ev.IsChildFocused, &ev.AdmissionFree,
		&dates, &ev.SourceCount, &ev.MatchConfidence, &ev.NeedsReview, &ev.AIAssisted,
		&ev.FirstDate, &ev.LastDate, &provenance, &ev.Version, &ev.CreatedAt, &ev.UpdatedAt,
	); err != nil {
		return model.CanonicalEvent{}, err
	}
	_ = json.Unmarshal([]byte(highlights), &ev.Highlights)
	_ = json.Unmarshal([]byte(categories), &ev.Categories)
	_ = json.Unmarshal([]byte(dates), &ev.Dates)
	ev.FieldProvenance = make(map[string]string)
	_ = json.Unmarshal([]byte(provenance), &ev.FieldProvenance)
	return ev, nil
}

func (s *Store) SourcesForCanonical(ctx context.Context, canonicalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT source_event_id FROM canonical_event_sources WHERE canonical_id = $1 ORDER BY source_event_id`, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: sources_for_canonical: %w", err)
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
	err := s.db.QueryRowContext(ctx, `SELECT canonical_id FROM canonical_event_sources WHERE source_event_id = $1`, sourceID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: source %q", storage.ErrNotFound, sourceID)
	}
	return id, err
}

func (s *Store) CacheLookup(ctx context.Context, pairHash string) (model.CacheEntry, bool, error) {
	var entry model.CacheEntry
	var decision string
	err := s.db.QueryRowContext(ctx, `SELECT pair_hash, decision, confidence, reasoning, model, created_at FROM llm_cache WHERE pair_hash = $1`, pairHash).
		Scan(&entry.PairHash, &decision, &entry.Confidence, &entry.Reasoning, &entry.Model, &entry.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CacheEntry{}, false, nil
	}
	if err != nil {
		return model.CacheEntry{}, false, fmt.Errorf("postgres: cache_lookup: %w", err)
	}
	entry.Decision = model.AIResolution(decision)
	return entry, true, nil
}

func (s *Store) CacheStore(ctx context.Context, entry model.CacheEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_cache (pair_hash, decision, confidence, reasoning, model, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (pair_hash) DO NOTHING`,
		entry.PairHash, string(entry.Decision), entry.Confidence, entry.Reasoning, entry.Model, timeOrNow(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: cache_store: %w", err)
	}
	return nil
}

func (s *Store) AppendUsageLog(ctx context.Context, row model.UsageLogRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_usage_log (batch_id, pair_hash, tokens_in, tokens_out, cost_usd, was_cached, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		row.BatchID, row.PairHash, row.TokensIn, row.TokensOut, row.CostUSD, row.WasCached, timeOrNow(row.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: append_usage_log: %w", err)
	}
	return nil
}

func (s *Store) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	details, _ := json.Marshal(rec.Details)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (action, canonical_id, source_id, operator, details_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		string(rec.Action), rec.CanonicalID, rec.SourceID, rec.Operator, string(details), timeOrNow(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: append_audit: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
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
	res, err := t.tx.ExecContext(ctx, `DELETE FROM canonical_event_sources WHERE canonical_id=$1 AND source_event_id=$2`, canonicalID, sourceID)
	if err != nil {
		return fmt.Errorf("postgres: delete source link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: link %s/%s", storage.ErrNotFound, canonicalID, sourceID)
	}
	return nil
}

func (t *tx) InsertCanonicalEventSource(ctx context.Context, canonicalID, sourceID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO canonical_event_sources (canonical_id, source_event_id) VALUES ($1,$2)
		ON CONFLICT (canonical_id, source_event_id) DO NOTHING`, canonicalID, sourceID)
	if err != nil {
		return fmt.Errorf("postgres: insert source link: %w", err)
	}
	return nil
}

func (t *tx) CountSourcesForCanonical(ctx context.Context, canonicalID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM canonical_event_sources WHERE canonical_id=$1`, canonicalID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count sources: %w", err)
	}
	return n, nil
}

func (t *tx) RecordsForCanonical(ctx context.Context, canonicalID string) ([]model.Record, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT sr.data_json FROM source_records sr
		JOIN canonical_event_sources ces ON ces.source_event_id = sr.id
		WHERE ces.canonical_id = $1 ORDER BY sr.id`, canonicalID)
	if err != nil {
		return nil, fmt.Errorf("postgres: records_for_canonical: %w", err)
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
			return nil, fmt.Errorf("postgres: decode source record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *tx) PutCanonicalEvent(ctx context.Context, ev model.CanonicalEvent) error {
	return insertCanonicalEvent(ctx, t.tx, ev)
}

func (t *tx) DeleteCanonicalEvent(ctx context.Context, canonicalID string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM canonical_events WHERE id=$1`, canonicalID)
	if err != nil {
		return fmt.Errorf("postgres: delete canonical_event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: canonical %q", storage.ErrNotFound, canonicalID)
	}
	return nil
}

func (t *tx) GetCanonicalEvent(ctx context.Context, canonicalID string) (model.CanonicalEvent, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT id, title, short_description, description, highlights_json, categories_json,
			location_name, location_city, location_district, location_street, location_zipcode,
			geo_latitude, geo_longitude, geo_confidence,
			is_family_event, is_child_focused, admission_free,
			dates_json, source_count, match_confidence, needs_review, ai_assisted,
			first_date, last_date, field_provenance_json, version, created_at, updated_at
		FROM canonical_events WHERE id = $1`, canonicalID)
	ev, err := scanCanonicalEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.CanonicalEvent{}, fmt.Errorf("%w: canonical %q", storage.ErrNotFound, canonicalID)
	}
	return ev, err
}

func (t *tx) HasSourceLink(ctx context.Context, canonicalID, sourceID string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM canonical_event_sources WHERE canonical_id=$1 AND source_event_id=$2`, canonicalID, sourceID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("postgres: has_source_link: %w", err)
	}
	return n > 0, nil
}

func (t *tx) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	details, _ := json.Marshal(rec.Details)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_log (action, canonical_id, source_id, operator, details_json, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		string(rec.Action), rec.CanonicalID, rec.SourceID, rec.Operator, string(details), timeOrNow(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("postgres: append_audit: %w", err)
	}
	return nil
}

func (t *tx) NewCanonicalID(ctx context.Context) (string, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `SELECT nextval('canonical_event_id_seq')`).Scan(&id)
	if err != nil {
		// Sequence may not exist yet in a fresh schema; fall back to a
		// count-based id, unique enough for the single-writer review path.
		var n int
		if cerr := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM canonical_events`).Scan(&n); cerr != nil {
			return "", fmt.Errorf("postgres: new_canonical_id: %w", cerr)
		}
		return fmt.Sprintf("canon-%d-%d", n+1, time.Now().UnixNano()), nil
	}
	return fmt.Sprintf("canon-%d", id), nil
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
