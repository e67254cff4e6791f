// internal/registry/sqlstore/sqlstore.go
//
// PostgreSQL-backed registry store.
//
// Context
// -------
// Selected when a database DSN is configured, mirroring the file store's
// contract over one `entries` table.  Per-identifier atomicity comes from
// row locks: Update runs SELECT … FOR UPDATE, applies the mutator, and
// commits, so concurrent mutations to the same id serialize in the database
// while different ids proceed on separate rows.  Durability precedes the
// acknowledgement because nothing is reported until COMMIT returns.
//
// Schema is bootstrapped in-process with CREATE TABLE IF NOT EXISTS; no
// out-of-band migration step is required before first start.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/qrelay/internal/metrics"
	"github.com/yanizio/qrelay/internal/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
    seq             BIGSERIAL,
    id              TEXT PRIMARY KEY,
    email           TEXT NOT NULL,
    subject         TEXT NOT NULL DEFAULT '',
    body            TEXT NOT NULL DEFAULT '',
    cc              TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL DEFAULT 'active',
    scan_count      BIGINT NOT NULL DEFAULT 0,
    created_at      TIMESTAMPTZ NOT NULL,
    last_scanned_at TIMESTAMPTZ,
    scan_log        JSONB NOT NULL DEFAULT '[]'
)`

// row is the flat scan target for sqlx.
type row struct {
	ID            string          `db:"id"`
	Email         string          `db:"email"`
	Subject       string          `db:"subject"`
	Body          string          `db:"body"`
	CC            string          `db:"cc"`
	Status        string          `db:"status"`
	ScanCount     int64           `db:"scan_count"`
	CreatedAt     time.Time       `db:"created_at"`
	LastScannedAt sql.NullTime    `db:"last_scanned_at"`
	ScanLog       []byte          `db:"scan_log"`
}

func (r *row) entry() (*registry.Entry, error) {
	e := &registry.Entry{
		ID: r.ID,
		Target: registry.Target{
			Email:   r.Email,
			Subject: r.Subject,
			Body:    r.Body,
			CC:      r.CC,
		},
		Status:    registry.Status(r.Status),
		CreatedAt: r.CreatedAt,
		ScanCount: r.ScanCount,
	}
	if r.LastScannedAt.Valid {
		at := r.LastScannedAt.Time
		e.LastScannedAt = &at
	}
	if len(r.ScanLog) > 0 {
		if err := json.Unmarshal(r.ScanLog, &e.ScanLog); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Store implements registry.Store over PostgreSQL.
type Store struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// New wraps an open pool.  Call Bootstrap before serving.
func New(db *sqlx.DB, log *zap.SugaredLogger) *Store {
	return &Store{db: db, log: log}
}

// Bootstrap creates the schema when absent and primes the entries gauge.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return registry.Unavailable(err)
	}
	agg, err := s.Aggregate(ctx)
	if err != nil {
		return err
	}
	metrics.EntriesTotal.Set(float64(agg.Entries))
	s.log.Infow("sql store online", "entries", agg.Entries)
	return nil
}

const selectCols = `id, email, subject, body, cc, status, scan_count, created_at, last_scanned_at, scan_log`

// Get implements registry.Store.
func (s *Store) Get(ctx context.Context, id string) (*registry.Entry, error) {
	var r row
	err := s.db.GetContext(ctx, &r,
		`SELECT `+selectCols+` FROM entries WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, registry.Unavailable(err)
	}
	return r.entry()
}

// Put implements registry.Store.  ON CONFLICT DO NOTHING keeps the existing
// entry untouched; zero rows affected means the id was taken.
func (s *Store) Put(ctx context.Context, e *registry.Entry) error {
	logJSON, err := json.Marshal(e.ScanLog)
	if err != nil {
		return registry.Unavailable(err)
	}
	start := time.Now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO entries (id, email, subject, body, cc, status, scan_count, created_at, last_scanned_at, scan_log)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Target.Email, e.Target.Subject, e.Target.Body, e.Target.CC,
		string(e.Status), e.ScanCount, e.CreatedAt, nullTime(e.LastScannedAt), logJSON)
	if err != nil {
		return registry.Unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return registry.Unavailable(err)
	}
	if n == 0 {
		return registry.ErrConflict
	}
	metrics.StoreWriteSeconds.Observe(time.Since(start).Seconds())
	metrics.EntriesTotal.Inc()
	return nil
}

// Update implements registry.Store.
func (s *Store) Update(ctx context.Context, id string, fn registry.Mutator) (*registry.Entry, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, registry.Unavailable(err)
	}
	defer tx.Rollback()

	var r row
	err = tx.GetContext(ctx, &r,
		`SELECT `+selectCols+` FROM entries WHERE id = $1 FOR UPDATE`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, registry.Unavailable(err)
	}

	cur, err := r.entry()
	if err != nil {
		return nil, registry.Unavailable(err)
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt

	logJSON, err := json.Marshal(next.ScanLog)
	if err != nil {
		return nil, registry.Unavailable(err)
	}

	start := time.Now()
	_, err = tx.ExecContext(ctx, `
		UPDATE entries
		   SET email = $2, subject = $3, body = $4, cc = $5, status = $6,
		       scan_count = $7, last_scanned_at = $8, scan_log = $9
		 WHERE id = $1`,
		next.ID, next.Target.Email, next.Target.Subject, next.Target.Body,
		next.Target.CC, string(next.Status), next.ScanCount,
		nullTime(next.LastScannedAt), logJSON)
	if err != nil {
		return nil, registry.Unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, registry.Unavailable(err)
	}
	metrics.StoreWriteSeconds.Observe(time.Since(start).Seconds())
	return next, nil
}

// List implements registry.Store.  The serial column preserves insertion
// order across restarts.
func (s *Store) List(ctx context.Context) ([]*registry.Entry, error) {
	var rows []row
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+selectCols+` FROM entries ORDER BY seq`)
	if err != nil {
		return nil, registry.Unavailable(err)
	}
	out := make([]*registry.Entry, 0, len(rows))
	for i := range rows {
		e, err := rows[i].entry()
		if err != nil {
			return nil, registry.Unavailable(err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Delete implements registry.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = $1`, id)
	if err != nil {
		return registry.Unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return registry.Unavailable(err)
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	metrics.EntriesTotal.Dec()
	return nil
}

// Aggregate implements registry.Store.
func (s *Store) Aggregate(ctx context.Context) (registry.Aggregate, error) {
	var agg registry.Aggregate
	err := s.db.QueryRowxContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'active'),
		       COALESCE(SUM(scan_count), 0)
		  FROM entries`).Scan(&agg.Entries, &agg.ActiveEntries, &agg.TotalScans)
	if err != nil {
		return registry.Aggregate{}, registry.Unavailable(err)
	}
	return agg, nil
}

// Close implements registry.Store.
func (s *Store) Close() error { return s.db.Close() }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
