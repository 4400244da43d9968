package persist

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/scrollharvest/harvest/internal/dbopen"
	"github.com/hazyhaar/scrollharvest/harvest/internal/idgen"
	"github.com/hazyhaar/scrollharvest/harvest/record"
)

// Schema for the harvest_records table. One row per distinct record per
// run; seq preserves first-seen order.
const Schema = `
CREATE TABLE IF NOT EXISTS harvest_records (
	run_id        TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	canonical_key TEXT NOT NULL,
	username      TEXT NOT NULL,
	name          TEXT,
	profile_pic   TEXT,
	verified      INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL,
	PRIMARY KEY (run_id, canonical_key)
);
CREATE INDEX IF NOT EXISTS idx_harvest_records_run_seq ON harvest_records(run_id, seq);
`

// SQLite stores records in a harvest_records table, tagged by run ID.
type SQLite struct {
	mu    sync.Mutex
	db    *sql.DB
	runID string
	owned bool
}

// SQLiteOption configures an SQLite sink.
type SQLiteOption func(*SQLite)

// WithRunID sets the run identifier. Default: a fresh UUIDv7.
func WithRunID(id string) SQLiteOption {
	return func(s *SQLite) { s.runID = id }
}

// OpenSQLite opens (or creates) the database at path and applies the
// schema. Use ":memory:" in tests.
func OpenSQLite(path string, opts ...SQLiteOption) (*SQLite, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll())
	if err != nil {
		return nil, fmt.Errorf("persist: sqlite: %w", err)
	}
	s, err := NewSQLite(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLite wraps an existing database handle and applies the schema.
// The caller keeps ownership of db; Close does not close it.
func NewSQLite(db *sql.DB, opts ...SQLiteOption) (*SQLite, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("persist: sqlite schema: %w", err)
	}

	s := &SQLite{db: db}
	for _, o := range opts {
		o(s)
	}
	if s.runID == "" {
		s.runID = idgen.New()
	}
	return s, nil
}

// RunID returns the identifier rows are written under.
func (s *SQLite) RunID() string { return s.runID }

// WriteAll replaces the run's rows with records.
func (s *SQLite) WriteAll(ctx context.Context, records []record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM harvest_records WHERE run_id = ?`, s.runID); err != nil {
			return fmt.Errorf("persist: sqlite clear run: %w", err)
		}
		return insertRecords(ctx, tx, s.runID, 0, records)
	})
}

// WriteDelta appends records after the run's current rows. Records already
// stored under the same canonical key are skipped.
func (s *SQLite) WriteDelta(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var next int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq) + 1, 0) FROM harvest_records WHERE run_id = ?`, s.runID,
		).Scan(&next); err != nil {
			return fmt.Errorf("persist: sqlite next seq: %w", err)
		}
		return insertRecords(ctx, tx, s.runID, next, records)
	})
}

func insertRecords(ctx context.Context, tx *sql.Tx, runID string, start int64, records []record.Record) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO harvest_records (
			run_id, seq, canonical_key, username, name, profile_pic, verified, created_at
		) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (run_id, canonical_key) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("persist: sqlite prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for i, r := range records {
		if _, err := stmt.ExecContext(ctx,
			runID, start+int64(i), r.Key(), r.ID,
			nullString(r.DisplayName), nullString(r.MediaURI), r.Verified, now,
		); err != nil {
			return fmt.Errorf("persist: sqlite insert %q: %w", r.ID, err)
		}
	}
	return nil
}

// Records returns the rows of runID in first-seen order.
func (s *SQLite) Records(ctx context.Context, runID string) ([]record.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, name, profile_pic, verified
		FROM harvest_records
		WHERE run_id = ?
		ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("persist: sqlite query: %w", err)
	}
	defer rows.Close()

	var out []record.Record
	for rows.Next() {
		var r record.Record
		var name, pic sql.NullString
		if err := rows.Scan(&r.ID, &name, &pic, &r.Verified); err != nil {
			return nil, fmt.Errorf("persist: sqlite scan: %w", err)
		}
		if name.Valid {
			r.DisplayName = record.String(name.String)
		}
		if pic.Valid {
			r.MediaURI = record.String(pic.String)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database if OpenSQLite created it.
func (s *SQLite) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
