// Package sqlite implements the batch history repository on an embedded
// SQLite database, for single-node deployments without Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/blogscan/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS batch_runs (
    id           TEXT PRIMARY KEY,
    domain       TEXT NOT NULL DEFAULT '',
    source       TEXT NOT NULL,
    status       TEXT NOT NULL,
    submitted_at INTEGER NOT NULL,
    finished_at  INTEGER NOT NULL,
    total        INTEGER NOT NULL DEFAULT 0,
    succeeded    INTEGER NOT NULL DEFAULT 0,
    failed       INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    report_uri   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_batch_runs_submitted ON batch_runs(submitted_at DESC);
`

const selectColumns = `id, domain, source, status, submitted_at, finished_at, total, succeeded, failed, error, report_uri`

// BatchStore implements store.BatchRepository using SQLite. Timestamps are
// stored as Unix nanoseconds.
type BatchStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string) (*BatchStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("history.sqlite_path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &BatchStore{db: db}, nil
}

// Close closes the database connection.
func (s *BatchStore) Close() error {
	return s.db.Close()
}

// SaveBatch inserts or replaces a batch record.
func (s *BatchStore) SaveBatch(ctx context.Context, rec store.BatchRecord) error {
	if rec.ID == uuid.Nil {
		return fmt.Errorf("record id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO batch_runs (`+selectColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(),
		rec.Domain,
		rec.Source,
		string(rec.Status),
		rec.SubmittedAt.UnixNano(),
		rec.FinishedAt.UnixNano(),
		rec.Total,
		rec.Succeeded,
		rec.Failed,
		rec.Error,
		rec.ReportURI,
	)
	if err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a batch record by ID.
func (s *BatchStore) GetBatch(ctx context.Context, id uuid.UUID) (store.BatchRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM batch_runs WHERE id = ?`, id.String())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return store.BatchRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.BatchRecord{}, fmt.Errorf("get batch: %w", err)
	}
	return rec, nil
}

// ListBatches returns records newest first, optionally filtered by status.
func (s *BatchStore) ListBatches(
	ctx context.Context,
	status *store.BatchStatus,
	limit, offset int,
) ([]store.BatchRecord, error) {
	var filter sql.NullString
	if status != nil {
		filter = sql.NullString{String: string(*status), Valid: true}
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM batch_runs
		 WHERE (?1 IS NULL OR status = ?1)
		 ORDER BY submitted_at DESC, id DESC
		 LIMIT ?2 OFFSET ?3`,
		filter, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	var out []store.BatchRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (store.BatchRecord, error) {
	var (
		rec                 store.BatchRecord
		id, status          string
		submitted, finished int64
	)
	err := row.Scan(&id, &rec.Domain, &rec.Source, &status, &submitted, &finished,
		&rec.Total, &rec.Succeeded, &rec.Failed, &rec.Error, &rec.ReportURI)
	if err != nil {
		return store.BatchRecord{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return store.BatchRecord{}, fmt.Errorf("parse batch id %q: %w", id, err)
	}
	rec.ID = parsed
	rec.Status = store.BatchStatus(status)
	rec.SubmittedAt = time.Unix(0, submitted).UTC()
	rec.FinishedAt = time.Unix(0, finished).UTC()
	return rec, nil
}
