// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/blogscan/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "batch_runs"

// Config controls the Postgres connection pool used for batch history rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// BatchStore implements store.BatchRepository using Postgres.
type BatchStore struct {
	pool  querier
	table string
}

// NewBatchStore connects to Postgres and ensures the history table exists.
func NewBatchStore(ctx context.Context, cfg Config) (*BatchStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("history.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewBatchStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewBatchStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewBatchStoreWithPool(pool querier, table string) (*BatchStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &BatchStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *BatchStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the history table and its ordering index.
func (s *BatchStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id           UUID PRIMARY KEY,
	domain       TEXT NOT NULL DEFAULT '',
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	submitted_at TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ NOT NULL,
	total        INTEGER NOT NULL DEFAULT 0,
	succeeded    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	error        TEXT NOT NULL DEFAULT '',
	report_uri   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS %[1]s_submitted_idx ON %[1]s (submitted_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// SaveBatch inserts or replaces a batch record.
func (s *BatchStore) SaveBatch(ctx context.Context, rec store.BatchRecord) error {
	if rec.ID == uuid.Nil {
		return fmt.Errorf("record id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, domain, source, status, submitted_at, finished_at,
	total, succeeded, failed, error, report_uri
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	finished_at = EXCLUDED.finished_at,
	total = EXCLUDED.total,
	succeeded = EXCLUDED.succeeded,
	failed = EXCLUDED.failed,
	error = EXCLUDED.error,
	report_uri = EXCLUDED.report_uri;`, s.table)

	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		rec.Domain,
		rec.Source,
		string(rec.Status),
		rec.SubmittedAt,
		rec.FinishedAt,
		rec.Total,
		rec.Succeeded,
		rec.Failed,
		rec.Error,
		rec.ReportURI,
	)
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	return nil
}

// GetBatch retrieves a single batch record by its ID.
func (s *BatchStore) GetBatch(ctx context.Context, id uuid.UUID) (store.BatchRecord, error) {
	query := fmt.Sprintf(`
SELECT id, domain, source, status, submitted_at, finished_at, total, succeeded, failed, error, report_uri
FROM %s
WHERE id = $1;`, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.BatchRecord{}, store.ErrNotFound
		}
		return store.BatchRecord{}, fmt.Errorf("failed to get batch: %w", err)
	}
	return rec, nil
}

// ListBatches retrieves batch records newest first, with optional status filtering.
func (s *BatchStore) ListBatches(
	ctx context.Context,
	status *store.BatchStatus,
	limit,
	offset int,
) ([]store.BatchRecord, error) {
	query := fmt.Sprintf(`
SELECT id, domain, source, status, submitted_at, finished_at, total, succeeded, failed, error, report_uri
FROM %s
WHERE ($1::text IS NULL OR status = $1)
ORDER BY submitted_at DESC
LIMIT $2 OFFSET $3;`, s.table)

	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []store.BatchRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate batch rows: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (store.BatchRecord, error) {
	var (
		rec    store.BatchRecord
		status string
	)
	err := row.Scan(
		&rec.ID,
		&rec.Domain,
		&rec.Source,
		&status,
		&rec.SubmittedAt,
		&rec.FinishedAt,
		&rec.Total,
		&rec.Succeeded,
		&rec.Failed,
		&rec.Error,
		&rec.ReportURI,
	)
	if err != nil {
		return store.BatchRecord{}, err
	}
	rec.Status = store.BatchStatus(status)
	return rec, nil
}
