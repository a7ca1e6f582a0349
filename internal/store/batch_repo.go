package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("batch record not found")

// BatchStatus mirrors the batch_runs status column.
type BatchStatus string

// Terminal statuses persisted in batch_runs.status.
const (
	StatusCompleted BatchStatus = "completed"
	StatusCanceled  BatchStatus = "canceled"
	StatusFailed    BatchStatus = "failed"
)

// BatchRecord is the persisted summary of one finished batch.
type BatchRecord struct {
	// ID is the batch identifier shared with progress snapshots.
	ID uuid.UUID `json:"batch_id"`
	// Domain is empty for batches submitted as explicit URLs.
	Domain string `json:"domain,omitempty"`
	// Source names the discovery strategy that produced the URLs.
	Source      string      `json:"source"`
	Status      BatchStatus `json:"status"`
	SubmittedAt time.Time   `json:"submitted_at"`
	FinishedAt  time.Time   `json:"finished_at"`
	Total       int         `json:"total"`
	Succeeded   int         `json:"succeeded"`
	Failed      int         `json:"failed"`
	// Error holds the discovery failure for failed batches.
	Error string `json:"error,omitempty"`
	// ReportURI locates the archived JSON report, if one was written.
	ReportURI string `json:"report_uri,omitempty"`
}

// BatchRepository persists finished batch summaries.
type BatchRepository interface {
	// SaveBatch inserts the record or replaces an existing one with the same ID.
	SaveBatch(ctx context.Context, rec BatchRecord) error
	// GetBatch loads one record or returns ErrNotFound.
	GetBatch(ctx context.Context, id uuid.UUID) (BatchRecord, error)
	// ListBatches returns records newest first, filtered by optional status.
	ListBatches(ctx context.Context, status *BatchStatus, limit, offset int) ([]BatchRecord, error)
}
