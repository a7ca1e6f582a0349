// Package archive records finished batches: the full report goes to a blob
// store, a summary row goes to the history repository, and a completion
// event is published. Each destination is optional.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/analyzer"
	"github.com/JakeFAU/blogscan/internal/batch"
	"github.com/JakeFAU/blogscan/internal/discovery"
	"github.com/JakeFAU/blogscan/internal/store"
)

const defaultPrefix = "batches"

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Report is the archived form of one finished batch.
type Report struct {
	ID          uuid.UUID                            `json:"batch_id"`
	Domain      string                               `json:"domain,omitempty"`
	Status      store.BatchStatus                    `json:"status"`
	SubmittedAt time.Time                            `json:"submitted_at"`
	FinishedAt  time.Time                            `json:"finished_at"`
	Error       string                               `json:"error,omitempty"`
	Discovery   *discovery.Result                    `json:"discovery,omitempty"`
	Result      *batch.Result[analyzer.PageAnalysis] `json:"result,omitempty"`
}

// Event is the completion notice published for each recorded batch.
type Event struct {
	BatchID    string    `json:"batch_id"`
	Status     string    `json:"status"`
	Domain     string    `json:"domain,omitempty"`
	Source     string    `json:"source"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	ReportURI  string    `json:"report_uri,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Attributes exposes routing attributes for Pub/Sub subscribers.
func (e Event) Attributes() map[string]string {
	return map[string]string{
		"batch_id": e.BatchID,
		"status":   e.Status,
		"total":    strconv.Itoa(e.Total),
	}
}

// Config controls object naming and the event topic.
type Config struct {
	// Prefix is the object path prefix for reports; defaults to "batches".
	Prefix string
	Topic  string
}

// Recorder fans a finished batch out to its configured destinations.
type Recorder struct {
	cfg    Config
	repo   store.BatchRepository
	blobs  BlobStore
	pub    Publisher
	logger *zap.Logger
}

// New builds a Recorder. Any of repo, blobs and pub may be nil.
func New(cfg Config, repo store.BatchRepository, blobs BlobStore, pub Publisher, logger *zap.Logger) *Recorder {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{cfg: cfg, repo: repo, blobs: blobs, pub: pub, logger: logger}
}

// Summarize derives the history row for a report without writing anything.
func Summarize(rep Report) store.BatchRecord {
	rec := store.BatchRecord{
		ID:          rep.ID,
		Domain:      rep.Domain,
		Source:      string(discovery.SourceNone),
		Status:      rep.Status,
		SubmittedAt: rep.SubmittedAt,
		FinishedAt:  rep.FinishedAt,
		Error:       rep.Error,
	}
	if rep.Discovery != nil {
		rec.Source = string(rep.Discovery.Source)
	}
	if rep.Result != nil {
		rec.Succeeded = len(rep.Result.Successes)
		rec.Failed = len(rep.Result.Failures)
		rec.Total = rep.Result.Len()
	}
	return rec
}

// Record archives rep, saves its summary and publishes a completion event.
// Every destination is attempted; the returned error joins their failures.
func (r *Recorder) Record(ctx context.Context, rep Report) (store.BatchRecord, error) {
	rec := Summarize(rep)
	logger := r.logger.With(zap.String("batch_id", rep.ID.String()))
	var errs []error

	if r.blobs != nil {
		uri, err := r.archive(ctx, rep)
		if err != nil {
			errs = append(errs, err)
		} else {
			rec.ReportURI = uri
		}
	}
	if r.repo != nil {
		if err := r.repo.SaveBatch(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("save history: %w", err))
		}
	}
	if r.pub != nil {
		msgID, err := r.pub.Publish(ctx, r.cfg.Topic, eventFor(rec))
		if err != nil {
			errs = append(errs, fmt.Errorf("publish completion: %w", err))
		} else {
			logger.Debug("completion event published", zap.String("message_id", msgID))
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		logger.Warn("batch record incomplete", zap.Error(err))
	} else {
		logger.Info("batch recorded",
			zap.String("status", string(rec.Status)),
			zap.String("report_uri", rec.ReportURI),
		)
	}
	return rec, err
}

// ObjectPath returns the blob path used for a batch report.
func (r *Recorder) ObjectPath(id uuid.UUID) string {
	return path.Join(r.cfg.Prefix, id.String()+".json")
}

func (r *Recorder) archive(ctx context.Context, rep Report) (string, error) {
	data, err := json.Marshal(rep)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	uri, err := r.blobs.PutObject(ctx, r.ObjectPath(rep.ID), "application/json", data)
	if err != nil {
		return "", fmt.Errorf("archive report: %w", err)
	}
	return uri, nil
}

func eventFor(rec store.BatchRecord) Event {
	return Event{
		BatchID:    rec.ID.String(),
		Status:     string(rec.Status),
		Domain:     rec.Domain,
		Source:     rec.Source,
		Total:      rec.Total,
		Succeeded:  rec.Succeeded,
		Failed:     rec.Failed,
		ReportURI:  rec.ReportURI,
		FinishedAt: rec.FinishedAt,
	}
}
