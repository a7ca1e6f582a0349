package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/analyzer"
	"github.com/JakeFAU/blogscan/internal/archive"
	"github.com/JakeFAU/blogscan/internal/batch"
	"github.com/JakeFAU/blogscan/internal/discovery"
	"github.com/JakeFAU/blogscan/internal/progress"
	"github.com/JakeFAU/blogscan/internal/store"
)

const (
	defaultBatchLimit = 50
	maxBatchLimit     = 500
	defaultRetention  = 15 * time.Minute
	recordTimeout     = 30 * time.Second
)

// BatchStatus is the lifecycle state of a submitted analysis batch.
type BatchStatus string

// Batch lifecycle states.
const (
	StatusDiscovering BatchStatus = "discovering"
	StatusRunning     BatchStatus = "running"
	StatusCompleted   BatchStatus = "completed"
	StatusCanceled    BatchStatus = "canceled"
	StatusFailed      BatchStatus = "failed"
)

func (s BatchStatus) terminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusFailed
}

type analyzeRequest struct {
	Domain                string   `json:"domain"`
	URLs                  []string `json:"urls"`
	Limit                 int      `json:"limit"`
	Concurrency           int      `json:"concurrency"`
	PerItemTimeoutSeconds int      `json:"per_item_timeout_seconds"`
}

func (req analyzeRequest) validate() error {
	hasDomain := strings.TrimSpace(req.Domain) != ""
	switch {
	case hasDomain && len(req.URLs) > 0:
		return errors.New("domain and urls are mutually exclusive")
	case !hasDomain && len(req.URLs) == 0:
		return errors.New("domain or urls required")
	case req.Limit < 0:
		return errors.New("limit must be >= 0")
	case req.Concurrency < 0:
		return errors.New("concurrency must be >= 0")
	case req.PerItemTimeoutSeconds < 0:
		return errors.New("per_item_timeout_seconds must be >= 0")
	}
	if hasDomain {
		if _, err := discovery.NormalizeDomain(req.Domain); err != nil {
			return err
		}
	}
	return nil
}

// submitAnalyze handles POST /v1/analyze. The batch runs in the background;
// the response is 202 with {"batch_id": "..."}.
func (s *Server) submitAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := uuid.NewV7()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate batch id")
		return
	}
	if !s.startBatch(id, req) {
		writeError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}

	s.logger.Info("batch submitted",
		zap.String("batch_id", id.String()),
		zap.String("request_id", RequestID(r.Context())),
		zap.String("domain", req.Domain),
		zap.Int("urls", len(req.URLs)),
	)
	writeJSON(w, http.StatusAccepted, map[string]string{"batch_id": id.String()})
}

func (s *Server) startBatch(id uuid.UUID, req analyzeRequest) bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.baseCtx.Err() != nil {
		return false
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	status := StatusRunning
	if req.Domain != "" {
		status = StatusDiscovering
	}
	submitted := time.Now().UTC()
	s.batches.add(&batchRun{
		id:        id,
		cancel:    cancel,
		status:    status,
		submitted: submitted,
	})
	s.wg.Add(1)
	go s.runBatch(ctx, cancel, id, submitted, req)
	return true
}

func (s *Server) runBatch(
	ctx context.Context,
	cancel context.CancelFunc,
	id uuid.UUID,
	submitted time.Time,
	req analyzeRequest,
) {
	defer s.wg.Done()
	defer cancel()
	logger := s.logger.With(zap.String("batch_id", id.String()))
	rep := archive.Report{ID: id, Domain: req.Domain, SubmittedAt: submitted}

	limit := s.limitOrDefault(req.Limit)
	var found discovery.Result
	if req.Domain != "" {
		res, err := s.discoverer.Discover(ctx, req.Domain, limit)
		if err != nil {
			rep.Status = store.StatusFailed
			if ctx.Err() != nil {
				rep.Status = store.StatusCanceled
			}
			rep.Error = err.Error()
			logger.Warn("batch discovery failed", zap.Error(err))
			s.finishBatch(ctx, rep, logger)
			return
		}
		found = res
	} else {
		found = discovery.Manual(req.URLs, limit)
	}
	s.batches.discovered(id, found)
	rep.Discovery = &found

	opts := batch.Options{
		ID:             id,
		Concurrency:    req.Concurrency,
		PerItemTimeout: time.Duration(req.PerItemTimeoutSeconds) * time.Second,
		Progress:       s.emitter,
		Logger:         logger,
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = s.cfg.Batch.Concurrency
	}
	if opts.PerItemTimeout == 0 {
		opts.PerItemTimeout = s.cfg.Batch.PerItemTimeout
	}
	result := batch.Run(ctx, found.URLs(), s.worker, opts)
	rep.Result = &result
	rep.Status = store.StatusCompleted
	if result.Canceled {
		rep.Status = store.StatusCanceled
	}
	s.finishBatch(ctx, rep, logger)
}

// finishBatch records rep and then publishes the terminal state, so a
// finished batch in the registry already carries its report URI.
func (s *Server) finishBatch(ctx context.Context, rep archive.Report, logger *zap.Logger) {
	rep.FinishedAt = time.Now().UTC()
	var reportURI string
	if s.recorder != nil {
		recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		rec, err := s.recorder.Record(recordCtx, rep)
		cancel()
		if err != nil {
			logger.Warn("batch record failed", zap.Error(err))
		}
		reportURI = rec.ReportURI
	}
	s.batches.finish(rep.ID, BatchStatus(rep.Status), rep.Error, rep.Result, reportURI)
}

// getBatch handles GET /v1/batches/{batch_id}. It returns 400 for malformed
// IDs, 404 for unknown or expired batches and {"batch": {...}} otherwise.
func (s *Server) getBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := parseBatchID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dto, ok := s.batches.get(batchID)
	if !ok {
		s.getArchivedBatch(w, r, batchID)
		return
	}
	if s.progress != nil {
		if snap, ok := s.progress.Get(batchID); ok {
			dto.Progress = &snap
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": dto})
}

// getArchivedBatch answers lookups for batches no longer held in memory.
func (s *Server) getArchivedBatch(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	rec, err := s.history.GetBatch(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "batch not found")
	case err != nil:
		s.logger.Error("history lookup failed", zap.String("batch_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history lookup failed")
	default:
		writeJSON(w, http.StatusOK, map[string]any{"batch": recordToDTO(rec)})
	}
}

// listHistory handles GET /v1/history?status=&limit=&offset=, listing
// persisted batch summaries newest first.
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, "batch history is not configured")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultBatchLimit, maxBatchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *store.BatchStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		parsed, parseErr := parseStatus(statusParam)
		if parseErr != nil || !parsed.terminal() {
			writeError(w, http.StatusBadRequest, "invalid status")
			return
		}
		statusVal := store.BatchStatus(parsed)
		status = &statusVal
	}
	recs, err := s.history.ListBatches(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("history listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history listing failed")
		return
	}
	if recs == nil {
		recs = []store.BatchRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": recs})
}

// listBatches handles GET /v1/batches?status=&limit=&offset=. Results are
// ordered newest first and never include per-URL outcomes.
func (s *Server) listBatches(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultBatchLimit, maxBatchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var status *BatchStatus
	if statusParam := strings.TrimSpace(r.URL.Query().Get("status")); statusParam != "" {
		statusVal, parseErr := parseStatus(statusParam)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		status = &statusVal
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"batches": s.batches.list(status, limit, offset),
	})
}

// cancelBatch handles POST /v1/batches/{batch_id}/cancel. Running batches are
// signalled and answer 202; finished batches answer 409.
func (s *Server) cancelBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := parseBatchID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	found, active := s.batches.cancel(batchID)
	if !found && s.history != nil {
		if _, err := s.history.GetBatch(r.Context(), batchID); err == nil {
			found = true
		}
	}
	switch {
	case !found:
		writeError(w, http.StatusNotFound, "batch not found")
	case !active:
		writeError(w, http.StatusConflict, "batch already finished")
	default:
		s.logger.Info("batch cancel requested", zap.String("batch_id", batchID.String()))
		writeJSON(w, http.StatusAccepted, map[string]string{
			"batch_id": batchID.String(),
			"status":   "canceling",
		})
	}
}

func parseBatchID(r *http.Request) (uuid.UUID, error) {
	batchIDStr := chi.URLParam(r, "batch_id")
	if batchIDStr == "" {
		return uuid.UUID{}, errors.New("batch_id is required")
	}
	batchID, err := uuid.Parse(batchIDStr)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid batch_id")
	}
	return batchID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (BatchStatus, error) {
	switch strings.ToLower(input) {
	case "discovering":
		return StatusDiscovering, nil
	case "running":
		return StatusRunning, nil
	case "completed", "success":
		return StatusCompleted, nil
	case "canceled", "cancelled":
		return StatusCanceled, nil
	case "failed", "error", "failure":
		return StatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

type batchDTO struct {
	ID          string                               `json:"batch_id"`
	Status      BatchStatus                          `json:"status"`
	SubmittedAt time.Time                            `json:"submitted_at"`
	FinishedAt  *time.Time                           `json:"finished_at,omitempty"`
	Error       string                               `json:"error,omitempty"`
	Discovery   *discovery.Result                    `json:"discovery,omitempty"`
	Progress    *progress.Snapshot                   `json:"progress,omitempty"`
	Result      *batch.Result[analyzer.PageAnalysis] `json:"result,omitempty"`
	Totals      *batchTotals                         `json:"totals,omitempty"`
	ReportURI   string                               `json:"report_uri,omitempty"`
}

type batchTotals struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func recordToDTO(rec store.BatchRecord) batchDTO {
	finished := rec.FinishedAt
	return batchDTO{
		ID:          rec.ID.String(),
		Status:      BatchStatus(rec.Status),
		SubmittedAt: rec.SubmittedAt,
		FinishedAt:  &finished,
		Error:       rec.Error,
		Totals: &batchTotals{
			Total:     rec.Total,
			Succeeded: rec.Succeeded,
			Failed:    rec.Failed,
		},
		ReportURI: rec.ReportURI,
	}
}

type batchRun struct {
	id        uuid.UUID
	cancel    context.CancelFunc
	status    BatchStatus
	submitted time.Time
	finished  *time.Time
	errText   string
	discovery *discovery.Result
	result    *batch.Result[analyzer.PageAnalysis]
	reportURI string
}

func (b *batchRun) toDTO(withResult bool) batchDTO {
	dto := batchDTO{
		ID:          b.id.String(),
		Status:      b.status,
		SubmittedAt: b.submitted,
		FinishedAt:  b.finished,
		Error:       b.errText,
		Discovery:   b.discovery,
		ReportURI:   b.reportURI,
	}
	if b.result != nil {
		dto.Totals = &batchTotals{
			Total:     b.result.Len(),
			Succeeded: len(b.result.Successes),
			Failed:    len(b.result.Failures),
		}
	}
	if withResult {
		dto.Result = b.result
	}
	return dto
}

// registry tracks submitted batches in memory. Finished batches are evicted
// once they are older than the retention window.
type registry struct {
	mu        sync.RWMutex
	runs      map[uuid.UUID]*batchRun
	retention time.Duration
	now       func() time.Time
}

func newRegistry(retention time.Duration) *registry {
	if retention <= 0 {
		retention = defaultRetention
	}
	return &registry{
		runs:      make(map[uuid.UUID]*batchRun),
		retention: retention,
		now:       time.Now,
	}
}

func (r *registry) add(run *batchRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked()
	r.runs[run.id] = run
}

func (r *registry) get(id uuid.UUID) (batchDTO, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return batchDTO{}, false
	}
	return run.toDTO(true), true
}

func (r *registry) list(status *BatchStatus, limit, offset int) []batchDTO {
	r.mu.RLock()
	runs := make([]*batchRun, 0, len(r.runs))
	for _, run := range r.runs {
		if status == nil || run.status == *status {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].submitted.Equal(runs[j].submitted) {
			return runs[i].id.String() > runs[j].id.String()
		}
		return runs[i].submitted.After(runs[j].submitted)
	})
	out := make([]batchDTO, 0, limit)
	for i := offset; i < len(runs) && len(out) < limit; i++ {
		out = append(out, runs[i].toDTO(false))
	}
	r.mu.RUnlock()
	return out
}

func (r *registry) discovered(id uuid.UUID, res discovery.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		run.discovery = &res
		run.status = StatusRunning
	}
}

func (r *registry) finish(
	id uuid.UUID,
	status BatchStatus,
	errText string,
	res *batch.Result[analyzer.PageAnalysis],
	reportURI string,
) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return
	}
	now := r.now().UTC()
	run.status = status
	run.errText = errText
	run.result = res
	run.reportURI = reportURI
	run.finished = &now
}

// cancel signals a batch. found reports whether the batch exists and active
// whether it was still running.
func (r *registry) cancel(id uuid.UUID) (found, active bool) {
	r.mu.RLock()
	run, ok := r.runs[id]
	var cancel context.CancelFunc
	if ok && !run.status.terminal() {
		cancel = run.cancel
	}
	r.mu.RUnlock()
	if !ok {
		return false, false
	}
	if cancel == nil {
		return true, false
	}
	cancel()
	return true, true
}

func (r *registry) evictLocked() {
	cutoff := r.now().Add(-r.retention)
	for id, run := range r.runs {
		if run.finished != nil && run.finished.Before(cutoff) {
			delete(r.runs, id)
		}
	}
}
