// Package api exposes the HTTP interface for discovery and batch analysis.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/analyzer"
	"github.com/JakeFAU/blogscan/internal/archive"
	"github.com/JakeFAU/blogscan/internal/batch"
	"github.com/JakeFAU/blogscan/internal/config"
	"github.com/JakeFAU/blogscan/internal/discovery"
	"github.com/JakeFAU/blogscan/internal/metrics"
	"github.com/JakeFAU/blogscan/internal/progress"
	"github.com/JakeFAU/blogscan/internal/store"
)

const defaultRequestTimeout = 60 * time.Second

// Discoverer finds content URLs for a domain.
type Discoverer interface {
	Discover(ctx context.Context, domain string, limit int) (discovery.Result, error)
}

// ProgressReader returns the latest snapshot recorded for a batch.
type ProgressReader interface {
	Get(id uuid.UUID) (progress.Snapshot, bool)
}

// Recorder persists a finished batch and returns its history row.
type Recorder interface {
	Record(ctx context.Context, rep archive.Report) (store.BatchRecord, error)
}

// History reads persisted batch summaries.
type History interface {
	GetBatch(ctx context.Context, id uuid.UUID) (store.BatchRecord, error)
	ListBatches(ctx context.Context, status *store.BatchStatus, limit, offset int) ([]store.BatchRecord, error)
}

// Option customizes a Server.
type Option func(*Server)

// WithRecorder records every finished batch through rec.
func WithRecorder(rec Recorder) Option {
	return func(s *Server) { s.recorder = rec }
}

// WithHistory serves batches evicted from memory out of h and enables
// GET /v1/history.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// Server wires HTTP handlers to discovery, the batch scheduler and progress
// reporting.
type Server struct {
	router     chi.Router
	discoverer Discoverer
	worker     batch.Worker[analyzer.PageAnalysis]
	progress   ProgressReader
	emitter    progress.Emitter
	batches    *registry
	recorder   Recorder
	history    History
	cfg        config.Config
	logger     *zap.Logger

	// runMu orders batch starts against Shutdown.
	runMu   sync.Mutex
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer constructs a Server with middleware and routes. reader and
// emitter may be nil, in which case batch status omits live progress.
func NewServer(
	discoverer Discoverer,
	worker batch.Worker[analyzer.PageAnalysis],
	reader ProgressReader,
	emitter progress.Emitter,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		discoverer: discoverer,
		worker:     worker,
		progress:   reader,
		emitter:    emitter,
		batches:    newRegistry(cfg.Server.ProgressRetention),
		cfg:        cfg,
		logger:     logger,
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(s)
	}

	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/discover", s.discover)
		r.Post("/analyze", s.submitAnalyze)
		r.Get("/batches", s.listBatches)
		r.Get("/history", s.listHistory)
		r.Route("/batches/{batch_id}", func(r chi.Router) {
			r.Get("/", s.getBatch)
			r.Post("/cancel", s.cancelBatch)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Shutdown cancels running batches and waits for them to record their
// outcome or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.runMu.Lock()
	s.cancel()
	s.runMu.Unlock()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for batches: %w", ctx.Err())
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.baseCtx.Err() != nil {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type discoverRequest struct {
	Domain string `json:"domain"`
	Limit  int    `json:"limit"`
}

func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	var req discoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be >= 0")
		return
	}
	res, err := s.discoverer.Discover(r.Context(), req.Domain, s.limitOrDefault(req.Limit))
	if err != nil {
		writeError(w, discoverStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func discoverStatus(err error) int {
	switch {
	case errors.Is(err, discovery.ErrInvalidDomain):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) limitOrDefault(limit int) int {
	if limit > 0 {
		return limit
	}
	return s.cfg.Discovery.DefaultLimit
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type requestIDKey struct{}

// RequestID returns the request ID stored by the request ID middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("panic", rec),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}
