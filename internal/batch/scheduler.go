package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/metrics"
	"github.com/JakeFAU/blogscan/internal/progress"
)

// Defaults applied when Options fields are left zero.
const (
	DefaultConcurrency    = 3
	DefaultPerItemTimeout = 30 * time.Second
)

// Options tunes a Run.
type Options struct {
	// ID names the batch in results and snapshots; zero generates a UUIDv7.
	ID             uuid.UUID
	Concurrency    int
	PerItemTimeout time.Duration
	// Progress receives one snapshot per resolved chunk. May be nil.
	Progress progress.Emitter
	Logger   *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.PerItemTimeout <= 0 {
		o.PerItemTimeout = DefaultPerItemTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		o.ID = id
	}
	return o
}

// Run executes worker once per distinct URL and returns every outcome.
// Duplicate URLs collapse to their first occurrence. The last snapshot sent
// to opts.Progress has Done set, including for an empty batch.
func Run[T any](ctx context.Context, urls []string, worker Worker[T], opts Options) Result[T] {
	opts = opts.withDefaults()
	items := dedupe(urls)
	start := time.Now()
	rec := newRecorder[T]()
	logger := opts.Logger.With(zap.String("batch_id", opts.ID.String()))

	logger.Debug("batch started",
		zap.Int("items", len(items)),
		zap.Int("concurrency", opts.Concurrency),
		zap.Duration("per_item_timeout", opts.PerItemTimeout),
	)

	stopped := false
	for lo := 0; lo < len(items); lo += opts.Concurrency {
		if err := ctx.Err(); err != nil {
			for _, u := range items[lo:] {
				rec.fail(u, FailureCanceled, fmt.Sprintf("canceled before start: %v", err))
			}
			stopped = true
			break
		}
		hi := min(lo+opts.Concurrency, len(items))
		chunk := items[lo:hi]

		var wg sync.WaitGroup
		for _, u := range chunk {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runItem(ctx, u, worker, opts.PerItemTimeout, rec, logger)
			}()
		}
		wg.Wait()
		emit(opts, rec, chunk[len(chunk)-1], start, len(items), hi == len(items))
	}
	if stopped || len(items) == 0 {
		emit(opts, rec, "", start, len(items), true)
	}

	res := Result[T]{
		ID:            opts.ID,
		Successes:     rec.successes,
		Failures:      rec.failures,
		TotalDuration: time.Since(start),
		Canceled:      stopped || rec.anyCanceled(),
	}
	logger.Info("batch finished",
		zap.Int("successes", len(res.Successes)),
		zap.Int("failures", len(res.Failures)),
		zap.Duration("duration", res.TotalDuration),
		zap.Bool("canceled", res.Canceled),
	)
	return res
}

type itemOutcome[T any] struct {
	result   T
	err      error
	panicked any
}

func runItem[T any](
	ctx context.Context,
	url string,
	worker Worker[T],
	timeout time.Duration,
	rec *recorder[T],
	logger *zap.Logger,
) {
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	done := make(chan itemOutcome[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- itemOutcome[T]{panicked: p}
			}
		}()
		res, err := worker(itemCtx, url)
		done <- itemOutcome[T]{result: res, err: err}
	}()

	var out itemOutcome[T]
	select {
	case out = <-done:
	case <-itemCtx.Done():
		select {
		case out = <-done:
		default:
			out.err = itemCtx.Err()
		}
	}

	switch {
	case out.panicked != nil:
		logger.Warn("worker panicked", zap.String("url", url), zap.Any("panic", out.panicked))
		rec.fail(url, FailurePanic, fmt.Sprintf("panic: %v", out.panicked))
	case out.err == nil:
		rec.succeed(url, out.result, time.Since(started))
	case ctx.Err() != nil:
		rec.fail(url, FailureCanceled, fmt.Sprintf("canceled: %v", ctx.Err()))
	case errors.Is(out.err, context.DeadlineExceeded) && itemCtx.Err() != nil:
		logger.Debug("item timed out", zap.String("url", url), zap.Duration("timeout", timeout))
		rec.fail(url, FailureTimeout, TimeoutMessage)
	default:
		logger.Debug("item failed", zap.String("url", url), zap.Error(out.err))
		rec.fail(url, FailureError, out.err.Error())
	}
}

func emit[T any](opts Options, rec *recorder[T], current string, start time.Time, total int, done bool) {
	if opts.Progress == nil {
		return
	}
	completed, failed := rec.counts()
	opts.Progress.Emit(progress.Estimate(progress.Snapshot{
		BatchID:     opts.ID,
		TS:          time.Now().UTC(),
		Total:       total,
		Completed:   completed,
		Failed:      failed,
		CurrentItem: current,
		Elapsed:     time.Since(start),
		Done:        done,
	}))
}

func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// recorder owns the two outcome maps. Each URL is recorded at most once.
type recorder[T any] struct {
	mu        sync.Mutex
	successes map[string]Success[T]
	failures  map[string]Failure
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{
		successes: make(map[string]Success[T]),
		failures:  make(map[string]Failure),
	}
}

func (r *recorder[T]) succeed(url string, result T, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seenLocked(url) {
		return
	}
	r.successes[url] = Success[T]{URL: url, Result: result, Duration: d}
	metrics.ObserveBatchItem("success")
}

func (r *recorder[T]) fail(url string, kind FailureKind, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seenLocked(url) {
		return
	}
	r.failures[url] = Failure{URL: url, Error: msg, Kind: kind, Timestamp: time.Now().UTC()}
	metrics.ObserveBatchItem(string(kind))
}

func (r *recorder[T]) seenLocked(url string) bool {
	if _, ok := r.successes[url]; ok {
		return true
	}
	_, ok := r.failures[url]
	return ok
}

func (r *recorder[T]) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.successes) + len(r.failures), len(r.failures)
}

func (r *recorder[T]) anyCanceled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.failures {
		if f.Kind == FailureCanceled {
			return true
		}
	}
	return false
}
