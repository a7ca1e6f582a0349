package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/blogscan/internal/progress"
)

// PrometheusSink turns snapshots into batch-level collectors. Snapshots carry
// running totals, so the sink tracks the last totals per batch and exports
// the deltas.
type PrometheusSink struct {
	batchesStarted   prometheus.Counter
	batchesCompleted *prometheus.CounterVec
	batchesRunning   prometheus.Gauge
	batchRuntime     prometheus.Histogram
	items            *prometheus.CounterVec
	lastETA          prometheus.Gauge

	tracker *batchTracker
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		batchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "blogscan_batches_started_total",
			Help: "Batches that reported at least one snapshot.",
		}),
		batchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogscan_batches_completed_total",
			Help: "Finished batches partitioned by whether any item failed.",
		}, []string{"result"}),
		batchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blogscan_batches_running",
			Help: "Batches that have reported progress but not finished.",
		}),
		batchRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "blogscan_batch_runtime_seconds",
			Help:    "Wall time per finished batch.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "blogscan_batch_progress_items_total",
			Help: "Items resolved as seen through progress snapshots.",
		}, []string{"result"}),
		lastETA: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "blogscan_batch_eta_seconds",
			Help: "Estimated remaining time reported by the most recent snapshot.",
		}),
		tracker: newBatchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.batchesStarted,
		s.batchesCompleted,
		s.batchesRunning,
		s.batchRuntime,
		s.items,
		s.lastETA,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Snapshot) error {
	for _, snap := range batch {
		s.consume(snap)
	}
	return nil
}

func (s *PrometheusSink) consume(snap progress.Snapshot) {
	first, dOK, dFailed := s.tracker.advance(snap)
	if first {
		s.batchesStarted.Inc()
		s.batchesRunning.Inc()
	}
	if dOK > 0 {
		s.items.WithLabelValues("success").Add(float64(dOK))
	}
	if dFailed > 0 {
		s.items.WithLabelValues("failure").Add(float64(dFailed))
	}
	s.lastETA.Set(snap.EstimatedRemaining.Seconds())

	if !snap.Done || !s.tracker.finish(snap.BatchID) {
		return
	}
	s.batchesRunning.Dec()
	result := "clean"
	if snap.Failed > 0 {
		result = "with_errors"
	}
	s.batchesCompleted.WithLabelValues(result).Inc()
	s.batchRuntime.Observe(snap.Elapsed.Seconds())
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type batchTotals struct {
	succeeded int
	failed    int
}

type batchTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]batchTotals
}

func newBatchTracker() *batchTracker {
	return &batchTracker{running: make(map[uuid.UUID]batchTotals)}
}

// advance records snap and returns whether the batch is new plus the success
// and failure deltas since its previous snapshot.
func (t *batchTracker) advance(snap progress.Snapshot) (bool, int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, seen := t.running[snap.BatchID]
	next := batchTotals{succeeded: snap.Completed - snap.Failed, failed: snap.Failed}
	t.running[snap.BatchID] = next
	return !seen, max(next.succeeded-prev.succeeded, 0), max(next.failed-prev.failed, 0)
}

func (t *batchTracker) finish(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
