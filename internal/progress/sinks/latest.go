package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/blogscan/internal/progress"
)

// LatestSink keeps the most recent snapshot of each batch in memory so the
// API can answer progress queries. Finished batches are evicted after the
// retention window.
type LatestSink struct {
	mu        sync.RWMutex
	latest    map[uuid.UUID]progress.Snapshot
	retention time.Duration
	now       func() time.Time
}

// NewLatestSink builds a LatestSink. A non-positive retention keeps finished
// batches for 15 minutes.
func NewLatestSink(retention time.Duration) *LatestSink {
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	return &LatestSink{
		latest:    make(map[uuid.UUID]progress.Snapshot),
		retention: retention,
		now:       time.Now,
	}
}

// Consume records the newest snapshot per batch; older snapshots arriving
// late are ignored.
func (s *LatestSink) Consume(_ context.Context, batch []progress.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range batch {
		prev, ok := s.latest[snap.BatchID]
		if ok && (prev.Done || snap.Completed < prev.Completed) {
			continue
		}
		s.latest[snap.BatchID] = snap
	}
	s.evictLocked()
	return nil
}

// Get returns the latest snapshot for id.
func (s *LatestSink) Get(id uuid.UUID) (progress.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.latest[id]
	return snap, ok
}

func (s *LatestSink) evictLocked() {
	cutoff := s.now().Add(-s.retention)
	for id, snap := range s.latest {
		if snap.Done && snap.TS.Before(cutoff) {
			delete(s.latest, id)
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LatestSink) Close(context.Context) error {
	return nil
}
