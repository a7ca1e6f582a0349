package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/blogscan/internal/store"
)

// BatchStore provides an in-memory store.BatchRepository for development/testing.
type BatchStore struct {
	mu      sync.RWMutex
	batches map[uuid.UUID]store.BatchRecord
}

// NewBatchStore constructs a BatchStore.
func NewBatchStore() *BatchStore {
	return &BatchStore{batches: make(map[uuid.UUID]store.BatchRecord)}
}

// SaveBatch stores or replaces the record.
func (s *BatchStore) SaveBatch(_ context.Context, rec store.BatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[rec.ID] = rec
	return nil
}

// GetBatch fetches a record by ID.
func (s *BatchStore) GetBatch(_ context.Context, id uuid.UUID) (store.BatchRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.batches[id]
	if !ok {
		return store.BatchRecord{}, store.ErrNotFound
	}
	return rec, nil
}

// ListBatches returns records newest first.
func (s *BatchStore) ListBatches(
	_ context.Context,
	status *store.BatchStatus,
	limit, offset int,
) ([]store.BatchRecord, error) {
	s.mu.RLock()
	recs := make([]store.BatchRecord, 0, len(s.batches))
	for _, rec := range s.batches {
		if status == nil || rec.Status == *status {
			recs = append(recs, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].SubmittedAt.Equal(recs[j].SubmittedAt) {
			return recs[i].ID.String() > recs[j].ID.String()
		}
		return recs[i].SubmittedAt.After(recs[j].SubmittedAt)
	})
	if offset >= len(recs) {
		return []store.BatchRecord{}, nil
	}
	recs = recs[offset:]
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}
