package progress

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Snapshot describes a batch after one of its chunks resolved.
type Snapshot struct {
	BatchID uuid.UUID `json:"batch_id"`
	TS      time.Time `json:"ts"`
	Total   int       `json:"total"`
	// Completed counts items with an outcome, successful or not.
	Completed int `json:"completed"`
	// Failed counts the failures among Completed.
	Failed int `json:"accumulated_errors"`
	// CurrentItem is the last URL of the chunk that just resolved.
	CurrentItem        string        `json:"current_item,omitempty"`
	Percentage         float64       `json:"percentage"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`
	Elapsed            time.Duration `json:"elapsed"`
	// Done marks the final snapshot of a batch.
	Done bool `json:"done"`
}

// Validate rejects snapshots no sink could make sense of.
func (s Snapshot) Validate() error {
	if s.BatchID == uuid.Nil {
		return errors.New("batch id is required")
	}
	if s.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if s.Total < 0 || s.Completed < 0 || s.Failed < 0 {
		return errors.New("counts must be >= 0")
	}
	if s.Completed > s.Total {
		return errors.New("completed exceeds total")
	}
	if s.Failed > s.Completed {
		return errors.New("failed exceeds completed")
	}
	return nil
}

// Estimate fills Percentage and EstimatedRemaining by extrapolating the
// average time per completed item over the remaining items.
func Estimate(s Snapshot) Snapshot {
	if s.Total == 0 {
		s.Percentage = 100
		s.EstimatedRemaining = 0
		return s
	}
	s.Percentage = float64(s.Completed) / float64(s.Total) * 100
	if s.Completed == 0 {
		s.EstimatedRemaining = 0
		return s
	}
	perItem := s.Elapsed / time.Duration(s.Completed)
	s.EstimatedRemaining = perItem * time.Duration(s.Total-s.Completed)
	return s
}
