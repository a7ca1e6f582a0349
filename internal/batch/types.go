package batch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Worker analyzes one URL. It must honor ctx; a worker that ignores it is
// abandoned when the item times out.
type Worker[T any] func(ctx context.Context, url string) (T, error)

// FailureKind classifies why an item failed.
type FailureKind string

// Failure kinds.
const (
	FailureError    FailureKind = "error"
	FailureTimeout  FailureKind = "timeout"
	FailurePanic    FailureKind = "panic"
	FailureCanceled FailureKind = "canceled"
)

// TimeoutMessage is the Error text recorded for items that hit PerItemTimeout.
const TimeoutMessage = "timeout"

// Success is the outcome of an item whose worker returned a result.
type Success[T any] struct {
	URL      string        `json:"url"`
	Result   T             `json:"result"`
	Duration time.Duration `json:"duration"`
}

// Failure is the outcome of an item that produced no result.
type Failure struct {
	URL       string      `json:"url"`
	Error     string      `json:"error"`
	Kind      FailureKind `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
}

// Result holds one outcome per distinct input URL.
type Result[T any] struct {
	ID            uuid.UUID             `json:"id"`
	Successes     map[string]Success[T] `json:"successes"`
	Failures      map[string]Failure    `json:"failures"`
	TotalDuration time.Duration         `json:"total_duration"`
	// Canceled reports that the caller's context ended before every item ran.
	Canceled bool `json:"canceled"`
}

// Len returns the number of recorded outcomes.
func (r Result[T]) Len() int {
	return len(r.Successes) + len(r.Failures)
}
