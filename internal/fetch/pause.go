package fetch

import (
	"context"
	"fmt"
	"time"
)

// pauser abstracts how the fetcher sleeps between attempts.
type pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
