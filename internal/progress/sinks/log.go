package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/progress"
)

// LogSink writes each snapshot as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every snapshot in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Snapshot) error {
	for _, snap := range batch {
		msg := "batch progress"
		if snap.Done {
			msg = "batch finished"
		}
		s.logger.Info(msg,
			zap.String("batch_id", snap.BatchID.String()),
			zap.Int("completed", snap.Completed),
			zap.Int("total", snap.Total),
			zap.Int("errors", snap.Failed),
			zap.Float64("percentage", snap.Percentage),
			zap.Duration("elapsed", snap.Elapsed),
			zap.Duration("eta", snap.EstimatedRemaining),
			zap.String("current_item", snap.CurrentItem),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
