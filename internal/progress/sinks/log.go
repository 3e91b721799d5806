// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/propwatch/listings-crawler/internal/progress"
)

// LogSink writes fetch milestones to a structured logger. Run lifecycle
// events log at Info; per-fetch events at Debug to keep production logs calm.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, e := range batch {
		fields := []zap.Field{
			zap.String("run_id", e.RunID),
			zap.Time("ts", e.TS),
		}
		switch e.Stage {
		case progress.StageFetchDone:
			fields = append(fields,
				zap.String("domain", e.Domain),
				zap.String("url", e.URL),
				zap.String("status", e.Status),
				zap.Duration("duration", e.Dur),
			)
			if e.ErrorKind != "" {
				fields = append(fields, zap.String("error_kind", e.ErrorKind))
			}
			s.logger.Debug("fetch done", fields...)
		case progress.StageRunStart:
			s.logger.Info("run started", fields...)
		case progress.StageRunDone:
			s.logger.Info("run finished", append(fields, zap.Duration("duration", e.Dur))...)
		}
	}
	return nil
}
