package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// LogSink emits structured logs for each progress event.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionID),
			zap.String("stage", string(evt.Stage)),
			zap.String("category", evt.Category),
			zap.Int("depth", evt.Depth),
		}
		switch evt.Stage {
		case progress.StagePageDone:
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.String("url", evt.URL),
				zap.Int("nodes", evt.Nodes),
				zap.Int("items", evt.Items),
				zap.Int64("saved", evt.Saved),
				zap.Bool("blocked", evt.Blocked),
				zap.Duration("dur", evt.Dur),
			)
		default:
			fields = append(fields,
				zap.Int("pages", evt.Pages),
				zap.Int("imported", evt.Imported),
				zap.String("stop_reason", string(evt.StopReason)),
			)
		}
		s.logger.Debug("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
