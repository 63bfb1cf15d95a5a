package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-summarizer/internal/progress"
)

// LogSink writes each event as a structured log line. Page events are
// logged at Debug so large runs stay readable at Info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("site", evt.Site),
		}
		switch evt.Stage {
		case progress.StagePageDone:
			fields = append(fields, zap.String("url", evt.URL), zap.String("outcome", string(evt.Outcome)))
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Debug("page done", fields...)
		case progress.StageBatchDone:
			fields = append(fields,
				zap.Int("batch", evt.Batch),
				zap.Int("processed", evt.Processed),
				zap.Int("total", evt.Total))
			s.logger.Info("batch done", fields...)
		case progress.StageRunError:
			fields = append(fields, zap.Duration("dur", evt.Dur), zap.String("note", evt.Note))
			s.logger.Warn("run error", fields...)
		default:
			if evt.Dur > 0 {
				fields = append(fields, zap.Duration("dur", evt.Dur))
			}
			s.logger.Info("run event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
