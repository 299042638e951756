// Package sinks holds progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/pdfharvest/pdfharvest/internal/progress"
)

// LogSink emits structured logs for the progress stream. It is the default
// sink, giving operators a live trace of a run without any external store.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
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
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Field != "" {
			fields = append(fields, zap.String("field", evt.Field))
		}
		if evt.Keyword != "" {
			fields = append(fields, zap.String("keyword", evt.Keyword))
		}
		if evt.Stage == progress.StagePageDone {
			fields = append(fields,
				zap.Int("page", evt.Page),
				zap.Int("candidates", evt.Candidates),
			)
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", evt.Outcome))
		}
		if evt.Stage == progress.StageKeywordDone || evt.Stage == progress.StageRunDone {
			fields = append(fields,
				zap.Int("downloaded", evt.Downloaded),
				zap.Int("failed", evt.Failed),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
