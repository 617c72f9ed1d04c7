package observability

import (
	"context"
	"log/slog"
)

// SlogObserver logs attempts. Successes log at debug, cancellations at info
// and failures at warn.
type SlogObserver struct {
	logger *slog.Logger
}

// NewSlogObserver creates a SlogObserver that emits to the given logger.
func NewSlogObserver(logger *slog.Logger) *SlogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogObserver{logger: logger}
}

func (o *SlogObserver) OnAttempt(ctx context.Context, event AttemptEvent) {
	attrs := []slog.Attr{
		slog.String("request_id", event.RequestID),
		slog.String("method", event.Method),
		slog.String("path", event.Path),
		slog.Int("attempt", event.Attempt),
		slog.String("outcome", string(event.Outcome)),
		slog.Duration("latency", event.Latency),
	}
	if event.Status != 0 {
		attrs = append(attrs, slog.Int("status", event.Status))
	}

	level := slog.LevelDebug
	switch event.Outcome {
	case OutcomeFailure:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("kind", event.Kind.String()),
			slog.String("error", event.Message),
		)
	case OutcomeCancelled:
		level = slog.LevelInfo
	}

	o.logger.LogAttrs(ctx, level, "Request attempt", attrs...)
}
