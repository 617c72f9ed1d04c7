package observability

import (
	"context"
	"log/slog"
)

// MultiObserver fans out events to multiple observers. A panicking observer
// is logged and skipped.
type MultiObserver struct {
	observers []Observer
	log       *slog.Logger
}

// NewMultiObserver creates a MultiObserver that forwards events to all
// non-nil observers.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, obs := range observers {
		if obs != nil {
			filtered = append(filtered, obs)
		}
	}
	return &MultiObserver{observers: filtered, log: slog.Default()}
}

func (m *MultiObserver) OnAttempt(ctx context.Context, event AttemptEvent) {
	for _, obs := range m.observers {
		m.deliver(ctx, obs, event)
	}
}

func (m *MultiObserver) deliver(ctx context.Context, obs Observer, event AttemptEvent) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Observer panicked", "request_id", event.RequestID, "panic", r)
		}
	}()
	obs.OnAttempt(ctx, event)
}
