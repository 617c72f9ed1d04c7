package observability

import "context"

// NoOpObserver discards all events with zero overhead.
type NoOpObserver struct{}

func (NoOpObserver) OnAttempt(ctx context.Context, event AttemptEvent) {}
