// Package observability delivers per-attempt events from the request
// pipeline to logging and metrics sinks. Observers only watch: nothing they
// do, panics included, changes the outcome of a request.
package observability

import (
	"context"
	"time"

	"github.com/vietddude/apiclient/internal/core/domain"
)

// Outcome is the result of one attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeCancelled Outcome = "cancelled"
)

// AttemptEvent describes one transport attempt.
type AttemptEvent struct {
	RequestID string
	Method    string
	Path      string
	Summary   string
	Attempt   int
	Outcome   Outcome
	Status    int
	Kind      domain.FailureKind
	Message   string
	Latency   time.Duration
	Timestamp time.Time
}

// Observer receives attempt events.
type Observer interface {
	OnAttempt(ctx context.Context, event AttemptEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event AttemptEvent)

func (f ObserverFunc) OnAttempt(ctx context.Context, event AttemptEvent) {
	f(ctx, event)
}

// NewAttemptEvent builds an event from an attempt result. err, if set, must
// already be classified.
func NewAttemptEvent(req *domain.Request, resp *domain.Response, err error, latency time.Duration, now time.Time) AttemptEvent {
	ev := AttemptEvent{
		RequestID: req.ID,
		Method:    req.Method,
		Path:      req.Path,
		Summary:   req.Summary(),
		Attempt:   req.Attempt,
		Outcome:   OutcomeSuccess,
		Latency:   latency,
		Timestamp: now,
	}
	if resp != nil {
		ev.Status = resp.StatusCode
	}
	if err != nil {
		ev.Outcome = OutcomeFailure
		ev.Kind = domain.KindOf(err)
		ev.Message = err.Error()
		if f, ok := domain.AsFailure(err); ok && f.Status != 0 {
			ev.Status = f.Status
		}
		if ev.Kind == domain.KindCancelled {
			ev.Outcome = OutcomeCancelled
		}
	}
	return ev
}
