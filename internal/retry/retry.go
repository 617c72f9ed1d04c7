// Package retry runs operations with bounded retry and exponential backoff.
//
// Failures are classified before every decision: only kinds whose
// Retryable() is true are retried, Cancelled always stops, and
// Authentication is routed to an AuthRecovery hook instead of the delay path.
package retry

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/facebookgo/clock"

	"github.com/vietddude/apiclient/internal/classify"
	"github.com/vietddude/apiclient/internal/core/domain"
)

// JitterStrategy decides how the computed delay is randomised.
type JitterStrategy string

const (
	JitterFull  JitterStrategy = "full"  // uniform in [0, d]
	JitterEqual JitterStrategy = "equal" // d/2 + uniform in [0, d/2]
	JitterNone  JitterStrategy = "none"
)

// Policy defines retry behavior.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      JitterStrategy
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxAttempts: 4,
	BaseDelay:   200 * time.Millisecond,
	MaxDelay:    5 * time.Second,
	Jitter:      JitterFull,
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter == "" {
		p.Jitter = JitterFull
	}
	return p
}

func (p Policy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Delay returns the pre-jitter delay after the given failed attempt (1-based):
// min(MaxDelay, BaseDelay * 2^(attempt-1)).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	b := p.newBackOff()
	var d time.Duration
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// AuthRecovery is consulted when an attempt fails with an Authentication
// failure. A nil return means a newer credential is in place and the
// operation should be retried at once.
type AuthRecovery func(ctx context.Context) error

// Operation is one attempt. attempt is 1-based.
type Operation func(ctx context.Context, attempt int) error

// RetryEvent describes a scheduled retry.
type RetryEvent struct {
	Attempt int
	Failure *domain.Failure
	Delay   time.Duration
}

// Executor runs operations under a Policy.
type Executor struct {
	policy     Policy
	clock      clock.Clock
	classifier *classify.Classifier
	log        *slog.Logger
	onRetry    func(RetryEvent)
	retryGate  func(f *domain.Failure) bool
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock sets the clock used for backoff sleeps.
func WithClock(c clock.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithClassifier sets the classifier for errors that are not yet failures.
func WithClassifier(c *classify.Classifier) Option {
	return func(e *Executor) { e.classifier = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.log = l }
}

// WithOnRetry registers a callback invoked before each backoff sleep.
func WithOnRetry(fn func(RetryEvent)) Option {
	return func(e *Executor) { e.onRetry = fn }
}

// NewExecutor creates an Executor.
func NewExecutor(policy Policy, opts ...Option) *Executor {
	e := &Executor{
		policy:     policy.withDefaults(),
		clock:      clock.New(),
		classifier: classify.New(),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the effective policy.
func (e *Executor) Policy() Policy {
	return e.policy
}

// WithGate returns a copy of the executor that additionally requires gate to
// approve a retryable failure before it is retried. The gate can only veto,
// never turn a non-retryable failure into a retry.
func (e *Executor) WithGate(gate func(f *domain.Failure) bool) *Executor {
	cp := *e
	cp.retryGate = gate
	return &cp
}

// Run executes op until it succeeds, a terminal failure occurs, or attempts
// are exhausted. The returned error is always a *domain.Failure.
func (e *Executor) Run(ctx context.Context, op Operation, reauth AuthRecovery) error {
	b := e.policy.newBackOff()
	authRetries := 0

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return e.classifier.Classify(err)
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}

		f := e.classifier.Classify(err)
		if ctxErr := ctx.Err(); ctxErr != nil &&
			f.Kind != domain.KindCancelled && f.Kind != domain.KindTimeout {
			return e.classifier.Classify(ctxErr)
		}

		switch {
		case f.Kind == domain.KindCancelled:
			return f
		case f.Kind == domain.KindAuthentication:
			if reauth == nil || authRetries > 0 {
				return f
			}
			if rerr := reauth(ctx); rerr != nil {
				return e.classifier.Classify(rerr)
			}
			// Immediate retry with the newer credential, outside the attempt budget.
			authRetries++
			continue
		case !f.Retryable():
			return f
		case e.retryGate != nil && !e.retryGate(f):
			return f
		case attempt-authRetries >= e.policy.MaxAttempts:
			return f
		}

		delay := e.jitter(b.NextBackOff())
		if f.RetryAfter > 0 {
			delay = f.RetryAfter
		}

		if e.onRetry != nil {
			e.onRetry(RetryEvent{Attempt: attempt, Failure: f, Delay: delay})
		}
		e.log.Debug("Retrying after failure",
			"attempt", attempt,
			"kind", f.Kind.String(),
			"delay", delay,
		)

		if err := e.sleep(ctx, delay); err != nil {
			return e.classifier.Classify(err)
		}
	}
}

// Do runs fn under the executor and returns its value.
func Do[T any](
	ctx context.Context,
	e *Executor,
	fn func(ctx context.Context, attempt int) (T, error),
	reauth AuthRecovery,
) (T, error) {
	var result T
	err := e.Run(ctx, func(ctx context.Context, attempt int) error {
		v, err := fn(ctx, attempt)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, reauth)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func (e *Executor) jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	switch e.policy.Jitter {
	case JitterNone:
		return d
	case JitterEqual:
		half := d / 2
		return half + time.Duration(rand.Int64N(int64(d-half)+1))
	default:
		return time.Duration(rand.Int64N(int64(d) + 1))
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := e.clock.Timer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
