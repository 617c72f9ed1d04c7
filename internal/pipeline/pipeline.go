// Package pipeline composes middleware around a Transport.
//
// The standard chain, outermost first, is: caller outer stages, retry,
// credential injection, caller inner stages, observation, and the terminal
// send. A retried attempt re-runs everything inside the retry stage, so a
// refreshed token is picked up, but never the outer stages.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/facebookgo/clock"

	"github.com/vietddude/apiclient/internal/classify"
	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/infra/transport"
	"github.com/vietddude/apiclient/internal/metrics"
	"github.com/vietddude/apiclient/internal/observability"
	"github.com/vietddude/apiclient/internal/retry"
)

// Authenticator injects credentials and recovers from 401s.
// *auth.Manager implements it.
type Authenticator interface {
	Attach(ctx context.Context, req *domain.Request) error
	Recovery(req *domain.Request) retry.AuthRecovery
}

// Pipeline executes requests through an ordered middleware chain.
type Pipeline struct {
	transport  transport.Transport
	classifier *classify.Classifier
	executor   *retry.Executor
	auth       Authenticator
	observer   observability.Observer
	clock      clock.Clock
	log        *slog.Logger

	outer []Middleware
	inner []Middleware

	stages  []Middleware
	handler Handler
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithClassifier sets the failure classifier.
func WithClassifier(c *classify.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithExecutor sets the retry executor.
func WithExecutor(e *retry.Executor) Option {
	return func(p *Pipeline) { p.executor = e }
}

// WithAuthenticator enables credential injection.
func WithAuthenticator(a Authenticator) Option {
	return func(p *Pipeline) { p.auth = a }
}

// WithObserver sets the attempt observer.
func WithObserver(o observability.Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithClock sets the clock used for attempt timing.
func WithClock(c clock.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithOuter adds stages outside the retry loop. They run once per call.
func WithOuter(mw ...Middleware) Option {
	return func(p *Pipeline) { p.outer = append(p.outer, mw...) }
}

// WithInner adds stages inside the retry loop, after credential injection.
// They run once per attempt.
func WithInner(mw ...Middleware) Option {
	return func(p *Pipeline) { p.inner = append(p.inner, mw...) }
}

// New builds a pipeline. The chain is fixed once New returns.
func New(t transport.Transport, opts ...Option) *Pipeline {
	p := &Pipeline{
		transport: t,
		clock:     clock.New(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.classifier == nil {
		p.classifier = classify.New(classify.WithClock(p.clock), classify.WithLogger(p.log))
	}
	if p.executor == nil {
		p.executor = retry.NewExecutor(retry.DefaultPolicy,
			retry.WithClock(p.clock),
			retry.WithClassifier(p.classifier),
			retry.WithLogger(p.log),
			retry.WithOnRetry(func(ev retry.RetryEvent) {
				metrics.RetriesTotal.WithLabelValues(ev.Failure.Kind.String()).Inc()
			}),
		)
	}
	if p.observer == nil {
		p.observer = observability.NoOpObserver{}
	} else if _, ok := p.observer.(*observability.MultiObserver); !ok {
		p.observer = observability.NewMultiObserver(p.observer)
	}

	stages := make([]Middleware, 0, len(p.outer)+len(p.inner)+3)
	stages = append(stages, p.outer...)
	stages = append(stages, p.retryStage())
	if p.auth != nil {
		stages = append(stages, p.authStage())
	}
	stages = append(stages, p.inner...)
	stages = append(stages, p.observeStage())

	p.stages = stages
	p.handler = Compose(p.send, stages...)
	return p
}

// Stages returns the stage names, outermost first.
func (p *Pipeline) Stages() []string {
	names := make([]string, 0, len(p.stages)+1)
	for _, s := range p.stages {
		names = append(names, s.Name())
	}
	return append(names, "send")
}

// Execute runs req through the chain. A non-nil error is always a
// *domain.Failure. On failure the response, if any, is the last one received.
func (p *Pipeline) Execute(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if req == nil {
		return nil, domain.NewFailure(domain.KindValidation, "nil request", nil)
	}
	if req.Header == nil {
		req.Header = make(map[string][]string)
	}

	resp, err := p.handler(ctx, req)
	if err != nil {
		return resp, p.classifier.Classify(err)
	}
	return resp, nil
}

// send is the terminal stage: one Transport call, then classification.
func (p *Pipeline) send(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, p.classifier.Classify(err)
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	resp, err := p.transport.Send(ctx, req)
	if err != nil {
		return nil, p.classifier.Classify(err)
	}
	if f := p.classifier.ClassifyResponse(resp); f != nil {
		return resp, f
	}
	return resp, nil
}

// nonIdempotentRetryable allows retrying a non-idempotent request only when
// the server cannot have applied it.
func nonIdempotentRetryable(f *domain.Failure) bool {
	return f.Kind == domain.KindRateLimited || f.Kind == domain.KindNetwork
}

func (p *Pipeline) retryStage() Middleware {
	return Func("retry", func(ctx context.Context, req *domain.Request, next Handler) (*domain.Response, error) {
		exec := p.executor
		if !req.Idempotent {
			exec = exec.WithGate(nonIdempotentRetryable)
		}
		var reauth retry.AuthRecovery
		if p.auth != nil {
			reauth = p.auth.Recovery(req)
		}

		var last *domain.Response
		resp, err := retry.Do(ctx, exec, func(ctx context.Context, attempt int) (*domain.Response, error) {
			req.Attempt = attempt
			req.SetExtra(domain.ExtraRetryCount, attempt-1)
			resp, err := next(ctx, req)
			last = resp
			return resp, err
		}, reauth)
		if err != nil {
			return last, err
		}
		return resp, nil
	})
}

func (p *Pipeline) authStage() Middleware {
	return Func("auth", func(ctx context.Context, req *domain.Request, next Handler) (*domain.Response, error) {
		if err := p.auth.Attach(ctx, req); err != nil {
			return nil, err
		}
		return next(ctx, req)
	})
}

func (p *Pipeline) observeStage() Middleware {
	return Func("observe", func(ctx context.Context, req *domain.Request, next Handler) (*domain.Response, error) {
		start := p.clock.Now()
		resp, err := next(ctx, req)
		end := p.clock.Now()
		p.observer.OnAttempt(ctx, observability.NewAttemptEvent(req, resp, err, end.Sub(start), end))
		return resp, err
	})
}
