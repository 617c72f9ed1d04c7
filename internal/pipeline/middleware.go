package pipeline

import (
	"context"
	"time"

	"github.com/vietddude/apiclient/internal/core/domain"
)

// Handler executes a request and returns its response or a failure.
type Handler func(ctx context.Context, req *domain.Request) (*domain.Response, error)

// Middleware is one stage of the pipeline. It may amend req before calling
// next, amend the result after, or return without calling next at all.
type Middleware interface {
	Name() string
	Handle(ctx context.Context, req *domain.Request, next Handler) (*domain.Response, error)
}

type namedMiddleware struct {
	name string
	fn   func(ctx context.Context, req *domain.Request, next Handler) (*domain.Response, error)
}

func (m namedMiddleware) Name() string { return m.name }

func (m namedMiddleware) Handle(ctx context.Context, req *domain.Request, next Handler) (*domain.Response, error) {
	return m.fn(ctx, req, next)
}

// Func creates a Middleware from a function.
func Func(name string, fn func(ctx context.Context, req *domain.Request, next Handler) (*domain.Response, error)) Middleware {
	return namedMiddleware{name: name, fn: fn}
}

// Compose wraps terminal with stages. stages[0] is outermost: it runs first
// on the way in and last on the way out.
func Compose(terminal Handler, stages ...Middleware) Handler {
	h := terminal
	for i := len(stages) - 1; i >= 0; i-- {
		stage, next := stages[i], h
		h = func(ctx context.Context, req *domain.Request) (*domain.Response, error) {
			return stage.Handle(ctx, req, next)
		}
	}
	return h
}

// Headers sets static headers that the request does not already carry.
func Headers(headers map[string]string) Middleware {
	return Func("headers", func(ctx context.Context, req *domain.Request, next Handler) (*domain.Response, error) {
		for k, v := range headers {
			if req.Header.Get(k) == "" {
				req.Header.Set(k, v)
			}
		}
		return next(ctx, req)
	})
}

// DefaultTimeout sets a per-attempt timeout on requests that carry none.
func DefaultTimeout(d time.Duration) Middleware {
	return Func("timeout", func(ctx context.Context, req *domain.Request, next Handler) (*domain.Response, error) {
		if req.Timeout == 0 && d > 0 {
			req.Timeout = d
		}
		return next(ctx, req)
	})
}
