// Package transport implements the "send one request, get a response or a
// transport error" primitive the pipeline is built on.
//
// This package contains:
//   - Transport interface: the pluggable send primitive
//   - HTTPTransport: net/http implementation with pooled connections
//   - Monitor: latency, throttle and usage tracking per transport
package transport

import (
	"context"

	"github.com/vietddude/apiclient/internal/core/domain"
)

// Transport sends one request. It returns a response for any HTTP status and
// an error only for transport-level failures. Transports must honour ctx.
type Transport interface {
	Send(ctx context.Context, req *domain.Request) (*domain.Response, error)
}

// Func adapts a function to Transport.
type Func func(ctx context.Context, req *domain.Request) (*domain.Response, error)

// Send implements Transport.
func (f Func) Send(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	return f(ctx, req)
}
