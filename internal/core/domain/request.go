package domain

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Well-known keys for Request.Extra.
const (
	ExtraGeneration  = "auth.generation"
	ExtraRetryCount  = "retry.count"
	ExtraCachePolicy = "cache.policy"
)

// Request is a single logical API call. It lives for one pipeline execution.
// Only Attempt, Header and Extra may be amended by middleware.
type Request struct {
	ID         string
	Method     string
	Path       string
	Header     http.Header
	Body       []byte
	Idempotent bool
	Attempt    int
	Timeout    time.Duration // per attempt, 0 = transport default

	mu    sync.RWMutex
	extra map[string]any
}

// NewRequest creates a request with a fresh ID. Idempotency is derived from
// the method and may be overridden by the caller.
func NewRequest(method, path string, body []byte) *Request {
	return &Request{
		ID:         uuid.New().String(),
		Method:     method,
		Path:       path,
		Header:     make(http.Header),
		Body:       body,
		Idempotent: IsIdempotentMethod(method),
		extra:      make(map[string]any),
	}
}

// IsIdempotentMethod reports whether HTTP semantics allow replaying method.
func IsIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

// SetExtra stores a middleware value.
func (r *Request) SetExtra(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.extra == nil {
		r.extra = make(map[string]any)
	}
	r.extra[key] = value
}

// Extra returns a middleware value.
func (r *Request) Extra(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.extra[key]
	return v, ok
}

// Generation returns the credential generation recorded by credential
// injection, if any.
func (r *Request) Generation() (uint64, bool) {
	v, ok := r.Extra(ExtraGeneration)
	if !ok {
		return 0, false
	}
	gen, ok := v.(uint64)
	return gen, ok
}

// Summary is a short human-readable description used in logs and events.
func (r *Request) Summary() string {
	return r.Method + " " + r.Path
}

// Response is the outcome of one transport call, or a synthesized cache hit.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	SentAt     time.Time
	ReceivedAt time.Time
	FromCache  bool
}

// Latency returns the time between sending and receiving.
func (r *Response) Latency() time.Duration {
	if r.ReceivedAt.IsZero() || r.SentAt.IsZero() {
		return 0
	}
	return r.ReceivedAt.Sub(r.SentAt)
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
