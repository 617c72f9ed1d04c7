// Package classify maps raw transport outcomes into the typed failure taxonomy.
//
// Every outcome yields exactly one domain.FailureKind:
//   - transport errors (timeouts, resets, DNS, refused connections)
//   - non-2xx responses
//   - gRPC status errors from gRPC-backed transports
//
// Anything that matches no rule is KindUnknown, which is never retried and is
// logged so the rule set can be extended.
package classify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/facebookgo/clock"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vietddude/apiclient/internal/core/domain"
)

const maxBodySnippet = 256

// Classifier converts errors and responses into failures.
type Classifier struct {
	clock            clock.Clock
	log              *slog.Logger
	throttlePatterns []string
	networkPatterns  []string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithClock sets the clock used to resolve HTTP-date Retry-After values.
func WithClock(c clock.Clock) Option {
	return func(cl *Classifier) { cl.clock = c }
}

// WithLogger sets the logger used to report unclassifiable outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Classifier) { cl.log = l }
}

// New creates a Classifier.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		clock: clock.New(),
		log:   slog.Default(),
		throttlePatterns: []string{
			"rate limit exceeded",
			"rate limited",
			"too many requests",
			"quota exceeded",
			"daily request count exceeded",
		},
		networkPatterns: []string{
			"connection reset",
			"connection refused",
			"broken pipe",
			"no such host",
			"network is unreachable",
			"server closed idle connection",
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultClassifier = New()

// Error classifies err with the default classifier.
func Error(err error) *domain.Failure {
	return defaultClassifier.Classify(err)
}

// Response classifies resp with the default classifier.
func Response(resp *domain.Response) *domain.Failure {
	return defaultClassifier.ClassifyResponse(resp)
}

// Classify maps a transport-level error to a failure. An error that already
// carries a Failure is returned as is. Classify(nil) returns nil.
func (c *Classifier) Classify(err error) *domain.Failure {
	if err == nil {
		return nil
	}
	if f, ok := domain.AsFailure(err); ok {
		return f
	}

	switch {
	case errors.Is(err, context.Canceled):
		return domain.NewFailure(domain.KindCancelled, "request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return domain.NewFailure(domain.KindTimeout, "deadline exceeded", err)
	}

	if f := c.classifyGRPC(err); f != nil {
		return f
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewFailure(domain.KindTimeout, "i/o timeout", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.NewFailure(domain.KindNetwork, "dns lookup failed", err)
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return domain.NewFailure(domain.KindNetwork, "connection failed", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.NewFailure(domain.KindNetwork, opErr.Op+" failed", err)
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return domain.NewFailure(domain.KindNetwork, "connection closed", err)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range c.throttlePatterns {
		if strings.Contains(msg, p) {
			return domain.NewFailure(domain.KindRateLimited, "throttled", err)
		}
	}
	for _, p := range c.networkPatterns {
		if strings.Contains(msg, p) {
			return domain.NewFailure(domain.KindNetwork, "connection failed", err)
		}
	}
	if strings.Contains(msg, "timeout") {
		return domain.NewFailure(domain.KindTimeout, "timeout", err)
	}

	c.log.Warn("Unclassified transport error", "error", err, "type", fmt.Sprintf("%T", err))
	return domain.NewFailure(domain.KindUnknown, "unclassified error", err)
}

// ClassifyResponse maps a non-2xx response to a failure. It returns nil for
// 2xx responses.
func (c *Classifier) ClassifyResponse(resp *domain.Response) *domain.Failure {
	if resp == nil {
		return domain.NewFailure(domain.KindUnknown, "empty response", nil)
	}
	if resp.IsSuccess() {
		return nil
	}

	code := resp.StatusCode
	f := &domain.Failure{
		Status:  code,
		Message: responseMessage(resp),
	}

	switch {
	case code == http.StatusUnauthorized:
		f.Kind = domain.KindAuthentication
	case code == http.StatusForbidden:
		f.Kind = domain.KindAuthorization
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		f.Kind = domain.KindRateLimited
		f.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now())
	case code >= 400 && code < 500:
		f.Kind = domain.KindValidation
	case code >= 500 && code < 600:
		f.Kind = domain.KindServerError
		f.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), c.clock.Now())
	default:
		f.Kind = domain.KindUnknown
		c.log.Warn("Unclassified response status", "status", code)
	}

	return f
}

func (c *Classifier) classifyGRPC(err error) *domain.Failure {
	s, ok := status.FromError(err)
	if !ok {
		return nil
	}

	var kind domain.FailureKind
	switch s.Code() {
	case codes.Unavailable, codes.Aborted:
		kind = domain.KindNetwork
	case codes.DeadlineExceeded:
		kind = domain.KindTimeout
	case codes.Canceled:
		kind = domain.KindCancelled
	case codes.Unauthenticated:
		kind = domain.KindAuthentication
	case codes.PermissionDenied:
		kind = domain.KindAuthorization
	case codes.ResourceExhausted:
		kind = domain.KindRateLimited
	case codes.Internal, codes.DataLoss, codes.Unknown:
		kind = domain.KindServerError
	case codes.InvalidArgument, codes.NotFound, codes.AlreadyExists,
		codes.FailedPrecondition, codes.OutOfRange, codes.Unimplemented:
		kind = domain.KindValidation
	default:
		return nil
	}

	f := domain.NewFailure(kind, s.Message(), err)
	for _, d := range s.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok && ri.GetRetryDelay() != nil {
			f.RetryAfter = ri.GetRetryDelay().AsDuration()
		}
	}
	return f
}

// ParseRetryAfter parses a Retry-After header value, either delta-seconds or
// an HTTP-date. It returns 0 when the value is absent, invalid or in the past.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func responseMessage(resp *domain.Response) string {
	text := http.StatusText(resp.StatusCode)
	if text == "" {
		text = "unexpected status"
	}
	body := strings.TrimSpace(string(resp.Body))
	if body == "" {
		return text
	}
	if len(body) > maxBodySnippet {
		body = body[:maxBodySnippet] + "..."
	}
	return text + ": " + body
}
