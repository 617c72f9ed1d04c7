package domain

import (
	"errors"
	"fmt"
	"time"
)

// FailureKind is the classified category of a failed call.
type FailureKind int

const (
	KindUnknown FailureKind = iota
	KindNetwork
	KindTimeout
	KindAuthentication
	KindAuthorization
	KindRateLimited
	KindServerError
	KindValidation
	KindCacheMiss
	KindCancelled
)

func (k FailureKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindValidation:
		return "validation"
	case KindCacheMiss:
		return "cache_miss"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of this kind may be retried.
func (k FailureKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimited, KindServerError:
		return true
	default:
		return false
	}
}

// Failure is the single error type surfaced by the client layer.
type Failure struct {
	Kind       FailureKind
	Message    string
	Status     int           // HTTP status when the failure came from a response
	RetryAfter time.Duration // server hint, 0 if absent
	Err        error
}

// NewFailure creates a failure of the given kind.
func NewFailure(kind FailureKind, message string, cause error) *Failure {
	return &Failure{Kind: kind, Message: message, Err: cause}
}

// Retryable is derived from Kind only.
func (f *Failure) Retryable() bool {
	return f.Kind.Retryable()
}

func (f *Failure) Error() string {
	msg := f.Message
	if msg == "" && f.Err != nil {
		msg = f.Err.Error()
	}
	if f.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", f.Kind, f.Status, msg)
	}
	return fmt.Sprintf("%s: %s", f.Kind, msg)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches another *Failure by kind, so errors.Is(err, &Failure{Kind: KindTimeout}) works.
func (f *Failure) Is(target error) bool {
	t, ok := target.(*Failure)
	if !ok {
		return false
	}
	return t.Kind == f.Kind
}

// AsFailure extracts a Failure from err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// KindOf returns the failure kind of err, or KindUnknown when err is not a Failure.
func KindOf(err error) FailureKind {
	if f, ok := AsFailure(err); ok {
		return f.Kind
	}
	return KindUnknown
}
