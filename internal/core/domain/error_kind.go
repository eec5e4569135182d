package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrorKind classifies a failure at the remote-client boundary.
// Components decide retry behaviour from the kind alone.
type ErrorKind string

const (
	// KindTransientNetwork covers connectivity loss, timeouts and 5xx responses.
	KindTransientNetwork ErrorKind = "transient_network"

	// KindRateLimited means the remote asked us to slow down.
	// RemoteError.RetryAfter carries the server hint when present.
	KindRateLimited ErrorKind = "rate_limited"

	// KindAuthRequired means the credential was rejected.
	KindAuthRequired ErrorKind = "auth_required"

	// KindValidation means the request itself is invalid and must not be retried.
	KindValidation ErrorKind = "validation"

	// KindUnknown is anything the remote client could not classify.
	KindUnknown ErrorKind = "unknown"
)

// Retryable reports whether a component may retry an operation that failed
// with this kind within its own retry budget.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransientNetwork, KindRateLimited, KindUnknown:
		return true
	default:
		return false
	}
}

// String returns the kind identifier.
func (k ErrorKind) String() string {
	return string(k)
}

// ParseErrorKind converts a persisted identifier back to an ErrorKind.
// Unrecognised identifiers map to KindUnknown.
func ParseErrorKind(s string) ErrorKind {
	switch ErrorKind(s) {
	case KindTransientNetwork, KindRateLimited, KindAuthRequired, KindValidation:
		return ErrorKind(s)
	default:
		return KindUnknown
	}
}

// RemoteError is the structured error returned by driven adapters that talk
// to the remote data service or the booking provider.
type RemoteError struct {
	// Kind drives retry decisions.
	Kind ErrorKind

	// Op names the failed operation (e.g. "fetch profiles/42").
	Op string

	// StatusCode is the HTTP status when the failure came from a response.
	StatusCode int

	// RetryAfter is the server-supplied delay for KindRateLimited. Zero if absent.
	RetryAfter time.Duration

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrAuthRequired) match auth failures.
func (e *RemoteError) Is(target error) bool {
	return target == ErrAuthRequired && e.Kind == KindAuthRequired
}

// NewRemoteError builds a RemoteError of the given kind.
func NewRemoteError(kind ErrorKind, op string, err error) *RemoteError {
	return &RemoteError{Kind: kind, Op: op, Err: err}
}

// KindOf classifies err. Only structured information is used: a wrapped
// RemoteError, context errors and net.Error. Message text is never inspected.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Kind
	}
	if errors.Is(err, ErrAuthRequired) {
		return KindAuthRequired
	}
	if errors.Is(err, ErrInvalidInput) {
		return KindValidation
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransientNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransientNetwork
	}
	return KindUnknown
}

// RetryAfterOf returns the server retry hint carried by err, if any.
func RetryAfterOf(err error) (time.Duration, bool) {
	var remote *RemoteError
	if errors.As(err, &remote) && remote.RetryAfter > 0 {
		return remote.RetryAfter, true
	}
	return 0, false
}
