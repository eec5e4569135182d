package remote

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/propops/internal/core/domain"
)

// maxErrorBody bounds how much of an error response is kept as the message.
const maxErrorBody = 4 << 10

// Classify maps an HTTP status to an error kind.
func Classify(status int) domain.ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return domain.KindAuthRequired
	case status == http.StatusTooManyRequests:
		return domain.KindRateLimited
	case status == http.StatusBadRequest,
		status == http.StatusConflict,
		status == http.StatusUnprocessableEntity:
		return domain.KindValidation
	case status >= 500:
		return domain.KindTransientNetwork
	default:
		return domain.KindUnknown
	}
}

// StatusError builds the RemoteError for a non-2xx response. The body is
// read (bounded) for the message but not closed.
func StatusError(op string, resp *http.Response, now time.Time) *domain.RemoteError {
	kind := Classify(resp.StatusCode)

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	rerr := &domain.RemoteError{
		Kind:       kind,
		Op:         op,
		StatusCode: resp.StatusCode,
		Err:        errors.New(msg),
	}
	if kind == domain.KindRateLimited {
		rerr.RetryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"), now)
	}
	return rerr
}

// TransportError wraps a failure to get any response at all.
// Context errors stay reachable through errors.Is.
func TransportError(op string, err error) *domain.RemoteError {
	return &domain.RemoteError{
		Kind: domain.KindTransientNetwork,
		Op:   op,
		Err:  err,
	}
}

// ParseRetryAfter reads a Retry-After header given in delay-seconds or as
// an HTTP date. Missing, malformed or past values yield zero.
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

// decodeError marks a 2xx response whose body could not be used.
func decodeError(op string, err error) *domain.RemoteError {
	return &domain.RemoteError{
		Kind: domain.KindUnknown,
		Op:   op,
		Err:  fmt.Errorf("decoding response: %w", err),
	}
}
