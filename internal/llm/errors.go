package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var (
	// ErrDisabled is returned when a backend has no credentials configured.
	ErrDisabled = errors.New("llm backend disabled")
	// ErrMalformedResponse marks a response whose content is not a JSON object.
	ErrMalformedResponse = errors.New("malformed llm response")
)

// StatusError reports a non-200 HTTP response from a provider.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm api status %d: %s", e.StatusCode, e.Body)
}

// FailureClass buckets backend errors by how they should be retried.
type FailureClass int

const (
	FailureNone FailureClass = iota
	// FailureRateLimited is a 429 from the provider.
	FailureRateLimited
	// FailureTransient covers timeouts, network errors and 5xx responses.
	FailureTransient
	// FailureRequest is a non-retryable 4xx; the request itself is wrong.
	FailureRequest
	// FailureMalformed means the provider answered but not with valid JSON.
	FailureMalformed
	// FailureCanceled means the caller abandoned the request.
	FailureCanceled
)

func (c FailureClass) String() string {
	switch c {
	case FailureNone:
		return "none"
	case FailureRateLimited:
		return "rate_limited"
	case FailureTransient:
		return "transient"
	case FailureRequest:
		return "request"
	case FailureMalformed:
		return "malformed"
	case FailureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Classify maps an error returned by a Backend onto a FailureClass.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureNone
	}
	if errors.Is(err, context.Canceled) {
		return FailureCanceled
	}
	if errors.Is(err, ErrMalformedResponse) {
		return FailureMalformed
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return FailureRateLimited
		case statusErr.StatusCode == http.StatusRequestTimeout || statusErr.StatusCode >= 500:
			return FailureTransient
		default:
			return FailureRequest
		}
	}
	if errors.Is(err, ErrDisabled) || errors.Is(err, ErrUnknownDialect) {
		return FailureRequest
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureTransient
	}
	return FailureTransient
}
