package analysis

import (
	"fmt"

	"github.com/Akhil-Lokesh/termsandconditions-sub001/internal/llm"
)

// InputValidationError rejects a document before any backend call.
type InputValidationError struct {
	Reason string
}

func (e *InputValidationError) Error() string {
	return "invalid document: " + e.Reason
}

// TransientBackendError is a retryable backend failure (network, timeout,
// rate limiting, 5xx).
type TransientBackendError struct {
	Stage string
	Class llm.FailureClass
	Err   error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("%s: %s backend failure: %v", e.Stage, e.Class, e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

// MalformedResponseError is a response that failed JSON or schema validation.
type MalformedResponseError struct {
	Stage string
	Err   error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Stage, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// StageUnavailableError means a stage produced no result after its retry
// budget. The orchestrator returns it to callers only when both stages fail.
type StageUnavailableError struct {
	Stage    string
	Attempts int
	Err      error
}

func (e *StageUnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageUnavailableError) Unwrap() error { return e.Err }

// CacheError wraps a cache backend failure. It is logged and absorbed.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// classifyFailure wraps a backend error in the taxonomy type for its class.
func classifyFailure(stage string, err error) error {
	switch class := llm.Classify(err); class {
	case llm.FailureMalformed:
		return &MalformedResponseError{Stage: stage, Err: err}
	case llm.FailureRateLimited, llm.FailureTransient:
		return &TransientBackendError{Stage: stage, Class: class, Err: err}
	default:
		return fmt.Errorf("%s: %s: %w", stage, class, err)
	}
}
