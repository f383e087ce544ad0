package grid

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to callers. Transport adapters map them onto their
// own status vocabulary.
const (
	// CodeMalformedRequest rejects a request carrying zero capability
	// alternatives. Never retried.
	CodeMalformedRequest = "malformed_request"
	// CodeNoMatchingNode means no node currently supports any alternative.
	CodeNoMatchingNode = "no_matching_node"
	// CodeNoSlotAvailable means a matching node exists but had no free slot.
	// The only retryable kind.
	CodeNoSlotAvailable = "no_slot_available"
	// CodeNodeRejectedSession means the owning node refused or failed the
	// session-creation call for a reserved slot.
	CodeNodeRejectedSession = "node_rejected_session"
	// CodeRequestTimedOut means the request's deadline passed before a slot
	// could be found.
	CodeRequestTimedOut = "request_timed_out"
	// CodeQueueCleared means an administrative flush removed the request.
	CodeQueueCleared = "queue_cleared"
	// CodeInconsistentState means a reserved slot's owning node vanished
	// from the node table. Indicates a bug and is logged loudly.
	CodeInconsistentState = "inconsistent_state"
)

// Failure captures transport-neutral error details for a request that could
// not be served.
type Failure struct {
	Code       string
	Detail     string
	HTTPStatus int // optional hint for HTTP adapters
	Cause      error
}

func (f Failure) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("%s: %s", f.Code, f.Detail)
	}
	return f.Code
}

// Unwrap exposes the originating error, when one exists.
func (f Failure) Unwrap() error {
	return f.Cause
}

// NewFailure builds a Failure with a sensible HTTP hint for the code.
func NewFailure(code, detail string) Failure {
	return Failure{Code: code, Detail: detail, HTTPStatus: httpStatusFor(code)}
}

// WrapFailure preserves cause while normalizing to a known code.
func WrapFailure(code, detail string, cause error) Failure {
	return Failure{Code: code, Detail: detail, HTTPStatus: httpStatusFor(code), Cause: cause}
}

func httpStatusFor(code string) int {
	switch code {
	case CodeMalformedRequest:
		return http.StatusBadRequest
	case CodeRequestTimedOut:
		return http.StatusGatewayTimeout
	case CodeInconsistentState:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RetryError marks a failure as retryable: the request should go back to the
// front of the queue and be attempted again later. It wraps the last
// concrete failure observed during the attempt.
type RetryError struct {
	Cause error
}

func (r RetryError) Error() string {
	if r.Cause != nil {
		return "will retry: " + r.Cause.Error()
	}
	return "will retry: no slot available"
}

// Unwrap exposes the wrapped concrete failure.
func (r RetryError) Unwrap() error {
	return r.Cause
}

// IsRetryable reports whether err signals "try again later".
func IsRetryable(err error) bool {
	var retry RetryError
	return errors.As(err, &retry)
}

// FailureCode extracts the failure code from err, or "" when err carries no
// Failure in its chain.
func FailureCode(err error) string {
	var failure Failure
	if errors.As(err, &failure) {
		return failure.Code
	}
	return ""
}
