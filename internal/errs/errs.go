// Package errs holds the error taxonomy shared by the authority-facing
// components. Callers match with errors.Is / errors.As.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnauthorized means the tenant has no usable credential and must
	// re-authorize against the authority.
	ErrUnauthorized = errors.New("tax authority authorization required")

	// ErrInvalidState is returned for an authorization callback whose state
	// is unknown, expired or already consumed.
	ErrInvalidState = errors.New("invalid or expired authorization state")

	// ErrOversizeDocument is returned when a generated document exceeds the
	// authority's upload ceiling.
	ErrOversizeDocument = errors.New("document exceeds the authority size limit")

	ErrNotFound = errors.New("not found")

	// ErrInvalidInput marks caller mistakes such as a malformed period or
	// tax id.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotRetryable is returned when retrying a submission that is not
	// in the error or rejected state, or when submitting a period whose
	// declaration is in flight or accepted.
	ErrNotRetryable = errors.New("submission is not in a retryable state")

	// ErrStale is returned by conditional updates when the stored record
	// moved on since it was read.
	ErrStale = errors.New("record changed since it was read")
)

// AuthorityRejectedError carries the authority's own messages verbatim.
type AuthorityRejectedError struct {
	Messages []string
}

func (e *AuthorityRejectedError) Error() string {
	if len(e.Messages) == 0 {
		return "rejected by tax authority"
	}
	return "rejected by tax authority: " + strings.Join(e.Messages, "; ")
}

// RateLimitedError tells the caller when the operation may be attempted
// again.
type RateLimitedError struct {
	Integration string
	Operation   string
	RetryAfter  time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited on %s/%s, retry after %dms", e.Integration, e.Operation, e.RetryAfter.Milliseconds())
}

// TransportError wraps network failures, timeouts and unexpected HTTP
// responses from the authority.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: authority responded %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationFailedError is returned when a document has blocking
// validation errors and cannot be submitted.
type ValidationFailedError struct {
	Codes []string
}

func (e *ValidationFailedError) Error() string {
	return "document has blocking validation errors: " + strings.Join(e.Codes, ", ")
}

// RetryAfter reports the retry delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
