package jobs

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a job failure for the retry decision.
type ErrorKind string

// Failure classifications. Timeouts, rate limits, and unavailability are
// transient; validation, auth, and not-found failures are permanent.
const (
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindUnavailable ErrorKind = "unavailable"
	ErrorKindInvalidItem ErrorKind = "invalid_item"
	ErrorKindAuth        ErrorKind = "auth"
	ErrorKindNotFound    ErrorKind = "not_found"
	ErrorKindInternal    ErrorKind = "internal"
)

// Error is the failure half of the job envelope. Handlers return it to
// tell the core whether a failure is worth retrying.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind

	// Message is a human-readable description recorded on the item.
	Message string

	// Retryable marks the failure as transient.
	Retryable bool

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewRetryable builds a transient job error.
func NewRetryable(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: true, Err: err}
}

// NewPermanent builds a non-retryable job error.
func NewPermanent(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: false, Err: err}
}

// IsRetryable reports whether the error should be retried. Classified
// errors carry their own verdict. Deadline expiry is a timeout and
// retryable. Unclassified errors default to retryable: transient service
// trouble is the common case for failures nobody thought to classify.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Retryable
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return true
}

// Classify returns the error's kind, or ErrorKindInternal for
// unclassified errors.
func Classify(err error) ErrorKind {
	var jobErr *Error
	if errors.As(err, &jobErr) {
		return jobErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	return ErrorKindInternal
}
