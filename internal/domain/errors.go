// Package domain provides the core types and canonical error taxonomy
// shared by the message-processing components.
package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes a failure so callers can branch on it without
// string matching.
type ErrorKind string

const (
	// KindDuplicate indicates an event was already seen within its
	// retention window. Not a real failure; a no-op signal.
	KindDuplicate ErrorKind = "duplicate"

	// KindCapacity indicates a retry ceiling or concurrency pool was
	// exhausted. Fail fast; the gateway does not retry these itself.
	KindCapacity ErrorKind = "capacity"

	// KindTimeout indicates an external call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindProvider indicates the external provider returned an error.
	// Counted against the caller's retry budget.
	KindProvider ErrorKind = "provider"

	// KindPersistence indicates a durable-store read or write failed.
	KindPersistence ErrorKind = "persistence"

	// KindCompensation indicates a saga rollback action failed. Logged
	// and aggregated; never blocks remaining compensations.
	KindCompensation ErrorKind = "compensation"

	// KindUnavailable indicates the backing cache or queue store could
	// not be reached at all.
	KindUnavailable ErrorKind = "unavailable"
)

// CoreError is the canonical error returned by the resilience core.
type CoreError struct {
	Kind    ErrorKind
	Op      string // operation that failed, e.g. "eventbus.emit"
	Message string
	Err     error // wrapped cause, may be nil
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Message, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Kind)
	}
}

// Unwrap returns the wrapped cause for errors.Is/As support.
func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewError constructs a CoreError.
func NewError(kind ErrorKind, op, message string, err error) *CoreError {
	return &CoreError{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the ErrorKind of err, or an empty kind if err is not a
// CoreError anywhere in its chain.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// IsDuplicate reports whether err is a duplicate-event signal.
func IsDuplicate(err error) bool { return IsKind(err, KindDuplicate) }

// IsCapacity reports whether err is a capacity rejection.
func IsCapacity(err error) bool { return IsKind(err, KindCapacity) }

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool { return IsKind(err, KindTimeout) }

// IsProviderFailure reports whether err is a provider-side failure.
func IsProviderFailure(err error) bool { return IsKind(err, KindProvider) }
