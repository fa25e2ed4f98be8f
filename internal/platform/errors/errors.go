// Package errors provides the failure taxonomy for strata.
// It extends the standard errors package with additional context and wrapping capabilities.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the orchestrator failure taxonomy. The scheduler
// keys its retry decision off these: retryable kinds are retried with
// exponential backoff, non-retryable kinds fail the task immediately and
// block dependents without consuming retry budget.
var (
	// ErrSourceUnavailable indicates the upstream system is unreachable. Retryable.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSchemaMismatch indicates the record shape violates the expected
	// contract. Non-retryable; requires operator intervention.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrStorageWrite indicates a transient object storage fault. Retryable.
	ErrStorageWrite = errors.New("storage write error")

	// ErrLoadRejected indicates the warehouse rejected the data (malformed
	// rows, constraint violation). Non-retryable.
	ErrLoadRejected = errors.New("load rejected")

	// ErrWarehouseUnavailable indicates the warehouse is unreachable. Retryable.
	ErrWarehouseUnavailable = errors.New("warehouse unavailable")

	// ErrCancelled indicates the task was aborted by the operator or by
	// shutdown. Terminal, distinct from failed; does not count against
	// retry history.
	ErrCancelled = errors.New("cancelled")
)

// Retryable reports whether the scheduler may retry a task that failed
// with err. Context deadline errors map to the retryable bucket: an
// exceeded extractor/load deadline surfaces as the corresponding
// retryable failure kind, not a hang.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case Is(err, ErrCancelled), Is(err, context.Canceled):
		return false
	case Is(err, ErrSourceUnavailable), Is(err, ErrStorageWrite), Is(err, ErrWarehouseUnavailable):
		return true
	case Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

// Kind returns the taxonomy name of err for error records and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrSourceUnavailable):
		return "SourceUnavailable"
	case Is(err, ErrSchemaMismatch):
		return "SchemaMismatch"
	case Is(err, ErrStorageWrite):
		return "StorageWriteError"
	case Is(err, ErrLoadRejected):
		return "LoadRejected"
	case Is(err, ErrWarehouseUnavailable):
		return "WarehouseUnavailable"
	case Is(err, ErrCancelled), Is(err, context.Canceled):
		return "Cancelled"
	default:
		return "Internal"
	}
}

// wrappedError wraps an error with additional context
type wrappedError struct {
	msg   string
	cause error
}

// Error implements the error interface
func (e *wrappedError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

// Unwrap returns the underlying error
func (e *wrappedError) Unwrap() error {
	return e.cause
}

// Wrap wraps an error with additional context message.
// If err is nil, Wrap returns nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg:   msg,
		cause: err,
	}
}

// Wrapf wraps an error with a formatted context message.
// If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg:   fmt.Sprintf(format, args...),
		cause: err,
	}
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is from the standard library.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type.
// This is a convenience wrapper around errors.As from the standard library.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err.
// This is a convenience wrapper around errors.Unwrap from the standard library.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// New creates a new error with the given message.
// This is a convenience wrapper around errors.New from the standard library.
func New(msg string) error {
	return errors.New(msg)
}

// Errorf formats according to a format specifier and returns the string as a value that satisfies error.
// This is a convenience wrapper around fmt.Errorf from the standard library.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

// Join returns an error that wraps the given errors.
// Any nil error values are discarded.
// This is a convenience wrapper around errors.Join from the standard library.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
