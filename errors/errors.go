// Package errors provides error handling for Crucible.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for user-facing reporting
//
// Usage:
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check taxonomy
//	if errors.Is(err, errors.ErrTimeout) {
//	    // retryable by caller policy
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
)

// Error inspection
var (
	Is     = crdb.Is
	IsAny  = crdb.IsAny
	As     = crdb.As
	Unwrap = crdb.Unwrap
)

// Sentinel errors forming the Crucible error taxonomy.
// Use these with errors.Is() for type-safe checking and wrap them with
// errors.Wrap() to add context while preserving the category.
var (
	// ErrValidation indicates a command was rejected before any container
	// call (empty argv, denylisted pattern, length ceiling). Never retried.
	ErrValidation = New("validation failed")

	// ErrNotRunning indicates the target container exists but is not live.
	ErrNotRunning = New("container not running")

	// ErrNotFound indicates the requested container or tool does not exist.
	ErrNotFound = New("not found")

	// ErrTimeout indicates an execution exceeded its deadline. Retryable by
	// caller policy.
	ErrTimeout = New("operation timed out")

	// ErrOutputLimit indicates accumulated command output exceeded the
	// configured cap. Not retried: the command needs narrower scope.
	ErrOutputLimit = New("output limit exceeded")

	// ErrStructuralDiscovery indicates container/category enumeration failed
	// and the whole discovery cycle is errored until the next interval.
	ErrStructuralDiscovery = New("discovery enumeration failed")

	// ErrPipelineStage indicates a stage execution failed inside a cascade.
	// Logged at the handler boundary; never crashes the dispatcher.
	ErrPipelineStage = New("pipeline stage failed")
)

// IsValidation checks if an error is or wraps ErrValidation.
func IsValidation(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsNotRunning checks if an error is or wraps ErrNotRunning.
func IsNotRunning(err error) bool {
	return err != nil && Is(err, ErrNotRunning)
}

// IsTimeout checks if an error is or wraps ErrTimeout.
func IsTimeout(err error) bool {
	return err != nil && Is(err, ErrTimeout)
}

// IsOutputLimit checks if an error is or wraps ErrOutputLimit.
func IsOutputLimit(err error) bool {
	return err != nil && Is(err, ErrOutputLimit)
}

// IsRetryable reports whether a failed execution may be re-attempted.
// Validation and absence errors are permanent; everything else (timeouts,
// stream teardown, runtime hiccups) is fair game for a retry policy.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsAny(err, ErrValidation, ErrNotFound, ErrNotRunning, ErrOutputLimit)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidationError creates a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}
