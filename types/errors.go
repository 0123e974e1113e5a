package types

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable error code for dagrunner errors.
type ErrorCode string

// Graph construction error codes
const (
	CYCLE_DETECTED     ErrorCode = "CYCLE_DETECTED"
	MISSING_DEPENDENCY ErrorCode = "MISSING_DEPENDENCY"
	INVALID_GRAPH      ErrorCode = "INVALID_GRAPH"
	GRAPH_PARSE_FAILED ErrorCode = "GRAPH_PARSE_FAILED"
)

// Scheduler error codes
const (
	NODE_EXECUTION_FAILED ErrorCode = "NODE_EXECUTION_FAILED"
	INTERNAL_DEADLOCK     ErrorCode = "INTERNAL_DEADLOCK"
	RUN_CANCELLED         ErrorCode = "RUN_CANCELLED"
)

// Error is the structured error type shared across the dagrunner packages.
// It carries a namespaced code, a human-readable message and an optional
// cause, and participates in errors.Is/errors.As chains.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
// Format: "[CODE] message" or "[CODE] message: cause" if a cause exists.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As
// against wrapped errors.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the target by error code, so two Errors with the same Code
// compare equal under errors.Is regardless of message or cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError creates a new Error wrapping an existing cause.
// The cause is accessible via Unwrap for error chain inspection.
func WrapError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf extracts the ErrorCode from err, if err carries one anywhere in
// its chain. The second return reports whether a code was found.
func CodeOf(err error) (ErrorCode, bool) {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Code, true
	}
	return "", false
}
