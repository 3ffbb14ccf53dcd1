// Package apperr provides the typed error kinds shared across the
// agent lifecycle, messaging, and orchestration layers.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure independent of its message.
type Code string

const (
	CodeInvalidState     Code = "INVALID_STATE"
	CodeNotFound         Code = "NOT_FOUND"
	CodeTimeout          Code = "TIMEOUT"
	CodeExpired          Code = "EXPIRED"
	CodeNoAgentAvailable Code = "NO_AGENT_AVAILABLE"
	CodeAgentFailed      Code = "AGENT_FAILED"
	CodeCancelled        Code = "CANCELLED"
	CodeInternal         Code = "INTERNAL"
)

// Error is an application-specific error carrying a stable Code so
// callers can branch on failure kind with errors.As instead of string
// matching.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newErr(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvalidState reports an operation attempted in a forbidden FSM state.
func InvalidState(format string, args ...interface{}) *Error {
	return newErr(CodeInvalidState, format, args...)
}

// NotFound reports a missing agent, message, or task id.
func NotFound(resource, id string) *Error {
	return newErr(CodeNotFound, "%s %q not found", resource, id)
}

// Timeout reports a bounded wait that elapsed without success.
func Timeout(format string, args ...interface{}) *Error {
	return newErr(CodeTimeout, format, args...)
}

// Expired reports an attempt to send an already-expired message.
func Expired(format string, args ...interface{}) *Error {
	return newErr(CodeExpired, format, args...)
}

// NoAgentAvailable reports that no running agent of the required type
// could be found within the dispatch timeout.
func NoAgentAvailable(agentType string) *Error {
	return newErr(CodeNoAgentAvailable, "no running agent available for type %q", agentType)
}

// AgentFailed wraps a failure reason returned by an agent for a task.
func AgentFailed(reason string) *Error {
	return newErr(CodeAgentFailed, "%s", reason)
}

// Cancelled reports that an operation was cancelled via its token.
func Cancelled(format string, args ...interface{}) *Error {
	return newErr(CodeCancelled, format, args...)
}

// Internal wraps lock poisoning, closed channels, or other programmer
// errors that should never surface from a correct implementation.
func Internal(message string, err error) *Error {
	return &Error{Code: CodeInternal, Message: message, Err: err}
}

// Is reports whether err carries the given Code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code of err, or CodeInternal if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
