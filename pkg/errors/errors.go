// Package errors provides structured error handling for Meridian.
//
// Every failure that crosses the connector contract boundary is expressed as
// an *Error carrying one of a closed set of ErrorType values. Connectors
// classify and return; they never retry. Callers decide what to do with the
// classified kind and the optional retry hint.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeInvalidCredentials indicates a credential bundle missing required
	// fields or rejected by the authentication probe at initialize time.
	ErrTypeInvalidCredentials ErrorType = "invalid_credentials"
	// ErrTypeAuthFailed indicates the provider rejected a previously accepted
	// credential. The owning instance transitions to the expired auth state.
	ErrTypeAuthFailed ErrorType = "auth_failed"
	// ErrTypeRateLimited indicates provider-side quota exhaustion. It may
	// carry a retry-after hint in seconds.
	ErrTypeRateLimited ErrorType = "rate_limited"
	// ErrTypeUnsupportedOperation indicates a capability the platform does not
	// offer. These errors never reach the network.
	ErrTypeUnsupportedOperation ErrorType = "unsupported_operation"
	// ErrTypeInvalidConnectorReference indicates an unknown instance id or
	// platform name at the dispatch layer.
	ErrTypeInvalidConnectorReference ErrorType = "invalid_connector_reference"
	// ErrTypeValidation indicates caller-supplied content that fails the
	// platform's envelope rules before any network call is made.
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeGenericAPI is any other provider failure. The provider's raw
	// message is carried for diagnostics only, never for control flow.
	ErrTypeGenericAPI ErrorType = "generic_api_error"
)

// Error represents a structured error with context
type Error struct {
	Type       ErrorType
	Message    string
	Cause      error
	Details    map[string]interface{}
	RetryAfter int // seconds; only meaningful for rate_limited
	Stack      []StackFrame
}

// StackFrame represents a single frame in the call stack
type StackFrame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRetryAfter records a provider-supplied retry hint in seconds
func (e *Error) WithRetryAfter(seconds int) *Error {
	e.RetryAfter = seconds
	return e
}

// New creates a new error with the given type and message
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context. Returns nil if the
// input error is nil. If the error is already a structured Error, its stack
// trace and retry hint are preserved.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return &Error{
			Type:       errType,
			Message:    message,
			Cause:      err,
			RetryAfter: existing.RetryAfter,
			Stack:      existing.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// Unsupported builds the explanatory unsupported_operation error the contract
// requires: it names the missing capability and, when one exists, the
// recommended alternative.
func Unsupported(platform, operation, alternative string) *Error {
	msg := fmt.Sprintf("%s does not support %s", platform, operation)
	if alternative != "" {
		msg += "; " + alternative
	}
	return &Error{
		Type:    ErrTypeUnsupportedOperation,
		Message: msg,
		Stack:   captureStack(2),
	}
}

// IsType checks if the error is of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// AsError extracts the structured error from an error chain. Errors that are
// not structured are wrapped as generic_api_error so the dispatch layer never
// leaks an unclassified failure.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Type:    ErrTypeGenericAPI,
		Message: err.Error(),
		Cause:   err,
	}
}

// IsRetryable returns true if the error is retryable based on its type.
// Only rate limits are retryable; retrying is always the caller's decision.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == ErrTypeRateLimited
}

// captureStack captures the current call stack up to maxFrames deep
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
