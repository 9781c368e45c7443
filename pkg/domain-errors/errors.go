// Package dErrors provides coded domain errors. Codes drive both retry
// policy in the processor and HTTP status mapping at the transport layer,
// so every error crossing a package boundary should carry one.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers that must decide what to do next.
type Code string

const (
	// CodeInvalidInput marks bad input rejected at a trust boundary.
	// Never retried.
	CodeInvalidInput Code = "invalid_input"

	// CodeUnavailable marks a dependency (queue, store, inference endpoint)
	// that is temporarily unreachable. Retried with backoff.
	CodeUnavailable Code = "unavailable"

	// CodeNotFound marks a lookup miss.
	CodeNotFound Code = "not_found"

	// CodeConflict marks a write that lost to an existing row.
	CodeConflict Code = "conflict"

	// CodeInternal marks a permanent failure. After retry exhaustion the
	// processor converts transient errors into this code.
	CodeInternal Code = "internal"
)

// Error is a coded domain error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(cause error, code Code, message string) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: cause}
}

// HasCode reports whether err (or anything it wraps) carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// uncoded errors so unknown failures are treated as permanent.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Transient reports whether err should be retried with backoff.
func Transient(err error) bool {
	return HasCode(err, CodeUnavailable)
}

// ToHTTPStatus maps a code to the HTTP status the transport layer returns.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
