// Package apperr provides the error taxonomy shared by the desk flows, the
// ledger backends and the HTTP surface.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeUnknown Code = "UNKNOWN"

	// Local guard failures: fix the input and retry.
	CodeValidation Code = "VALIDATION"

	// Ledger outcomes
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"

	// Camera availability
	CodePermission Code = "PERMISSION"
	CodeDevice     Code = "DEVICE"

	// Transport
	CodeNetwork Code = "NETWORK"

	// A completion arrived for a session state that no longer exists.
	CodeStale Code = "STALE"
)

// Sentinels for errors.Is matching by code.
var (
	ErrValidation = &Error{Code: CodeValidation}
	ErrNotFound   = &Error{Code: CodeNotFound}
	ErrConflict   = &Error{Code: CodeConflict}
	ErrPermission = &Error{Code: CodePermission}
	ErrDevice     = &Error{Code: CodeDevice}
	ErrNetwork    = &Error{Code: CodeNetwork}
	ErrStale      = &Error{Code: CodeStale}
)

// Error is the domain error type.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Operator-facing message
	Cause   error  // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Validation is shorthand for a local guard failure.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// CodeOf extracts the code of the first *Error in the chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// Message returns the operator-facing message of err, or fallback when err
// carries no domain message.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return fallback
}

// Retryable reports whether the operator can retry the same action unchanged.
func (c Code) Retryable() bool {
	switch c {
	case CodeNetwork, CodePermission, CodeDevice:
		return true
	default:
		return false
	}
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodePermission:
		return http.StatusForbidden
	case CodeNetwork, CodeDevice:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromHTTPStatus maps a response status back to a domain code.
func FromHTTPStatus(status int) Code {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return CodeValidation
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict:
		return CodeConflict
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return CodePermission
	case status >= 500, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return CodeNetwork
	default:
		return CodeUnknown
	}
}
