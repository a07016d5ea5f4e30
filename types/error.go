package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across imageflow.
type ErrorCode string

// Dispatch error codes
const (
	ErrNotConfigured ErrorCode = "NOT_CONFIGURED"
	ErrNotAvailable  ErrorCode = "NOT_AVAILABLE"
)

// Template and request error codes
const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
)

// Backend error codes
const (
	ErrUpstreamRejected ErrorCode = "UPSTREAM_REJECTED"
	ErrNodeError        ErrorCode = "NODE_ERROR"
	ErrTimeout          ErrorCode = "TIMEOUT"
	ErrNetwork          ErrorCode = "NETWORK_ERROR"
)

// ErrPersistenceWarning marks a non-fatal failure to keep a local copy of a
// generated image. It is reported as a warning, never returned as a failure.
const ErrPersistenceWarning ErrorCode = "PERSISTENCE_WARNING"

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Category   string    `json:"category,omitempty"`
	Hint       string    `json:"hint,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the upstream HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// WithEndpoint records the backend endpoint that produced the error.
func (e *Error) WithEndpoint(endpoint string) *Error {
	e.Endpoint = endpoint
	return e
}

// WithGuidance attaches a user-facing category and remediation hint.
func (e *Error) WithGuidance(category, hint string) *Error {
	e.Category = category
	e.Hint = hint
	return e
}

// AsError extracts an *Error from the chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
