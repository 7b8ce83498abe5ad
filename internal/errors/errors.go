package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type for Engram.
// It carries a stable code, a human-readable message, and a structured
// context map sufficient to diagnose a failure without reading source.
type Error struct {
	// Code is the stable error code (e.g., "ERR_301_REMOTE_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Remote, Persistence, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with Error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error.
// The error's message becomes the Error message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// RemoteBackendError creates a remote vector backend error.
// Remote backend errors are retryable.
func RemoteBackendError(message string, cause error) *Error {
	return New(ErrCodeRemoteUnavailable, message, cause)
}

// PersistenceError creates a persistent store error.
// Persistence errors are retryable.
func PersistenceError(message string, cause error) *Error {
	return New(ErrCodeStoreQuery, message, cause)
}

// ResourceError creates a resource access error (missing file, permission
// denied, bad path). Not retryable.
func ResourceError(message string, cause error) *Error {
	return New(ErrCodeFileNotFound, message, cause)
}

// ProtocolError creates a malformed-input error. Not retryable.
func ProtocolError(message string, cause error) *Error {
	return New(ErrCodeMalformedEntry, message, cause)
}

// IntegrationError creates an absent-external-tool error. Not retryable.
func IntegrationError(message string, cause error) *Error {
	return New(ErrCodeToolMissing, message, cause)
}

// ConfigError creates a configuration-related error. Not retryable.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error. Not retryable.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error chain contains an Error with Retryable set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from an Error.
// Returns empty string if the chain contains no Error.
func GetCode(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetCategory extracts the category from an Error.
// Returns empty string if the chain contains no Error.
func GetCategory(err error) Category {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Category
	}
	return ""
}
