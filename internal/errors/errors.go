package errors

import (
	"fmt"
)

// Error is the structured error type for indexkeeper.
// It carries a stable code so callers can match failures with errors.Is
// regardless of how deeply the error was wrapped.
type Error struct {
	// Code is the unique error code (e.g., "ERR_301_LOCK_CONTENTION").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Coordination, ...).
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

// Sentinels for errors.Is matching. Never mutate these; build fresh
// errors with New or the helpers below.
var (
	ErrLockContention   = &Error{Code: ErrCodeLockContention}
	ErrBuildLockTimeout = &Error{Code: ErrCodeBuildLockTimeout}
	ErrUnknownType      = &Error{Code: ErrCodeUnknownType}
	ErrInvalidQuery     = &Error{Code: ErrCodeInvalidQuery}
	ErrInvalidMessage   = &Error{Code: ErrCodeInvalidMessage}
	ErrNotFound         = &Error{Code: ErrCodeNotFound}
	ErrClosed           = &Error{Code: ErrCodeIndexClosed}
	ErrBusUnavailable   = &Error{Code: ErrCodeBusUnavailable}
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
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
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *Error {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates an index-store error for the named index.
func StoreError(code, index, message string, cause error) *Error {
	return New(code, message, cause).WithDetail("index", index)
}

// LockContention reports that the writer lock of index is held elsewhere.
func LockContention(index string) *Error {
	return New(ErrCodeLockContention, "index writer lock is held", nil).WithDetail("index", index)
}

// UnknownType reports a content type missing from the registry.
func UnknownType(name string) *Error {
	return New(ErrCodeUnknownType, fmt.Sprintf("unknown content type %q", name), nil)
}

// NotFound reports a missing object.
func NotFound(what, key string) *Error {
	return New(ErrCodeNotFound, fmt.Sprintf("%s %q not found", what, key), nil)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *Error {
	return New(ErrCodeInvalidInput, message, cause)
}

// IsRetryable reports whether err (or anything it wraps) is a retryable Error.
func IsRetryable(err error) bool {
	var e *Error
	if As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetCode extracts the error code of the first Error in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Code
	}
	return ""
}
