package errors

import (
	"fmt"
)

// CoreError is the structured error type for ccengram. It provides rich
// context for error handling, logging, and user presentation, generalizing
// the taxonomy in spec to nine categories: Input, NotFound, Conflict,
// Storage, Embedding, RateLimited, Cancelled, Timeout, Internal.
type CoreError struct {
	// Code is the unique error code (e.g., "ERR_201_ROW_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
func (e *CoreError) Is(target error) bool {
	if t, ok := target.(*CoreError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error. Returns the error for
// method chaining.
func (e *CoreError) WithDetail(key, value string) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user. Returns the
// error for method chaining.
func (e *CoreError) WithSuggestion(suggestion string) *CoreError {
	e.Suggestion = suggestion
	return e
}

// New creates a new CoreError with the given code and message. Category,
// severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CoreError {
	return &CoreError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CoreError from an existing error. The error's message
// becomes the CoreError message.
func Wrap(code string, err error) *CoreError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InputError creates an Input-category error (malformed request, missing
// field, invalid filter).
func InputError(message string, cause error) *CoreError {
	return New(ErrCodeInvalidRequest, message, cause)
}

// NotFoundError creates a NotFound-category error.
func NotFoundError(message string, cause error) *CoreError {
	return New(ErrCodeRowNotFound, message, cause)
}

// ConflictError creates a Conflict-category error (duplicate content,
// raced promotion).
func ConflictError(message string, cause error) *CoreError {
	return New(ErrCodeDuplicateContent, message, cause)
}

// StorageError creates a Storage-category error.
func StorageError(message string, cause error) *CoreError {
	return New(ErrCodeStorageWrite, message, cause)
}

// EmbeddingError creates an Embedding-category error.
func EmbeddingError(message string, cause error) *CoreError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// RateLimitedError creates a RateLimited-category error.
func RateLimitedError(message string, cause error) *CoreError {
	return New(ErrCodeRateLimitWaitExceeded, message, cause)
}

// CancelledError creates a Cancelled-category error.
func CancelledError(message string, cause error) *CoreError {
	return New(ErrCodeCancelledByCaller, message, cause)
}

// TimeoutError creates a Timeout-category error.
func TimeoutError(message string, cause error) *CoreError {
	return New(ErrCodeProviderTimeout, message, cause)
}

// InternalError creates an Internal-category error.
func InternalError(message string, cause error) *CoreError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CoreError); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if ce, ok := err.(*CoreError); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CoreError. Returns empty string
// if not a CoreError.
func GetCode(err error) string {
	if ce, ok := err.(*CoreError); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from a CoreError. Returns empty string
// if not a CoreError.
func GetCategory(err error) Category {
	if ce, ok := err.(*CoreError); ok {
		return ce.Category
	}
	return ""
}
