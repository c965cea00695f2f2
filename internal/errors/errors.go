package errors

import (
	"errors"
	"fmt"
)

// Error is the structured error type for citeseek.
// It carries a stable code so callers can branch on the failure class
// (validation, configuration, index build, dependency, corrupt index)
// without string matching.
type Error struct {
	// Code is the unique error code (e.g., "ERR_301_DEPENDENCY_UNAVAILABLE").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Index, Dependency, ...).
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
// This enables errors.Is() to work with *Error sentinels.
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

// Newf creates a new Error with a formatted message and no cause.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error.
// Returns nil when err is nil so call sites can wrap unconditionally.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Validation creates a caller-input validation error.
func Validation(message string) *Error {
	return New(ErrCodeInvalidInput, message, nil)
}

// Configuration creates a configuration error (invalid chunking or
// fusion parameters, bad config file).
func Configuration(message string) *Error {
	return New(ErrCodeConfigInvalid, message, nil)
}

// IndexBuild creates an index-build error (build attempted with no input).
func IndexBuild(message string) *Error {
	return New(ErrCodeIndexBuildEmpty, message, nil)
}

// DependencyUnavailable creates an error for an unreachable downstream
// service. These are retryable and trigger degradation paths.
func DependencyUnavailable(service string, cause error) *Error {
	e := New(ErrCodeDependencyUnavailable,
		fmt.Sprintf("%s unavailable", service), cause)
	return e.WithDetail("service", service)
}

// DependencyTimeout creates an error for a downstream call that
// exceeded its deadline. Treated as that dependency's failure.
func DependencyTimeout(service string, cause error) *Error {
	e := New(ErrCodeDependencyTimeout,
		fmt.Sprintf("%s timed out", service), cause)
	return e.WithDetail("service", service)
}

// CorruptIndex creates an error for a persisted index that failed to load.
// Callers demote this to absent-and-logged rather than raising it.
func CorruptIndex(collection string, cause error) *Error {
	e := New(ErrCodeCorruptIndex,
		fmt.Sprintf("persisted index for %q is corrupt", collection), cause)
	return e.WithDetail("collection", collection)
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return HasCategory(err, CategoryValidation)
}

// IsDependency reports whether err is a dependency failure (unavailable
// or timed out). These degrade queries instead of failing them.
func IsDependency(err error) bool {
	return HasCategory(err, CategoryDependency)
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetCode extracts the error code from an Error anywhere in the chain.
// Returns empty string if no *Error is present.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCategory reports whether any *Error in the chain has the category.
func HasCategory(err error, cat Category) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Category == cat
	}
	return false
}
