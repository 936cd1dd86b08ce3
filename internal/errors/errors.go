// Package errors provides the structured error type used by the drawabledb
// cache. Every storage failure surfaces as a CacheError carrying a category,
// a code, and a retryable flag, so callers can distinguish genuine storage
// corruption from benign races such as the case being closed underneath us.
//
// Contract violations (double-begin, write outside a transaction) are not
// errors; they panic, because they indicate a caller bug.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies errors by subsystem.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategorySchema     ErrorCategory = "SCHEMA"
	ErrCategoryGroups     ErrorCategory = "GROUPS"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeUnsupportedAttr  = "UNSUPPORTED_ATTRIBUTE"
	CodeInvalidBuildMode = "INVALID_BUILD_MODE"

	// Storage codes
	CodeOpenFailed    = "OPEN_FAILED"
	CodePrepareFailed = "PREPARE_FAILED"
	CodeWriteFailed   = "WRITE_FAILED"
	CodeQueryFailed   = "QUERY_FAILED"
	CodeCaseClosed    = "CASE_CLOSED"

	// Schema codes
	CodeUpgradeFailed = "UPGRADE_FAILED"
	CodeStaleSchema   = "STALE_SCHEMA"
	CodeVersionRead   = "VERSION_READ_FAILED"

	// Groups codes
	CodeGroupWriteFailed = "GROUP_WRITE_FAILED"
	CodeGroupQueryFailed = "GROUP_QUERY_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// CacheError is the structured error type used throughout the cache.
type CacheError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *CacheError) Is(target error) bool {
	var t *CacheError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new CacheError.
func New(category ErrorCategory, code, message string) *CacheError {
	return &CacheError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new CacheError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *CacheError {
	return &CacheError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a CacheError.
func GetCategory(err error) ErrorCategory {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
func GetCode(err error) string {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsCaseClosed reports whether the error stems from the shared case database
// being closed concurrently by the host application. Such failures are logged
// at a lower severity: they are a lifecycle race, not corruption.
func IsCaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if GetCode(err) == CodeCaseClosed {
		return true
	}
	// database/sql surfaces a closed pool as a plain error with no sentinel.
	return strings.Contains(err.Error(), "database is closed")
}

// isRetryable determines if an error code is retryable.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeWriteFailed:
		return true
	case category == ErrCategoryGroups && code == CodeGroupWriteFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *CacheError {
	return New(ErrCategoryValidation, code, message)
}

func NewStorageError(code, message string, cause error) *CacheError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewSchemaError(code, message string, cause error) *CacheError {
	return Wrap(ErrCategorySchema, code, message, cause)
}

func NewGroupsError(code, message string, cause error) *CacheError {
	return Wrap(ErrCategoryGroups, code, message, cause)
}

func NewInternalError(message string, cause error) *CacheError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
