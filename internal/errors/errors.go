// Package errors provides structured error types for the dissolve service.
// All errors include a category, code, message, and retryable flag for
// consistent error handling across components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by system component.
type ErrorCategory string

const (
	ErrCategoryValidation  ErrorCategory = "VALIDATION"
	ErrCategoryGrouping    ErrorCategory = "GROUPING"
	ErrCategoryAggregation ErrorCategory = "AGGREGATION"
	ErrCategoryGeometry    ErrorCategory = "GEOMETRY"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryCodec       ErrorCategory = "CODEC"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeConflictingKeys    = "CONFLICTING_KEYS"
	CodeUnknownColumn      = "UNKNOWN_COLUMN"
	CodeUnknownLevel       = "UNKNOWN_LEVEL"
	CodeUnsupportedOption  = "UNSUPPORTED_OPTION"
	CodeCapabilityMismatch = "CAPABILITY_MISMATCH"
	CodeInvalidTable       = "INVALID_TABLE"

	// Grouping codes
	CodeKeyResolution = "KEY_RESOLUTION"

	// Aggregation codes
	CodeReducerFailed = "REDUCER_FAILED"
	CodeTypeMismatch  = "TYPE_MISMATCH"

	// Geometry codes
	CodeUnionFailed = "UNION_FAILED"
	CodeInvalidWKT  = "INVALID_WKT"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Codec codes
	CodeDecodeFailed = "DECODE_FAILED"
	CodeEncodeFailed = "ENCODE_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
	CodeCanceled   = "CANCELED"
)

// DissolveError is the structured error type used throughout the system.
type DissolveError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *DissolveError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *DissolveError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *DissolveError) Is(target error) bool {
	var t *DissolveError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new DissolveError.
func New(category ErrorCategory, code, message string) *DissolveError {
	return &DissolveError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Newf creates a new DissolveError with a formatted message.
func Newf(category ErrorCategory, code, format string, args ...any) *DissolveError {
	return New(category, code, fmt.Sprintf(format, args...))
}

// Wrap creates a new DissolveError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *DissolveError {
	return &DissolveError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DissolveError) WithDetails(details map[string]interface{}) *DissolveError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var de *DissolveError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a DissolveError.
func GetCategory(err error) ErrorCategory {
	var de *DissolveError
	if errors.As(err, &de) {
		return de.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a DissolveError.
func GetCode(err error) string {
	var de *DissolveError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsClientError reports whether the error was caused by the request rather
// than by the service: bad options, unknown columns or undecodable input.
func IsClientError(err error) bool {
	switch GetCategory(err) {
	case ErrCategoryValidation, ErrCategoryCodec:
		return true
	}
	return false
}

// IsDataError reports whether the error came from processing well-formed
// input: a reducer or union that failed on the data itself.
func IsDataError(err error) bool {
	switch GetCategory(err) {
	case ErrCategoryAggregation, ErrCategoryGeometry, ErrCategoryGrouping:
		return true
	}
	return false
}

func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *DissolveError {
	return New(ErrCategoryValidation, code, message)
}

func NewAggregationError(code, message string, cause error) *DissolveError {
	return Wrap(ErrCategoryAggregation, code, message, cause)
}

func NewGeometryError(code, message string, cause error) *DissolveError {
	return Wrap(ErrCategoryGeometry, code, message, cause)
}

func NewStorageError(code, message string, cause error) *DissolveError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewCodecError(code, message string, cause error) *DissolveError {
	return Wrap(ErrCategoryCodec, code, message, cause)
}

func NewInternalError(message string, cause error) *DissolveError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
