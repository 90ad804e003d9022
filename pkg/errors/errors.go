// Package errors defines the error taxonomy shared by the matching engine,
// its stores and its outer surfaces (CLI and HTTP).
//
// Every failure that crosses a component boundary is a *ReconcilerError
// carrying a category, a machine-readable code, a human message, an optional
// suggestion and a captured stack trace. Callers inspect the category with
// the Is* predicates instead of string matching.
//
// Not every "no match" outcome is an error: an infeasible allocation is a
// normal result and is reported through the allocator's return value.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryValidation    ErrorCategory = "validation"
	CategoryStore         ErrorCategory = "store"
	CategoryCancelled     ErrorCategory = "cancelled"
	CategoryInput         ErrorCategory = "input"
	CategoryParse         ErrorCategory = "parse"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	CodeConfigUnavailable ErrorCode = "config_unavailable"
	CodeInvalidConfig     ErrorCode = "invalid_config"

	CodeValidationFailed ErrorCode = "validation_failed"

	CodeStoreUnavailable ErrorCode = "store_unavailable"
	CodeNotFound         ErrorCode = "not_found"

	CodeCancelled ErrorCode = "cancelled"

	CodeInvalidInput ErrorCode = "invalid_input"
	CodeMissingField ErrorCode = "missing_field"

	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"

	CodeUnexpectedError ErrorCode = "unexpected_error"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate process exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryInput, CategoryParse:
		return 2
	case CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryStore:
		return 5
	case CategoryCancelled:
		return 130
	default:
		return 1
	}
}

// HTTPStatus maps the error category onto a response status code.
func (e *ReconcilerError) HTTPStatus() int {
	switch e.Category {
	case CategoryInput, CategoryParse:
		return http.StatusBadRequest
	case CategoryValidation:
		return http.StatusConflict
	case CategoryStore:
		if e.Code == CodeNotFound {
			return http.StatusNotFound
		}
		return http.StatusServiceUnavailable
	case CategoryCancelled:
		// nginx's "client closed request"
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// ConfigUnavailable reports that a configuration scope could not be read.
// The resolver logs it and falls back to defaults; it is never returned to callers.
func ConfigUnavailable(scope string, err error) *ReconcilerError {
	message := fmt.Sprintf("tolerance configuration unavailable for scope %s", scope)
	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, CodeConfigUnavailable, message)
	} else {
		result = New(CategoryConfiguration, CodeConfigUnavailable, message)
	}
	return result.
		WithSuggestion("hard defaults were applied; check the configuration store").
		WithContext("scope", scope)
}

// InvalidConfig reports a setting outside its accepted range.
func InvalidConfig(setting string, value interface{}, err error) *ReconcilerError {
	message := fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryConfiguration, CodeInvalidConfig, message)
	} else {
		result = New(CategoryConfiguration, CodeInvalidConfig, message)
	}
	return result.
		WithSuggestion("check the configuration documentation for valid values").
		WithContext("setting", setting).
		WithContext("value", value)
}

// ValidationFailed reports that a proposed allocation was refused.
// kinds lists the distinct violation kinds, in the order they were reported.
func ValidationFailed(targetID string, violations int, kinds []string) *ReconcilerError {
	message := fmt.Sprintf("allocation for target %s rejected with %d violation(s): %s",
		targetID, violations, strings.Join(kinds, ", "))
	return New(CategoryValidation, CodeValidationFailed, message).
		WithSuggestion("reduce the allocated amounts or quantities and confirm again").
		WithContext("target_id", targetID).
		WithContext("violations", violations)
}

// StoreUnavailable wraps an infrastructure failure of a record, config or link store.
// Context cancellation is reported as Cancelled instead so callers can tell the two apart.
func StoreUnavailable(operation string, err error) *ReconcilerError {
	if isContextErr(err) {
		return Cancelled(operation, err)
	}
	message := fmt.Sprintf("store unavailable during %s", operation)
	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryStore, CodeStoreUnavailable, message)
	} else {
		result = New(CategoryStore, CodeStoreUnavailable, message)
	}
	return result.
		WithSuggestion("retry the request once the store is reachable").
		WithContext("operation", operation)
}

// NotFound reports a missing record in a store.
func NotFound(kind, id string) *ReconcilerError {
	return New(CategoryStore, CodeNotFound, fmt.Sprintf("%s %s not found", kind, id)).
		WithContext("kind", kind).
		WithContext("id", id)
}

// Cancelled reports that the caller's context was cancelled or its deadline passed.
func Cancelled(operation string, err error) *ReconcilerError {
	message := fmt.Sprintf("%s cancelled", operation)
	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryCancelled, CodeCancelled, message)
	} else {
		result = New(CategoryCancelled, CodeCancelled, message)
	}
	return result.WithContext("operation", operation)
}

// InvalidInput reports a malformed caller request.
func InvalidInput(field string, value interface{}) *ReconcilerError {
	var message string
	code := CodeInvalidInput
	if value == nil || value == "" {
		code = CodeMissingField
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
	} else {
		message = fmt.Sprintf("invalid value in field '%s': %v", field, value)
	}
	return New(CategoryInput, code, message).
		WithContext("field", field).
		WithContext("value", value)
}

// ParseError reports a malformed record in an input file.
func ParseError(code ErrorCode, file string, line int, column string, err error) *ReconcilerError {
	var message string
	switch code {
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in %s", column, file)
	default:
		message = fmt.Sprintf("invalid value in %s at line %d, column '%s'", file, line, column)
	}

	var result *ReconcilerError
	if err != nil {
		result = Wrap(err, CategoryParse, code, message)
	} else {
		result = New(CategoryParse, code, message)
	}
	return result.
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column)
}

// InternalError creates an internal error
func InternalError(operation string, err error) *ReconcilerError {
	return Wrap(err, CategoryInternal, CodeUnexpectedError, fmt.Sprintf("unexpected error during %s", operation)).
		WithSuggestion("this is likely a bug - please report it with the error details")
}

func isContextErr(err error) bool {
	return err != nil && (stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded))
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}

	return Wrap(err, category, code, message)
}

func hasCategory(err error, category ErrorCategory) bool {
	if re, ok := AsReconcilerError(err); ok {
		return re.Category == category
	}
	return false
}

// IsCancelled reports whether err is a cancellation, either a ReconcilerError
// of that category or a bare context error.
func IsCancelled(err error) bool {
	return hasCategory(err, CategoryCancelled) || isContextErr(err)
}

// IsStoreUnavailable reports whether err is an infrastructure failure.
func IsStoreUnavailable(err error) bool {
	if re, ok := AsReconcilerError(err); ok {
		return re.Category == CategoryStore && re.Code == CodeStoreUnavailable
	}
	return false
}

// IsValidationFailed reports whether err is a refused allocation.
func IsValidationFailed(err error) bool {
	return hasCategory(err, CategoryValidation)
}

// IsInvalidInput reports whether err was caused by a malformed request.
func IsInvalidInput(err error) bool {
	return hasCategory(err, CategoryInput) || hasCategory(err, CategoryParse)
}
