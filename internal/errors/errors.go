// Package errors provides a lightweight structured error type (PromoterError)
// for category-based classification and retry semantics across the build
// pipeline and CLI.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a promoter error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// External system integration errors
	CategoryStore   ErrorCategory = "store"
	CategoryBuilder ErrorCategory = "builder"
	CategoryNotify  ErrorCategory = "notify"

	// Runtime and infrastructure errors
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// PromoterError is a structured error with category, retryability, and context
type PromoterError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for PromoterError
type ContextFields map[string]any

// Error implements the error interface
func (e *PromoterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *PromoterError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *PromoterError) WithContext(key string, value any) *PromoterError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new PromoterError
func New(category ErrorCategory, severity ErrorSeverity, message string) *PromoterError {
	return &PromoterError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new PromoterError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *PromoterError {
	return &PromoterError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// WrapRetryable creates a new retryable PromoterError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *PromoterError {
	return &PromoterError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if pe, ok := err.(*PromoterError); ok {
		return pe.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if pe, ok := err.(*PromoterError); ok {
		return pe.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a PromoterError
func GetCategory(err error) ErrorCategory {
	if pe, ok := err.(*PromoterError); ok {
		return pe.Category
	}
	return CategoryInternal
}
