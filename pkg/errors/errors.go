// Package errors provides a structured error system for the cache engine
// with error codes, categories, and context.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorCode represents a structured error code for cache operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Tier errors
	ErrCodeTierUnavailable   ErrorCode = "TIER_UNAVAILABLE"
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"

	// Capacity errors
	ErrCodeCapacityExceeded ErrorCode = "CAPACITY_EXCEEDED"
	ErrCodeMemoryPressure   ErrorCode = "MEMORY_PRESSURE"

	// Request errors
	ErrCodeValidationFailed  ErrorCode = "VALIDATION_FAILED"
	ErrCodeAdmissionRejected ErrorCode = "ADMISSION_REJECTED"

	// Operation errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"
	ErrCodeWriteBehindFull   ErrorCode = "WRITE_BEHIND_FULL"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotStarted    ErrorCode = "NOT_STARTED"
	ErrCodeShutdown      ErrorCode = "SHUTDOWN_IN_PROGRESS"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryTier          ErrorCategory = "tier"
	CategoryCapacity      ErrorCategory = "capacity"
	CategoryValidation    ErrorCategory = "validation"
	CategoryAdmission     ErrorCategory = "admission"
	CategoryOperation     ErrorCategory = "operation"
	CategoryInternal      ErrorCategory = "internal"
)

// categoryOf maps each code to its category.
var categoryOf = map[ErrorCode]ErrorCategory{
	ErrCodeInvalidConfig:     CategoryConfiguration,
	ErrCodeConfigValidation:  CategoryConfiguration,
	ErrCodeConfigLoad:        CategoryConfiguration,
	ErrCodeTierUnavailable:   CategoryTier,
	ErrCodeConnectionFailed:  CategoryTier,
	ErrCodeConnectionTimeout: CategoryTier,
	ErrCodeCircuitOpen:       CategoryTier,
	ErrCodeCapacityExceeded:  CategoryCapacity,
	ErrCodeMemoryPressure:    CategoryCapacity,
	ErrCodeValidationFailed:  CategoryValidation,
	ErrCodeAdmissionRejected: CategoryAdmission,
	ErrCodeOperationTimeout:  CategoryOperation,
	ErrCodeOperationCanceled: CategoryOperation,
	ErrCodeRetryExhausted:    CategoryOperation,
	ErrCodeWriteBehindFull:   CategoryOperation,
	ErrCodeInternalError:     CategoryInternal,
	ErrCodeNotStarted:        CategoryInternal,
	ErrCodeShutdown:          CategoryInternal,
}

// retryableCodes are errors worth retrying against a remote tier.
var retryableCodes = map[ErrorCode]bool{
	ErrCodeTierUnavailable:   true,
	ErrCodeConnectionFailed:  true,
	ErrCodeConnectionTimeout: true,
	ErrCodeOperationTimeout:  true,
}

// CacheError represents a structured error with context and metadata.
type CacheError struct {
	Code      ErrorCode         `json:"code"`
	Category  ErrorCategory     `json:"category"`
	Message   string            `json:"message"`
	Component string            `json:"component,omitempty"`
	Operation string            `json:"operation,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`
	Retryable bool              `json:"retryable"`
}

// Error implements the error interface.
func (e *CacheError) Error() string {
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *CacheError) Unwrap() error {
	return e.Cause
}

// WithComponent attaches the component name and returns the error.
func (e *CacheError) WithComponent(component string) *CacheError {
	e.Component = component
	return e
}

// WithOperation attaches the operation name and returns the error.
func (e *CacheError) WithOperation(op string) *CacheError {
	e.Operation = op
	return e
}

// WithContext attaches a context key/value pair and returns the error.
func (e *CacheError) WithContext(key, value string) *CacheError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// New creates a structured error with the given code and message.
func New(code ErrorCode, message string) *CacheError {
	return &CacheError{
		Code:      code,
		Category:  categoryOf[code],
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableCodes[code],
	}
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *CacheError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates a structured error wrapping an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *CacheError {
	e := New(code, message)
	e.Cause = cause
	return e
}

// NewTierUnavailable builds the canonical error for an unreachable tier.
func NewTierUnavailable(tier, op string, cause error) *CacheError {
	return Wrap(ErrCodeTierUnavailable, fmt.Sprintf("tier %s unreachable", tier), cause).
		WithComponent(tier).
		WithOperation(op)
}

// NewValidation builds a validation error for a malformed request.
func NewValidation(message string) *CacheError {
	return New(ErrCodeValidationFailed, message)
}

// NewAdmissionRejected builds the non-fatal error recording why an admission
// policy declined to cache a result.
func NewAdmissionRejected(reason string) *CacheError {
	return New(ErrCodeAdmissionRejected, reason)
}

// GetCode extracts the error code, or ErrCodeInternalError for foreign errors.
func GetCode(err error) ErrorCode {
	var ce *CacheError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternalError
}

// IsCode reports whether err carries the given structured code.
func IsCode(err error, code ErrorCode) bool {
	var ce *CacheError
	if stderrors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var ce *CacheError
	if stderrors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// IsAdmissionRejected reports whether err is the deliberate admission no-op.
func IsAdmissionRejected(err error) bool {
	return IsCode(err, ErrCodeAdmissionRejected)
}
