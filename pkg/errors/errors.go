// Package errors provides the structured error taxonomy for auditperf: error codes,
// categories, retry hints and component context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for auditperf operations.
type ErrorCode string

const (
	// Configuration errors. Raised at construction, never retried.
	ErrCodeInvalidConfig       ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig       ErrorCode = "MISSING_CONFIG"
	ErrCodeUnsupportedStrategy ErrorCode = "UNSUPPORTED_STRATEGY"
	ErrCodeUnsupportedInterval ErrorCode = "UNSUPPORTED_INTERVAL"
	ErrCodeInvalidPattern      ErrorCode = "INVALID_PATTERN"
	ErrCodeInvalidQuery        ErrorCode = "INVALID_QUERY"

	// Transient infrastructure errors.
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeQueryFailed       ErrorCode = "QUERY_FAILED"
	ErrCodeCacheUnavailable  ErrorCode = "CACHE_UNAVAILABLE"

	// Partition errors.
	ErrCodePartitionOverlap  ErrorCode = "PARTITION_OVERLAP"
	ErrCodePartitionExists   ErrorCode = "PARTITION_EXISTS"
	ErrCodePartitionNotFound ErrorCode = "PARTITION_NOT_FOUND"
	ErrCodeArchiveFailed     ErrorCode = "ARCHIVE_FAILED"

	// State errors.
	ErrCodeAlreadyStarted    ErrorCode = "ALREADY_STARTED"
	ErrCodeClosed            ErrorCode = "COMPONENT_CLOSED"
	ErrCodeOperationNotFound ErrorCode = "OPERATION_NOT_FOUND"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryCache         ErrorCategory = "cache"
	CategoryPartition     ErrorCategory = "partition"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// AuditPerfError represents a structured error with context and metadata.
type AuditPerfError struct {
	Code     ErrorCode      `json:"code"`
	Category ErrorCategory  `json:"category"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *AuditPerfError) Error() string {
	var msg string
	switch {
	case e.Component != "" && e.Operation != "":
		msg = fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, e.Message)
	case e.Component != "":
		msg = fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, e.Message)
	default:
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *AuditPerfError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same code (for errors.Is compatibility).
func (e *AuditPerfError) Is(target error) bool {
	if t, ok := target.(*AuditPerfError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *AuditPerfError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("AuditPerfError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with defaults derived from the code.
func NewError(code ErrorCode, message string) *AuditPerfError {
	return &AuditPerfError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]any),
		Retryable: IsRetryableByDefault(code),
	}
}

// NewConfigError creates a configuration error for the given component.
func NewConfigError(component, format string, args ...any) *AuditPerfError {
	return NewError(ErrCodeInvalidConfig, fmt.Sprintf(format, args...)).WithComponent(component)
}

// WrapError wraps cause in a structured error.
func WrapError(cause error, code ErrorCode, message string) *AuditPerfError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeInvalidConfig, ErrCodeMissingConfig, ErrCodeUnsupportedStrategy,
		ErrCodeUnsupportedInterval, ErrCodeInvalidPattern, ErrCodeInvalidQuery:
		return CategoryConfiguration
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeQueryFailed:
		return CategoryConnection
	case ErrCodeCacheUnavailable:
		return CategoryCache
	case ErrCodePartitionOverlap, ErrCodePartitionExists, ErrCodePartitionNotFound, ErrCodeArchiveFailed:
		return CategoryPartition
	case ErrCodeAlreadyStarted, ErrCodeClosed, ErrCodeOperationNotFound:
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionFailed, ErrCodeConnectionTimeout, ErrCodeCacheUnavailable,
		ErrCodeArchiveFailed, ErrCodeInternalError:
		return true
	}
	return false
}

// WithDetail adds detailed information to an error.
func (e *AuditPerfError) WithDetail(key string, value any) *AuditPerfError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error.
func (e *AuditPerfError) WithComponent(component string) *AuditPerfError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error.
func (e *AuditPerfError) WithOperation(operation string) *AuditPerfError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause.
func (e *AuditPerfError) WithCause(cause error) *AuditPerfError {
	e.Cause = cause
	return e
}

// GetErrorCode extracts the code from err, or returns "" when err carries none.
func GetErrorCode(err error) ErrorCode {
	var ae *AuditPerfError
	if stderrors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsCode reports whether err (or anything it wraps) has the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsRetryable reports whether err is marked retryable.
func IsRetryable(err error) bool {
	var ae *AuditPerfError
	if stderrors.As(err, &ae) {
		return ae.Retryable
	}
	return false
}

// IsConfigError reports whether err belongs to the configuration category.
func IsConfigError(err error) bool {
	var ae *AuditPerfError
	if stderrors.As(err, &ae) {
		return ae.Category == CategoryConfiguration
	}
	return false
}
