// Package dto defines API request/response types and error handling.
//
// The dto package is the API contract layer, fully self-contained with no
// dependency on the domain packages. Request validation here covers field
// presence only; format rules live with the record type and are mapped onto
// API errors by the server package.
//
// Error handling follows a structured pattern:
//   - ErrorCode provides machine-readable error classification
//   - APIError wraps errors with HTTP status codes and details
//   - Constructor functions (NotFound, BadRequest, etc.) create common errors
package dto

import (
	"fmt"
	"maps"
	"net/http"
)

// ErrorCode defines specific error types for the API.
type ErrorCode string

const (
	// ErrorCodeValidationFailed is returned when input data fails validation.
	ErrorCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrorCodeMissingField is returned when a required field is missing.
	ErrorCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrorCodeDuplicate is returned when an email or phone is already registered.
	ErrorCodeDuplicate ErrorCode = "DUPLICATE"
	// ErrorCodeNotFound is returned when no record matches the given keys.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeBusy is returned when the table lock cannot be acquired in time.
	ErrorCodeBusy ErrorCode = "BUSY"
	// ErrorCodeStorageError is returned when local persistence fails.
	ErrorCodeStorageError ErrorCode = "STORAGE_ERROR"
	// ErrorCodeSyncFailed is returned when a forced sync cannot reach the remote.
	ErrorCodeSyncFailed ErrorCode = "SYNC_FAILED"
	// ErrorCodeRateLimited is returned when a client exceeds the write rate.
	ErrorCodeRateLimited ErrorCode = "RATE_LIMITED"
	// ErrorCodeInternal is returned when an unexpected server error occurs.
	ErrorCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// ErrorDetails defines the structured error information in a response.
type ErrorDetails struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ErrorResponse is the standard API error response.
type ErrorResponse struct {
	Error   ErrorDetails   `json:"error"`
	Details map[string]any `json:"details,omitempty"`
}

// APIError is a concrete error type with status code and optional details.
type APIError struct {
	status  int
	code    ErrorCode
	message string
	details map[string]any
}

func (e *APIError) Error() string {
	return e.message
}

// StatusCode returns the HTTP status code.
func (e *APIError) StatusCode() int {
	return e.status
}

// Code returns the machine-readable error code.
func (e *APIError) Code() ErrorCode {
	return e.code
}

// Details returns a copy of the structured details, or nil.
func (e *APIError) Details() map[string]any {
	if e.details == nil {
		return nil
	}
	return maps.Clone(e.details)
}

// WithDetails returns a copy of the error with the given detail attached.
func (e *APIError) WithDetails(key string, value any) *APIError {
	c := *e
	c.details = maps.Clone(e.details)
	if c.details == nil {
		c.details = map[string]any{}
	}
	c.details[key] = value
	return &c
}

// BadRequest creates a 400 validation error.
func BadRequest(format string, args ...any) *APIError {
	return &APIError{status: http.StatusBadRequest, code: ErrorCodeValidationFailed, message: fmt.Sprintf(format, args...)}
}

// MissingField creates a 400 error for an absent required field.
func MissingField(field string) *APIError {
	return &APIError{
		status:  http.StatusBadRequest,
		code:    ErrorCodeMissingField,
		message: fmt.Sprintf("%s is required", field),
		details: map[string]any{"field": field},
	}
}

// Duplicate creates a 409 error classifying the colliding field.
func Duplicate(field string) *APIError {
	return &APIError{
		status:  http.StatusConflict,
		code:    ErrorCodeDuplicate,
		message: fmt.Sprintf("already registered: %s", field),
		details: map[string]any{"field": field},
	}
}

// NotFound creates a 404 error.
func NotFound(message string) *APIError {
	return &APIError{status: http.StatusNotFound, code: ErrorCodeNotFound, message: message}
}

// Busy creates a 503 error for lock acquisition timeouts.
func Busy() *APIError {
	return &APIError{status: http.StatusServiceUnavailable, code: ErrorCodeBusy, message: "server busy, try again"}
}

// StorageError creates a 507 error for fatal local persistence failures.
func StorageError(message string) *APIError {
	return &APIError{status: http.StatusInsufficientStorage, code: ErrorCodeStorageError, message: message}
}

// SyncFailed creates a 502 error for forced syncs that could not reach the
// remote store.
func SyncFailed(message string) *APIError {
	return &APIError{status: http.StatusBadGateway, code: ErrorCodeSyncFailed, message: message}
}

// RateLimited creates a 429 error.
func RateLimited() *APIError {
	return &APIError{status: http.StatusTooManyRequests, code: ErrorCodeRateLimited, message: "rate limit exceeded"}
}

// Internal creates a 500 error.
func Internal(message string) *APIError {
	return &APIError{status: http.StatusInternalServerError, code: ErrorCodeInternal, message: message}
}
