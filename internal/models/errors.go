package models

import (
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents validation errors (4xx)
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeQuotaExceeded represents exhausted daily upstream quota (429)
	ErrorTypeQuotaExceeded ErrorType = "quota_exceeded"
	// ErrorTypeCooldownActive represents calls rejected while the quota cooldown is active (503)
	ErrorTypeCooldownActive ErrorType = "cooldown_active"
	// ErrorTypeExhaustedAttempts represents retry-budget exhaustion on transient failures (502)
	ErrorTypeExhaustedAttempts ErrorType = "exhausted_attempts"
	// ErrorTypeUpstream represents non-retryable upstream failures (502)
	ErrorTypeUpstream ErrorType = "upstream"
	// ErrorTypeEmptyResponse represents an upstream success that carried no usable text
	ErrorTypeEmptyResponse ErrorType = "empty_response"
	// ErrorTypeInternal represents internal server errors (500)
	ErrorTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Code       string    `json:"code,omitzero"`
	StatusCode int       `json:"-"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap allows error unwrapping
func (e *AppError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether the error is retryable
func (e *AppError) IsRetryable() bool {
	return e.Retryable
}

// GetStatusCode returns the HTTP status code for the error
func (e *AppError) GetStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeQuotaExceeded:
		return http.StatusTooManyRequests
	case ErrorTypeCooldownActive:
		return http.StatusServiceUnavailable
	case ErrorTypeExhaustedAttempts, ErrorTypeUpstream, ErrorTypeEmptyResponse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewQuotaExceededError creates the distinct quota-exhaustion error. The
// "quota exceeded" prefix is part of the contract: callers match on it to
// distinguish daily exhaustion from ordinary rate limiting.
func NewQuotaExceededError(operation, upstreamMessage string) *AppError {
	return &AppError{
		Type:       ErrorTypeQuotaExceeded,
		Message:    fmt.Sprintf("quota exceeded: operation %s hit the daily upstream quota: %s", operation, upstreamMessage),
		Code:       "QUOTA_EXCEEDED",
		StatusCode: http.StatusTooManyRequests,
		Retryable:  false,
	}
}

// NewCooldownActiveError creates the fail-fast error returned while the
// process-wide quota cooldown has not yet elapsed.
func NewCooldownActiveError(resumeAt time.Time) *AppError {
	return &AppError{
		Type:       ErrorTypeCooldownActive,
		Message:    fmt.Sprintf("quota cooldown active: upstream calls suppressed until %s", resumeAt.Format(time.RFC3339)),
		Code:       "QUOTA_COOLDOWN_ACTIVE",
		StatusCode: http.StatusServiceUnavailable,
		Retryable:  false,
	}
}

// NewExhaustedAttemptsError creates the error surfaced when every attempt in
// the retry budget failed with a transient error.
func NewExhaustedAttemptsError(operation string, attempts int, lastMessage string) *AppError {
	return &AppError{
		Type:       ErrorTypeExhaustedAttempts,
		Message:    fmt.Sprintf("operation %s exhausted attempts: failed after %d attempts: %s", operation, attempts, lastMessage),
		Code:       "EXHAUSTED_ATTEMPTS",
		StatusCode: http.StatusBadGateway,
		Retryable:  false,
	}
}

// NewUpstreamError creates the error surfaced for non-retryable upstream failures
func NewUpstreamError(operation string, attempts int, message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeUpstream,
		Message:    fmt.Sprintf("operation %s failed after %d attempts: %s", operation, attempts, message),
		Code:       "UPSTREAM_ERROR",
		StatusCode: http.StatusBadGateway,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewEmptyResponseError creates the error synthesized when the upstream call
// succeeded at the transport level but produced no usable text.
func NewEmptyResponseError(model string) *AppError {
	return &AppError{
		Type:       ErrorTypeEmptyResponse,
		Message:    fmt.Sprintf("model %s returned an empty response", model),
		Code:       "EMPTY_RESPONSE",
		StatusCode: http.StatusBadGateway,
		Retryable:  false,
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// SanitizeError sanitizes an error for external consumption
func SanitizeError(err error) *AppError {
	if appErr, ok := err.(*AppError); ok {
		return &AppError{
			Type:       appErr.Type,
			Message:    appErr.Message,
			Code:       appErr.Code,
			StatusCode: appErr.GetStatusCode(),
			Retryable:  appErr.Retryable,
		}
	}

	return NewInternalError("an unexpected error occurred", err)
}
