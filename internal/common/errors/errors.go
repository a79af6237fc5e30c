// Package errors provides error types shared across the baton gateway.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeBadRequest          = "BAD_REQUEST"
	ErrCodeSignatureInvalid    = "SIGNATURE_INVALID"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeAgentNotReady       = "AGENT_NOT_READY"
	ErrCodeInteractionNotFound = "INTERACTION_NOT_FOUND"
	ErrCodeAccessDenied        = "ACCESS_DENIED"
)

// AppError represents a gateway error with additional context. Errors that
// cross the webhook HTTP boundary carry their status code here.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// SignatureInvalid creates the error returned for webhook deliveries whose
// signature does not verify. Always maps to 403.
func SignatureInvalid(platform string) *AppError {
	return &AppError{
		Code:       ErrCodeSignatureInvalid,
		Message:    fmt.Sprintf("%s webhook signature verification failed", platform),
		HTTPStatus: http.StatusForbidden,
	}
}

// AgentNotReady creates the error surfaced when a prompt reaches a session
// whose agent process is not initialized or has exited.
func AgentNotReady(sessionID string) *AppError {
	return &AppError{
		Code:       ErrCodeAgentNotReady,
		Message:    fmt.Sprintf("agent not initialized for session '%s'", sessionID),
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// InteractionNotFound creates the error for a selection reply that targets no
// pending interaction.
func InteractionNotFound(requestID string) *AppError {
	return &AppError{
		Code:       ErrCodeInteractionNotFound,
		Message:    fmt.Sprintf("no pending interaction '%s'", requestID),
		HTTPStatus: http.StatusNotFound,
	}
}

// AccessDenied creates the error for agent file operations that resolve
// outside the project root.
func AccessDenied(path string) *AppError {
	return &AppError{
		Code:       ErrCodeAccessDenied,
		Message:    fmt.Sprintf("path '%s' is outside the project root", path),
		HTTPStatus: http.StatusForbidden,
	}
}

// InternalError creates a new internal error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
