// Package errors provides the dashboard HTTP API's standardized error
// response format: a structured {error, message, code, details} body
// with automatic status-code mapping, used wherever a *plugins.PluginError
// crosses into a gin handler.
package errors

import (
	"fmt"
	"net/http"
)

// AppError is a standardized HTTP-facing error: a machine-readable
// Code, a human-readable Message, optional Details, and the status
// code a handler should respond with.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON body a dashboard endpoint writes on failure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

const (
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeOperationInFlight = "OPERATION_IN_PROGRESS"
	ErrCodeInternalServer    = "INTERNAL_SERVER_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusCodeFor(code)}
}

func NewWithDetails(code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusCodeFor(code)}
}

// Wrap builds an AppError from code/message, carrying err's text as Details.
func Wrap(code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewWithDetails(code, message, details)
}

func statusCodeFor(code string) int {
	switch code {
	case ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict, ErrCodeOperationInFlight:
		return http.StatusConflict
	case ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeInternalServer:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Code, Message: e.Message, Code: e.Code, Details: e.Details}
}

func BadRequest(message string) *AppError { return New(ErrCodeBadRequest, message) }

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func Conflict(message string) *AppError { return New(ErrCodeConflict, message) }

func OperationInProgress(message string) *AppError {
	return New(ErrCodeOperationInFlight, message)
}

func InternalServer(message string) *AppError { return New(ErrCodeInternalServer, message) }

// FromPluginError maps a *plugins.PluginError's Kind to the AppError
// that best represents it over HTTP. The mapping lives here rather
// than in package plugins so the plugin runtime itself stays free of
// any HTTP concern.
func FromPluginError(kind string, pluginName, message string) *AppError {
	switch kind {
	case "PluginNotFoundError":
		return NotFound(fmt.Sprintf("plugin %q", pluginName))
	case "PluginAlreadyRegisteredError":
		return Conflict(message)
	case "PluginOperationInProgressError":
		return OperationInProgress(message)
	case "PluginStateError", "PluginLoadError", "PluginLifecycleError", "PluginLifecycleTimeoutError", "RemoteLoadError":
		return NewWithDetails(ErrCodeBadRequest, "plugin operation failed", message)
	default:
		return InternalServer(message)
	}
}
