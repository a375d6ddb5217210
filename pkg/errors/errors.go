// Package errors defines the error taxonomy shared by the runtime broker.
//
// Every failure that can cross a layer boundary is a *RuntimeError carrying
// the HTTP status to surface, a stable machine-readable code, and an optional
// wrapped cause. The HTTP layer is the only place that converts these into
// response envelopes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes surfaced to clients.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeMissingRuntimeToken = "MISSING_RUNTIME_TOKEN"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeConflict            = "CONFLICT"
	CodePayloadTooLarge     = "PAYLOAD_TOO_LARGE"
	CodeTooManyRequests     = "TOO_MANY_REQUESTS"
	CodeNotImplemented      = "NOT_IMPLEMENTED"
	CodeInternal            = "INTERNAL_SERVER_ERROR"

	CodeNoEnvironment            = "NO_ENVIRONMENT"
	CodeNoCanaryDeployServer     = "NO_CANARY_DEPLOY_SERVER"
	CodeRuntimeDomainUnavailable = "RUNTIME_DOMAIN_UNAVAILABLE"

	CodeInvalidJSONResponse = "INVALID_JSON_RESPONSE"
	CodeInvalidTRPCResponse = "INVALID_TRPC_RESPONSE"
	CodeNetworkError        = "NETWORK_ERROR"
	CodeTimeout             = "TIMEOUT"
	CodeRetryExhausted      = "RETRY_EXHAUSTED"
)

// RuntimeError is the single error type flowing between the platform client,
// the orchestrator and the HTTP surface.
type RuntimeError struct {
	// Status is the HTTP status to surface outward.
	Status int

	// Code is the stable machine-readable error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// Details carries structured context, e.g. validation failures.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the error message.
func (e *RuntimeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// New creates a new RuntimeError.
func New(status int, code, message string, cause error) *RuntimeError {
	return &RuntimeError{
		Status:  status,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// WithDetails attaches structured details and returns the error.
func (e *RuntimeError) WithDetails(details map[string]any) *RuntimeError {
	e.Details = details
	return e
}

// NewBadRequest creates a new bad request error.
func NewBadRequest(message string, cause error) *RuntimeError {
	return New(http.StatusBadRequest, CodeBadRequest, message, cause)
}

// NewUnauthorized creates a new unauthorized error.
func NewUnauthorized(message string, cause error) *RuntimeError {
	return New(http.StatusUnauthorized, CodeUnauthorized, message, cause)
}

// NewMissingToken creates the error returned when no runtime token was supplied.
func NewMissingToken() *RuntimeError {
	return New(http.StatusUnauthorized, CodeMissingRuntimeToken, "missing runtime token", nil)
}

// NewForbidden creates a new forbidden error.
func NewForbidden(message string, cause error) *RuntimeError {
	return New(http.StatusForbidden, CodeForbidden, message, cause)
}

// NewNotFound creates a new not found error.
func NewNotFound(message string, cause error) *RuntimeError {
	return New(http.StatusNotFound, CodeNotFound, message, cause)
}

// NewMethodNotAllowed creates a new method not allowed error.
func NewMethodNotAllowed(method string) *RuntimeError {
	return New(http.StatusMethodNotAllowed, CodeMethodNotAllowed, fmt.Sprintf("method %s not allowed", method), nil)
}

// NewConflict creates a new conflict error.
func NewConflict(message string, cause error) *RuntimeError {
	return New(http.StatusConflict, CodeConflict, message, cause)
}

// NewInternal creates a new internal server error.
func NewInternal(message string, cause error) *RuntimeError {
	return New(http.StatusInternalServerError, CodeInternal, message, cause)
}

// NewNoEnvironment is returned when a project has no usable environment.
func NewNoEnvironment(projectID string) *RuntimeError {
	return New(http.StatusInternalServerError, CodeNoEnvironment,
		fmt.Sprintf("project %s has no environment", projectID), nil)
}

// NewNoCanaryDeployServer is returned when the canary cohort is selected but
// no canary server is configured.
func NewNoCanaryDeployServer() *RuntimeError {
	return New(http.StatusServiceUnavailable, CodeNoCanaryDeployServer,
		"canary rollout selected but no canary deploy server is configured", nil)
}

// NewDomainUnavailable is returned when no preview domain could be ensured.
func NewDomainUnavailable(composeID string, cause error) *RuntimeError {
	return New(http.StatusServiceUnavailable, CodeRuntimeDomainUnavailable,
		fmt.Sprintf("no preview domain available for compose %s", composeID), cause)
}

// Is checks whether err is a RuntimeError with the given code.
func Is(err error, code string) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// StatusOf returns the HTTP status of err, or 500 if it is not a RuntimeError.
func StatusOf(err error) int {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Status
	}
	return http.StatusInternalServerError
}

// FromError normalizes any error into a RuntimeError. Unknown errors become
// 500 INTERNAL_SERVER_ERROR with the original error as cause.
func FromError(err error) *RuntimeError {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re
	}
	return NewInternal("internal server error", err)
}
