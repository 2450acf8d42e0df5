package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeAlreadyExists = "ALREADY_EXISTS"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeForbidden     = "FORBIDDEN"
	CodeNotFound      = "NOT_FOUND"
	CodeNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeInternal      = "INTERNAL_ERROR"
	CodeOTPCooldown   = "OTP_COOLDOWN"
	CodeRateLimited   = "RATE_LIMITED"
)

// APIError is the error type returned across the service boundary.
// RetryAfter is in whole seconds and only set for throttling errors.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
	HTTPStatus int    `json:"-"`

	cause error
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}

	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Details != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Details)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap exposes the underlying cause of internal errors
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func New(code string, message string, details string, status int) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: status}
}

func BadRequest(message string) *APIError {
	return New(CodeBadRequest, message, "", http.StatusBadRequest)
}

func AlreadyExists(message string) *APIError {
	return New(CodeAlreadyExists, message, "", http.StatusConflict)
}

func Unauthorized(message string) *APIError {
	return New(CodeUnauthorized, message, "", http.StatusUnauthorized)
}

func Forbidden(message string) *APIError {
	return New(CodeForbidden, message, "", http.StatusForbidden)
}

func NotFound(message string) *APIError {
	return New(CodeNotFound, message, "", http.StatusNotFound)
}

func MethodNotAllowed(message string) *APIError {
	return New(CodeNotAllowed, message, "", http.StatusMethodNotAllowed)
}

func Internal(message string) *APIError {
	return New(CodeInternal, message, "", http.StatusInternalServerError)
}

// WrapInternal hides err behind a generic message; err stays reachable via errors.Is/As for logging.
func WrapInternal(err error) *APIError {
	e := Internal("Internal server error")
	e.cause = err
	return e
}

// Cooldown reports that the caller must wait waitSeconds before retrying.
func Cooldown(waitSeconds int) *APIError {
	e := New(CodeOTPCooldown, fmt.Sprintf("Wait for %ds more before trying again!", waitSeconds), "", http.StatusBadRequest)
	e.RetryAfter = waitSeconds
	return e
}

// Is reports whether err is (or wraps) an *APIError with the given code
func Is(err error, code string) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == code
}

// As returns the *APIError carried by err, if any
func As(err error) (*APIError, bool) {
	var apiErr *APIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}
