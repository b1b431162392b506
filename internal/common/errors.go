package common

import (
	"errors"
	"net/http"
)

// Error codes rendered in the error envelope.
const (
	CodeBadRequest       = "BAD_REQUEST"
	CodeValidation       = "VALIDATION_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeConflict         = "CONFLICT"
	CodeInvalidState     = "INVALID_STATE"
	CodePaymentFailed    = "PAYMENT_FAILED"
	CodeProviderDown     = "PROVIDER_UNAVAILABLE"
	CodeOrderWriteFailed = "ORDER_WRITE_FAILED_AFTER_PAYMENT"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL"
)

// AppError pairs a client-safe code and message with the HTTP status to
// render. Err is the cause; it is logged, never rendered.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// WriteError renders err with the canonical envelope. Errors that are not
// an *AppError become a 500 without leaking their text.
func WriteError(w http.ResponseWriter, err error) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		JSONError(w, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
		return
	}
	status := appErr.HTTPStatus
	if status < 400 {
		status = http.StatusInternalServerError
	}
	JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
}
