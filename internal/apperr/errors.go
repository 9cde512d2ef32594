package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation     = "VALIDATION_FAILED"
	CodeConflict       = "CONFLICT"
	CodeNotFound       = "NOT_FOUND"
	CodeStorage        = "STORAGE_ERROR"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeInvalidPayload = "INVALID_PAYLOAD"
)

type AppError struct {
	Code    string        `json:"code"`
	Status  int           `json:"-"`
	Message string        `json:"message"`
	Details []ErrorDetail `json:"details,omitempty"`
	Err     error         `json:"-"`
}

type ErrorDetail struct {
	Field   string `json:"field,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Code == CodeStorage {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

type ErrorResponse struct {
	Error *AppError `json:"error"`
}

func New(code string, status int, msg string) *AppError {
	return &AppError{Code: code, Status: status, Message: msg}
}

func NotFound(kind, id string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Status:  http.StatusNotFound,
		Message: fmt.Sprintf("%s with id %s not found", kind, id),
	}
}

func Validation(details []ErrorDetail) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Status:  http.StatusUnprocessableEntity,
		Message: "Validation failed",
		Details: details,
	}
}

// Invalid is a single-field validation failure.
func Invalid(field, rule, msg string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Status:  http.StatusUnprocessableEntity,
		Message: msg,
		Details: []ErrorDetail{{Field: field, Rule: rule, Message: msg}},
	}
}

func Conflict(msg string, details ...ErrorDetail) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Status:  http.StatusConflict,
		Message: msg,
		Details: details,
	}
}

// Storage wraps a driver failure. The driver message is kept in Error().
func Storage(op string, err error) *AppError {
	return &AppError{
		Code:    CodeStorage,
		Status:  http.StatusInternalServerError,
		Message: op,
		Err:     err,
	}
}

func Unauthorized(msg string) *AppError {
	return &AppError{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Message: msg}
}

func Forbidden(msg string) *AppError {
	return &AppError{Code: CodeForbidden, Status: http.StatusForbidden, Message: msg}
}

func InvalidPayload(msg string) *AppError {
	return &AppError{Code: CodeInvalidPayload, Status: http.StatusBadRequest, Message: msg}
}

// As extracts an *AppError from err.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err is an *AppError with the given code.
func Is(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
