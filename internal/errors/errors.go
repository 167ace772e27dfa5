package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	InvalidArgument    ErrorCode = "invalid_argument"
	InsufficientFunds  ErrorCode = "insufficient_funds"
	InactiveOrNotFound ErrorCode = "inactive_or_not_found"
	Unknown            ErrorCode = "unknown"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any AppError carrying the same code, so callers can compare
// against the predefined values even when the message was formatted.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !stderrors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails returns a copy so the predefined errors are never mutated.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// Wrap converts an infrastructure fault into an Unknown error. AppErrors
// pass through untouched.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return NewAppError(Unknown, message).WithDetails(err.Error())
}

// CodeOf reports the code carried by err, or Unknown.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return Unknown
}

func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case InvalidArgument:
		return http.StatusBadRequest
	case InsufficientFunds:
		return http.StatusUnprocessableEntity
	case InactiveOrNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Predefined errors for common cases
var (
	ErrNegativeAmount    = NewAppError(InvalidArgument, "amount must be non-negative")
	ErrNegativeRate      = NewAppError(InvalidArgument, "rate must be non-negative")
	ErrInsufficientFunds = NewAppError(InsufficientFunds, "insufficient balance for withdrawal")
	ErrInactiveAccount   = NewAppError(InactiveOrNotFound, "account is inactive or does not exist")
	ErrUnknown           = NewAppError(Unknown, "unexpected failure")
)
