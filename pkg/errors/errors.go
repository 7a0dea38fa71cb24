package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so callers can write
// errors.Is(err, errors.ErrExpired.New()) style checks through wrapping.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// StatusCode maps the error kind onto an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusForbidden
	case ErrInvalidTransition, ErrDuplicateInvitation, ErrTokenAlreadyUsed:
		return http.StatusConflict
	case ErrExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// Error codes. One per kind in the lifecycle taxonomy.
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrValidation
	ErrUnauthorized
	ErrInvalidTransition
	ErrDuplicateInvitation
	ErrTokenAlreadyUsed
	ErrExpired
	ErrInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not_found"
	case ErrValidation:
		return "validation_error"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrInvalidTransition:
		return "invalid_transition"
	case ErrDuplicateInvitation:
		return "duplicate_invitation"
	case ErrTokenAlreadyUsed:
		return "token_already_used"
	case ErrExpired:
		return "expired"
	case ErrInternal:
		return "internal"
	default:
		return fmt.Sprintf("code_%d", int(c))
	}
}

// New returns a bare AppError with c, suitable as an errors.Is target.
func (c ErrorCode) New() *AppError {
	return &AppError{Code: c, Message: c.String()}
}

// CodeOf returns the code of the first AppError in err's chain, or
// ErrInternal for anything else.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// HasCode reports whether err carries code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Error constructors
func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func Validation(message string, err error) *AppError {
	return &AppError{
		Code:    ErrValidation,
		Message: message,
		Err:     err,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: message,
	}
}

func InvalidTransition(format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    ErrInvalidTransition,
		Message: fmt.Sprintf(format, args...),
	}
}

func DuplicateInvitation(email string) *AppError {
	return &AppError{
		Code:    ErrDuplicateInvitation,
		Message: fmt.Sprintf("a pending invitation already exists for %s; resend it instead", email),
	}
}

func TokenAlreadyUsed() *AppError {
	return &AppError{
		Code:    ErrTokenAlreadyUsed,
		Message: "invitation token has already been used",
	}
}

func Expired(resource string) *AppError {
	return &AppError{
		Code:    ErrExpired,
		Message: fmt.Sprintf("%s has expired", resource),
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}
