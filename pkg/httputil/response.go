package httputil

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/jwalitptl/clinic-onboarding/pkg/errors"
)

// Response wraps all API responses
type Response struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data,omitempty"`
	Warnings []string    `json:"warnings,omitempty"`
	Error    *Error      `json:"error,omitempty"`
}

// Error is the client-facing error body. Code is the stable error kind.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RespondWithSuccess sends data with the given status code.
func RespondWithSuccess(c *gin.Context, status int, data interface{}, warnings ...string) {
	c.JSON(status, Response{
		Status:   "success",
		Data:     data,
		Warnings: warnings,
	})
}

// RespondWithError maps err onto a status code and aborts the chain.
// Internal errors never leak their cause to the client.
func RespondWithError(c *gin.Context, err error) {
	status, body := ErrorBody(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, Response{Status: "error", Error: body})
}

func ErrorBody(err error) (int, *Error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) || appErr.Code == apperrors.ErrInternal {
		return http.StatusInternalServerError, &Error{
			Code:    apperrors.ErrInternal.String(),
			Message: "internal server error",
		}
	}
	return appErr.StatusCode(), &Error{
		Code:    appErr.Code.String(),
		Message: appErr.Message,
	}
}

// Abort writes a bare error body without an AppError, for middleware.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, Response{
		Status: "error",
		Error:  &Error{Code: code, Message: message},
	})
}
