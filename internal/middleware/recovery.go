package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "github.com/jwalitptl/clinic-onboarding/pkg/errors"
	"github.com/jwalitptl/clinic-onboarding/pkg/httputil"
)

// Recovery handles panics and logs them appropriately
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				zerolog.Ctx(c.Request.Context()).Error().
					Interface("error", err).
					Str("stack", string(debug.Stack())).
					Str("method", c.Request.Method).
					Str("route", c.FullPath()).
					Msg("Request panic recovered")

				httputil.Abort(c, http.StatusInternalServerError, apperrors.ErrInternal.String(), "internal server error")
			}
		}()
		c.Next()
	}
}
