package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/clinic-onboarding/pkg/httputil"
)

// ErrorHandler renders the last error attached with c.Error when the
// handler itself did not write a response.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		status, body := httputil.ErrorBody(c.Errors.Last().Err)
		c.JSON(status, httputil.Response{Status: "error", Error: body})
	}
}
