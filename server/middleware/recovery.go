package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/stepflow/errors"
	"github.com/kbukum/stepflow/logger"
)

// Recovery answers a panicking handler with 500 INTERNAL_ERROR. Aborted
// handlers (http.ErrAbortHandler) are re-panicked for net/http to handle.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			log.Error("Handler panicked", logger.Fields(
				logger.FieldError, fmt.Sprint(rec),
				"route", c.FullPath(),
				"method", c.Request.Method,
				"stack", string(debug.Stack()),
			))
			if c.Writer.Written() {
				c.Abort()
				return
			}
			abort(c, apperrors.Internal(fmt.Errorf("panic: %v", rec)))
		}()
		c.Next()
	}
}
