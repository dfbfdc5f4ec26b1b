package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/stepflow/logger"
)

// SlowRequest marks requests logged with slow=true.
var SlowRequest = 500 * time.Millisecond

var probes = map[string]bool{"/health": true, "/alive": true, "/ready": true}

// RequestLogger logs each finished request: errors for 5xx, warnings for
// 4xx and debug otherwise. Probe endpoints are not logged.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return func(c *gin.Context) {
		if probes[c.Request.URL.Path] {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := logger.Fields(
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", c.GetString(RequestIDKey),
		)
		if elapsed > SlowRequest {
			fields["slow"] = true
		}
		if err := c.Errors.Last(); err != nil {
			fields[logger.FieldError] = err.Error()
		}
		switch {
		case status >= 500:
			log.Error("Request failed", fields)
		case status >= 400:
			log.Warn("Request rejected", fields)
		default:
			log.Debug("Request served", fields)
		}
	}
}
