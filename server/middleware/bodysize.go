package middleware

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/stepflow/errors"
)

// ParseBodyLimit reads a size such as "10MB" or "512KiB".
func ParseBodyLimit(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// BodySizeLimit rejects bodies declared larger than limit with 413 and
// caps the reader for bodies that do not declare their length.
func BodySizeLimit(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			abort(c, apperrors.New(apperrors.ErrCodeInvalidInput, "Request body too large",
				http.StatusRequestEntityTooLarge).WithDetail("limit_bytes", limit))
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}
