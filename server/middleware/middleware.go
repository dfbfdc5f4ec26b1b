// Package middleware holds the gin handlers the server installs ahead of
// every route.
package middleware

import (
	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/stepflow/errors"
)

// abort ends the request with err in the API's error envelope.
func abort(c *gin.Context, err *apperrors.AppError) {
	c.AbortWithStatusJSON(err.HTTPStatus, err.ToResponse())
}
