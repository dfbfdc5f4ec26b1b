package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/kbukum/stepflow/errors"
)

// Page describes which slice of a listing a response holds.
type Page struct {
	Page       int `json:"page,omitempty"`
	PageSize   int `json:"pageSize,omitempty"`
	Total      int `json:"total,omitempty"`
	TotalPages int `json:"totalPages,omitempty"`
}

type envelope struct {
	Data any   `json:"data"`
	Meta *Page `json:"meta,omitempty"`
}

// Respond writes data as {"data": ...}. A 204 status writes no body.
func Respond(c *gin.Context, status int, data any) {
	if status == http.StatusNoContent {
		c.Status(status)
		return
	}
	c.JSON(status, envelope{Data: data})
}

// RespondPage writes one page of a listing with its position under "meta".
func RespondPage(c *gin.Context, data any, page Page) {
	c.JSON(http.StatusOK, envelope{Data: data, Meta: &page})
}

// RespondWithError renders err in the error envelope. Errors that are not
// an *apperrors.AppError become 500 INTERNAL_ERROR. Server-side failures
// are attached to the context so the request log carries them.
func RespondWithError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal(err)
	}
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(appErr.HTTPStatus, appErr.ToResponse())
}
