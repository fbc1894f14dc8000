package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	kerrors "github.com/dbmigration/keeper/internal/errors"
)

// DataResponse is the standard success envelope.
type DataResponse struct {
	Data any `json:"data"`
}

// RespondWithError inspects err: if it is a structured application error
// the status and body are derived from it; otherwise a generic 500 is sent.
func RespondWithError(c *gin.Context, err error) {
	if appErr, ok := kerrors.AsAppError(err); ok {
		c.JSON(kerrors.HTTPStatusOf(appErr), appErr.ToResponse())
		return
	}
	c.JSON(http.StatusInternalServerError, kerrors.Internal(err.Error()).ToResponse())
}

// RespondOK sends a 200 response wrapping data.
func RespondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, DataResponse{Data: data})
}

// RespondAccepted sends a 202 response wrapping data.
func RespondAccepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, DataResponse{Data: data})
}
