package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/semops/semops-backend/internal/pkg/errs"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondFromError maps the domain error taxonomy onto HTTP statuses:
// validation 400, not found 404, governance and structural refusals 409,
// transient upstream failures 503, anything else 500.
func RespondFromError(c *gin.Context, err error) {
	switch {
	case errs.IsValidation(err):
		RespondError(c, http.StatusBadRequest, "validation_failed", err)
	case errors.Is(err, errs.ErrNotFound):
		RespondError(c, http.StatusNotFound, "not_found", err)
	case errs.IsGovernance(err):
		RespondError(c, http.StatusConflict, "governance_violation", err)
	case errs.IsStructural(err):
		RespondError(c, http.StatusConflict, "structural_violation", err)
	case errs.IsTransient(err):
		RespondError(c, http.StatusServiceUnavailable, "upstream_unavailable", err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondAccepted(c *gin.Context, payload any) {
	c.JSON(http.StatusAccepted, payload)
}
