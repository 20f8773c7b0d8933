package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/semops/semops-backend/internal/http/response"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/services"
)

type IngestHandler struct {
	ingest services.IngestService
}

func NewIngestHandler(ingest services.IngestService) *IngestHandler {
	return &IngestHandler{ingest: ingest}
}

// POST /api/artifacts/ingest
func (h *IngestHandler) Ingest(c *gin.Context) {
	var in services.IngestInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	res, err := h.ingest.Ingest(dbctx.New(c.Request.Context()), in)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, res)
}
