package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/classifier"
	"github.com/semops/semops-backend/internal/http/response"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/services"
)

type ClassifyHandler struct {
	classify services.ClassifyService
}

func NewClassifyHandler(classify services.ClassifyService) *ClassifyHandler {
	return &ClassifyHandler{classify: classify}
}

type classifyRequest struct {
	TargetID uuid.UUID `json:"target_id"`
	Depth    string    `json:"depth"`
}

// POST /api/classify
func (h *ClassifyHandler) Classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	depth, err := classifier.ParseDepth(req.Depth)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_depth", err)
		return
	}

	episodes, err := h.classify.Classify(dbctx.New(c.Request.Context()), req.TargetID, depth)
	if err != nil {
		// Partial classification is a valid end state; the episodes that
		// did commit ride along with the error payload's sibling field.
		if len(episodes) > 0 {
			response.RespondOK(c, gin.H{"episodes": episodes, "partial": true, "error": err.Error()})
			return
		}
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"episodes": episodes})
}
