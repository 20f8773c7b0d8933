package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/http/response"
	"github.com/semops/semops-backend/internal/pkg/ctxutil"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/services"
)

// GovernanceHandler exposes coherence scoring and lifecycle transitions.
// The approval endpoint expects an authenticated subject in the request
// context.
type GovernanceHandler struct {
	governance services.GovernanceService
}

func NewGovernanceHandler(governance services.GovernanceService) *GovernanceHandler {
	return &GovernanceHandler{governance: governance}
}

// GET /api/coherence/:target_id?mode=
func (h *GovernanceHandler) Coherence(c *gin.Context) {
	targetID, err := uuid.Parse(c.Param("target_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_target_id", err)
		return
	}
	res, err := h.governance.ScoreCoherence(dbctx.New(c.Request.Context()), targetID, c.Query("mode"))
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, res)
}

type proposeTransitionRequest struct {
	TargetID uuid.UUID `json:"target_id"`
	// TargetType defaults to pattern; artifacts move through the same
	// state machine.
	TargetType string `json:"target_type"`
	ToStage    string `json:"to_stage"`
	Visibility string `json:"visibility"`
}

// POST /api/transitions/propose
func (h *GovernanceHandler) ProposeTransition(c *gin.Context) {
	var req proposeTransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	res, err := h.governance.ProposeTransition(dbctx.New(c.Request.Context()), req.TargetType, req.TargetID, req.ToStage, req.Visibility)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, res)
}

// POST /api/transitions/:episode_id/approve
func (h *GovernanceHandler) ApproveTransition(c *gin.Context) {
	episodeID, err := uuid.Parse(c.Param("episode_id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_episode_id", err)
		return
	}
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.Subject == "" {
		response.RespondError(c, http.StatusForbidden, "forbidden", errors.New("approver subject missing"))
		return
	}
	res, err := h.governance.ApproveTransition(dbctx.New(c.Request.Context()), episodeID, rd.Subject)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, res)
}
