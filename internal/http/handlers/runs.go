package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/classifier"
	lineagerepo "github.com/semops/semops-backend/internal/data/repos/lineage"
	"github.com/semops/semops-backend/internal/http/response"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/services"

	types "github.com/semops/semops-backend/internal/domain"
)

type RunHandler struct {
	runs     services.RunService
	episodes lineagerepo.EpisodeRepo
}

func NewRunHandler(runs services.RunService, episodes lineagerepo.EpisodeRepo) *RunHandler {
	return &RunHandler{runs: runs, episodes: episodes}
}

type startBatchRequest struct {
	TargetIDs   []uuid.UUID `json:"target_ids"`
	Depth       string      `json:"depth"`
	Concurrency int         `json:"concurrency"`
	SourceName  string      `json:"source_name"`
}

// POST /api/runs/ingest
func (h *RunHandler) StartBatch(c *gin.Context) {
	var req startBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	opts := services.BatchOptions{
		Concurrency: req.Concurrency,
		SourceName:  req.SourceName,
	}
	if req.Depth != "" {
		depth, err := classifier.ParseDepth(req.Depth)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_depth", err)
			return
		}
		opts.Depth = depth
	}
	run, err := h.runs.StartClassifyBatch(dbctx.New(c.Request.Context()), req.TargetIDs, opts)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"run": run})
}

// GET /api/runs/:id
func (h *RunHandler) GetRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	dbc := dbctx.New(c.Request.Context())
	run, err := h.runs.Get(dbc, runID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	episodes, err := h.runs.Episodes(dbc, runID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"run": run, "episodes": episodes})
}

// POST /api/runs/:id/cancel
func (h *RunHandler) CancelRun(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_run_id", err)
		return
	}
	if err := h.runs.Cancel(dbctx.New(c.Request.Context()), runID); err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"cancelled": true})
}

// GET /api/episodes?target_id=&target_type=&limit=
func (h *RunHandler) ListEpisodes(c *gin.Context) {
	targetID := c.Query("target_id")
	if targetID == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_target_id", errMissingTargetID)
		return
	}
	targetType := c.DefaultQuery("target_type", types.TargetPattern)
	limit := 50

	episodes, err := h.episodes.GetRecentByTarget(dbctx.New(c.Request.Context()), targetType, targetID, limit)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"episodes": episodes})
}
