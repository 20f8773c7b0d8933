package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/semops/semops-backend/internal/graphstore"
	"github.com/semops/semops-backend/internal/http/response"
	"github.com/semops/semops-backend/internal/pkg/dbctx"

	types "github.com/semops/semops-backend/internal/domain"
)

// TaxonomyHandler exposes pattern registration, edge proposals, and
// neighborhood queries over the graph store.
type TaxonomyHandler struct {
	graph *graphstore.Store
}

func NewTaxonomyHandler(graph *graphstore.Store) *TaxonomyHandler {
	return &TaxonomyHandler{graph: graph}
}

type registerPatternRequest struct {
	Slug        string                 `json:"slug"`
	Label       string                 `json:"label"`
	Definition  string                 `json:"definition"`
	PatternType string                 `json:"pattern_type"`
	Provenance  string                 `json:"provenance"`
	Metadata    map[string]interface{} `json:"metadata"`
	Embedding   []float32              `json:"embedding"`
}

// POST /api/patterns
func (h *TaxonomyHandler) RegisterPattern(c *gin.Context) {
	var req registerPatternRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	p := &types.Pattern{
		Slug:        req.Slug,
		Label:       req.Label,
		Definition:  req.Definition,
		PatternType: req.PatternType,
		Provenance:  req.Provenance,
	}
	if len(req.Metadata) > 0 {
		raw, err := jsonMarshal(req.Metadata)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_metadata", err)
			return
		}
		p.Metadata = raw
	}

	saved, err := h.graph.UpsertPattern(dbctx.New(c.Request.Context()), p, req.Embedding)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"pattern": saved})
}

type proposeEdgeRequest struct {
	SrcPatternID uuid.UUID              `json:"src_pattern_id"`
	DstPatternID uuid.UUID              `json:"dst_pattern_id"`
	Predicate    string                 `json:"predicate"`
	Strength     float64                `json:"strength"`
	Evidence     map[string]interface{} `json:"evidence"`
}

// POST /api/edges
func (h *TaxonomyHandler) ProposeEdge(c *gin.Context) {
	var req proposeEdgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}

	var evidence datatypes.JSON
	if len(req.Evidence) > 0 {
		raw, err := jsonMarshal(req.Evidence)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_evidence", err)
			return
		}
		evidence = raw
	}

	edge, err := h.graph.UpsertEdge(dbctx.New(c.Request.Context()), req.SrcPatternID, req.DstPatternID, req.Predicate, req.Strength, evidence)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"edge": edge})
}

// GET /api/patterns/:id/neighbors
func (h *TaxonomyHandler) Neighbors(c *gin.Context) {
	patternID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_pattern_id", err)
		return
	}
	patterns, edges, err := h.graph.QueryNeighbors(dbctx.New(c.Request.Context()), patternID)
	if err != nil {
		response.RespondFromError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"patterns": patterns, "edges": edges})
}
