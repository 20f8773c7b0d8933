package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/semops/semops-backend/internal/http/handlers"
	httpMW "github.com/semops/semops-backend/internal/http/middleware"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	AuthMiddleware *httpMW.AuthMiddleware
	AllowedOrigins []string

	HealthHandler     *httpH.HealthHandler
	TaxonomyHandler   *httpH.TaxonomyHandler
	IngestHandler     *httpH.IngestHandler
	ClassifyHandler   *httpH.ClassifyHandler
	GovernanceHandler *httpH.GovernanceHandler
	RunHandler        *httpH.RunHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.AttachRequestContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.TaxonomyHandler != nil {
			api.POST("/patterns", cfg.TaxonomyHandler.RegisterPattern)
			api.GET("/patterns/:id/neighbors", cfg.TaxonomyHandler.Neighbors)
			api.POST("/edges", cfg.TaxonomyHandler.ProposeEdge)
		}
		if cfg.IngestHandler != nil {
			api.POST("/artifacts/ingest", cfg.IngestHandler.Ingest)
		}
		if cfg.ClassifyHandler != nil {
			api.POST("/classify", cfg.ClassifyHandler.Classify)
		}
		if cfg.GovernanceHandler != nil {
			api.GET("/coherence/:target_id", cfg.GovernanceHandler.Coherence)
			api.POST("/transitions/propose", cfg.GovernanceHandler.ProposeTransition)
		}
		if cfg.RunHandler != nil {
			api.POST("/runs/ingest", cfg.RunHandler.StartBatch)
			api.GET("/runs/:id", cfg.RunHandler.GetRun)
			api.POST("/runs/:id/cancel", cfg.RunHandler.CancelRun)
			api.GET("/episodes", cfg.RunHandler.ListEpisodes)
		}
	}

	// Approvals attribute a grant to a JWT subject, so they sit behind
	// auth even when the rest of the surface is open.
	if cfg.GovernanceHandler != nil {
		approvals := api.Group("/")
		if cfg.AuthMiddleware != nil {
			approvals.Use(cfg.AuthMiddleware.RequireAuth())
		}
		approvals.POST("/transitions/:episode_id/approve", cfg.GovernanceHandler.ApproveTransition)
	}

	return r
}
