package app

import (
	internalhttp "github.com/semops/semops-backend/internal/http"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

func wireRouter(log *logger.Logger, cfg Config, handlers Handlers, middleware Middleware) *internalhttp.Server {
	return internalhttp.NewServer(internalhttp.RouterConfig{
		Log:            log,
		AuthMiddleware: middleware.Auth,
		AllowedOrigins: cfg.AllowedOrigins,

		HealthHandler:     handlers.Health,
		TaxonomyHandler:   handlers.Taxonomy,
		IngestHandler:     handlers.Ingest,
		ClassifyHandler:   handlers.Classify,
		GovernanceHandler: handlers.Governance,
		RunHandler:        handlers.Runs,
	})
}
