package app

import (
	httpH "github.com/semops/semops-backend/internal/http/handlers"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

type Handlers struct {
	Health     *httpH.HealthHandler
	Taxonomy   *httpH.TaxonomyHandler
	Ingest     *httpH.IngestHandler
	Classify   *httpH.ClassifyHandler
	Governance *httpH.GovernanceHandler
	Runs       *httpH.RunHandler
}

func wireHandlers(log *logger.Logger, services Services, repos Repos) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:     httpH.NewHealthHandler(),
		Taxonomy:   httpH.NewTaxonomyHandler(services.Graph),
		Ingest:     httpH.NewIngestHandler(services.Ingest),
		Classify:   httpH.NewClassifyHandler(services.Classify),
		Governance: httpH.NewGovernanceHandler(services.Governance),
		Runs:       httpH.NewRunHandler(services.Runs, repos.Episode),
	}
}
