package app

import (
	"github.com/semops/semops-backend/internal/classifier"
	"github.com/semops/semops-backend/internal/coherence"
	"github.com/semops/semops-backend/internal/graphstore"
	"github.com/semops/semops-backend/internal/jobs"
	"github.com/semops/semops-backend/internal/lifecycle"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/logger"
	"github.com/semops/semops-backend/internal/services"
)

type Services struct {
	Recorder *lineage.Recorder
	Graph    *graphstore.Store
	Pipeline *classifier.Pipeline
	Scorer   *coherence.Scorer
	Governor *lifecycle.Governor

	Ingest     services.IngestService
	Classify   services.ClassifyService
	Governance services.GovernanceService
	Runs       services.RunService

	AuditWorker *jobs.AuditWorker
}

func wireServices(log *logger.Logger, cfg Config, clients Clients, repos Repos) Services {
	log.Info("Wiring services...")

	rec := lineage.NewRecorder(log, cfg.LineageMode, repos.Episode, clients.Events)
	graph := graphstore.NewStore(log, repos.Pattern, repos.PatternEdge, rec, clients.Neo4j, clients.Vector)

	pipeline := classifier.NewPipeline(log, rec, cfg.Pipeline,
		classifier.NewRulesStage(log, repos.PatternEdge),
		classifier.NewEmbeddingStage(log, clients.AI, clients.Vector, repos.Pattern, rec, cfg.Embedding),
		classifier.NewGenerativeStage(log, clients.AI, repos.Pattern),
		classifier.NewStructuralStage(log, graph),
	)

	scorer := coherence.NewScorer(log, cfg.Coherence, repos.Episode, repos.Pattern, repos.Artifact, graph, rec)
	governor := lifecycle.NewGovernor(log, cfg.Governance, repos.Pattern, repos.Artifact, repos.Episode, repos.ApprovalGrant, rec)
	// Applied transitions push the new stage back into the Neo4j node and
	// the vector payload; wired after construction to keep the dependency
	// one-way.
	governor.SetStageMirror(graph)

	classify := services.NewClassifyService(log, pipeline, repos.Pattern, repos.Artifact)
	// The governor calls back into classification on a first regression.
	governor.SetReclassifier(classify)

	governance := services.NewGovernanceService(log, governor, scorer)
	ingest := services.NewIngestService(log, repos.Artifact, repos.Pattern, rec)
	runs := services.NewRunService(log, repos.IngestionRun, repos.Episode, rec, classify)

	worker := jobs.NewAuditWorker(log, repos.IngestionRun, repos.Pattern, classify, governance, rec)

	return Services{
		Recorder: rec,
		Graph:    graph,
		Pipeline: pipeline,
		Scorer:   scorer,
		Governor: governor,

		Ingest:     ingest,
		Classify:   classify,
		Governance: governance,
		Runs:       runs,

		AuditWorker: worker,
	}
}
