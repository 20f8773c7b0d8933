package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/classifier"
	lineagerepo "github.com/semops/semops-backend/internal/data/repos/lineage"
	taxrepo "github.com/semops/semops-backend/internal/data/repos/taxonomy"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/logger"
	"github.com/semops/semops-backend/internal/services"
	"github.com/semops/semops-backend/internal/utils"
)

const (
	claimInterval     = 1 * time.Second
	heartbeatInterval = 15 * time.Second
	maxAttempts       = 5
	retryDelay        = 30 * time.Second
	staleRunning      = 30 * time.Minute
)

// AuditWorker claims audit runs off the ingestion_run table and re-scores
// every active and stable pattern: full-depth classification followed by a
// retrospective coherence pass. Regressions route through the governance
// service's self-correcting path. A scheduler goroutine enqueues one audit
// run per interval when none is waiting.
type AuditWorker struct {
	log        *logger.Logger
	runs       lineagerepo.IngestionRunRepo
	patterns   taxrepo.PatternRepo
	classify   services.ClassifyService
	governance services.GovernanceService
	rec        *lineage.Recorder
}

func NewAuditWorker(
	baseLog *logger.Logger,
	runs lineagerepo.IngestionRunRepo,
	patterns taxrepo.PatternRepo,
	classify services.ClassifyService,
	governance services.GovernanceService,
	rec *lineage.Recorder,
) *AuditWorker {
	return &AuditWorker{
		log:        baseLog.With("component", "AuditWorker"),
		runs:       runs,
		patterns:   patterns,
		classify:   classify,
		governance: governance,
		rec:        rec,
	}
}

func (w *AuditWorker) Start(ctx context.Context) {
	concurrency := utils.GetEnvAsInt("AUDIT_WORKER_CONCURRENCY", 1, w.log)
	if concurrency < 1 {
		concurrency = 1
	}
	interval := time.Duration(utils.GetEnvAsInt("AUDIT_INTERVAL_MINUTES", 60, w.log)) * time.Minute

	w.log.Info("Starting audit worker", "concurrency", concurrency, "interval", interval)
	go w.scheduleLoop(ctx, interval)
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		go w.claimLoop(ctx, workerID)
	}
}

// scheduleLoop enqueues a pending audit run per interval. Claiming is what
// actually serializes execution, so a surplus pending row is harmless.
func (w *AuditWorker) scheduleLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run := &types.IngestionRun{
				ID:      uuid.New(),
				RunType: types.RunTypeScheduled,
				JobType: types.JobTypeAudit,
				Status:  types.RunStatusPending,
			}
			if _, err := w.runs.Create(dbctx.New(ctx), []*types.IngestionRun{run}); err != nil {
				w.log.Warn("audit run enqueue failed", "error", err)
			}
		}
	}
}

func (w *AuditWorker) claimLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Audit worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			dbc := dbctx.New(ctx)
			run, err := w.runs.ClaimNextRunnable(dbc, types.JobTypeAudit, maxAttempts, retryDelay, staleRunning)
			if err != nil {
				w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
				continue
			}
			if run == nil {
				continue
			}
			w.process(ctx, run, workerID)
		}
	}
}

func (w *AuditWorker) process(ctx context.Context, run *types.IngestionRun, workerID int) {
	scope, runCtx := w.rec.AttachRun(dbctx.New(ctx), w.runs, run)
	dbc := dbctx.New(runCtx)

	stopHeartbeat := w.startHeartbeat(runCtx, run.ID)
	defer stopHeartbeat()

	var metrics types.RunMetrics
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("audit run panic", "worker_id", workerID, "run_id", run.ID, "panic", r)
			metrics.Errors++
			if err := scope.Fail(dbctx.New(ctx), &panicError{val: r}, metrics); err != nil {
				w.log.Error("audit run finalize failed", "run_id", run.ID, "error", err)
			}
		}
	}()

	patterns, err := w.patterns.GetByStages(dbc, []string{types.StageActive, types.StageStable})
	if err != nil {
		if ferr := scope.Fail(dbc, err, metrics); ferr != nil {
			w.log.Error("audit run finalize failed", "run_id", run.ID, "error", ferr)
		}
		return
	}

	for _, p := range patterns {
		if ctx.Err() != nil {
			break
		}
		if status, serr := w.runs.GetStatus(dbc, run.ID); serr == nil && status == types.RunStatusCancelled {
			w.log.Info("audit run cancelled, stopping", "run_id", run.ID)
			return
		}

		eps, cerr := w.classify.Classify(dbc, p.ID, classifier.DepthFull)
		metrics.EpisodesWritten += len(eps)
		if cerr != nil {
			metrics.Errors++
			w.log.Warn("audit classification failed", "run_id", run.ID, "pattern_id", p.ID, "error", cerr)
			continue
		}

		res, serr := w.governance.ScoreCoherence(dbc, p.ID, "retrospective")
		if serr != nil {
			metrics.Errors++
			w.log.Warn("audit scoring failed", "run_id", run.ID, "pattern_id", p.ID, "error", serr)
			continue
		}
		metrics.EpisodesWritten++
		if res.Regression {
			w.log.Warn("audit found regression", "run_id", run.ID, "pattern_id", p.ID, "score", res.Score)
		}
	}

	if err := scope.Complete(dbc, metrics); err != nil {
		w.log.Error("audit run finalize failed", "run_id", run.ID, "error", err)
	}
}

func (w *AuditWorker) startHeartbeat(ctx context.Context, runID uuid.UUID) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.runs.Heartbeat(dbctx.New(hbCtx), runID); err != nil {
					w.log.Warn("heartbeat failed", "run_id", runID, "error", err)
				}
			}
		}
	}()
	return cancel
}

type panicError struct{ val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.val) }
