package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/semops/semops-backend/internal/classifier"
	lineagerepo "github.com/semops/semops-backend/internal/data/repos/lineage"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

const defaultBatchConcurrency = 4

// BatchOptions tunes one batch classification run.
type BatchOptions struct {
	Concurrency int
	Depth       classifier.Depth
	SourceName  string
	AgentName   string
}

// RunService starts and manages batch runs. A run executes in the
// background; callers poll Get or watch the episode stream. Cancelling
// stops scheduling further targets but never rolls back committed
// episodes.
type RunService interface {
	StartClassifyBatch(dbc dbctx.Context, targetIDs []uuid.UUID, opts BatchOptions) (*types.IngestionRun, error)
	Cancel(dbc dbctx.Context, runID uuid.UUID) error
	Get(dbc dbctx.Context, runID uuid.UUID) (*types.IngestionRun, error)
	Episodes(dbc dbctx.Context, runID uuid.UUID) ([]*types.Episode, error)
}

type runService struct {
	log      *logger.Logger
	runs     lineagerepo.IngestionRunRepo
	episodes lineagerepo.EpisodeRepo
	rec      *lineage.Recorder
	classify ClassifyService
}

func NewRunService(
	baseLog *logger.Logger,
	runs lineagerepo.IngestionRunRepo,
	episodes lineagerepo.EpisodeRepo,
	rec *lineage.Recorder,
	classify ClassifyService,
) RunService {
	return &runService{
		log:      baseLog.With("service", "RunService"),
		runs:     runs,
		episodes: episodes,
		rec:      rec,
		classify: classify,
	}
}

func (s *runService) StartClassifyBatch(dbc dbctx.Context, targetIDs []uuid.UUID, opts BatchOptions) (*types.IngestionRun, error) {
	if len(targetIDs) == 0 {
		return nil, errs.Validation("target_ids", "at least one target required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultBatchConcurrency
	}
	if opts.Depth == 0 {
		opts.Depth = classifier.DepthFull
	}

	payload, err := json.Marshal(map[string]interface{}{"target_ids": targetIDs})
	if err != nil {
		return nil, fmt.Errorf("marshal run payload: %w", err)
	}
	run := &types.IngestionRun{
		ID:         uuid.New(),
		RunType:    types.RunTypeManual,
		JobType:    types.JobTypeIngestBatch,
		SourceName: opts.SourceName,
		AgentName:  opts.AgentName,
		Payload:    payload,
	}

	scope, _, err := s.rec.StartRun(dbc, s.runs, run)
	if err != nil {
		return nil, err
	}

	// The executor outlives the request; give it its own context carrying
	// only the run id.
	bg := lineage.WithRunID(context.Background(), run.ID)
	go s.execute(dbctx.New(bg), scope, targetIDs, opts)

	return run, nil
}

func (s *runService) execute(dbc dbctx.Context, scope *lineage.RunScope, targetIDs []uuid.UUID, opts BatchOptions) {
	var (
		mu      sync.Mutex
		metrics types.RunMetrics
	)

	g, gctx := errgroup.WithContext(dbc.Ctx)
	g.SetLimit(opts.Concurrency)

	for _, id := range targetIDs {
		id := id
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			status, serr := s.runs.GetStatus(dbc, scope.Run.ID)
			if serr == nil && status == types.RunStatusCancelled {
				return nil
			}

			eps, cerr := s.classify.Classify(dbctx.New(gctx), id, opts.Depth)
			mu.Lock()
			defer mu.Unlock()
			metrics.EpisodesWritten += len(eps)
			if cerr != nil {
				metrics.Errors++
				s.log.Warn("batch target failed", "run_id", scope.Run.ID, "target_id", id, "error", cerr)
			}
			return nil
		})
	}

	waitErr := g.Wait()

	finishDbc := dbctx.New(lineage.WithRunID(context.Background(), scope.Run.ID))
	if waitErr != nil {
		if ferr := scope.Fail(finishDbc, waitErr, metrics); ferr != nil {
			s.log.Error("run finalize failed", "run_id", scope.Run.ID, "error", ferr)
		}
		return
	}
	if ferr := scope.Complete(finishDbc, metrics); ferr != nil {
		s.log.Error("run finalize failed", "run_id", scope.Run.ID, "error", ferr)
	}
}

// Cancel flips the run to cancelled unless it already reached a terminal
// state. In-flight targets finish; nothing new is scheduled.
func (s *runService) Cancel(dbc dbctx.Context, runID uuid.UUID) error {
	run, err := s.runs.GetByID(dbc, runID)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("run %s: %w", runID, errs.ErrNotFound)
	}
	now := time.Now()
	updated, err := s.runs.UpdateFieldsUnlessStatus(dbc, runID,
		[]string{types.RunStatusCompleted, types.RunStatusFailed, types.RunStatusCancelled},
		map[string]interface{}{
			"status":       types.RunStatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		})
	if err != nil {
		return err
	}
	if !updated {
		return errs.Governance(runID.String(), "run already finished")
	}
	s.log.Info("run cancelled", "run_id", runID)
	return nil
}

func (s *runService) Get(dbc dbctx.Context, runID uuid.UUID) (*types.IngestionRun, error) {
	run, err := s.runs.GetByID(dbc, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s: %w", runID, errs.ErrNotFound)
	}
	return run, nil
}

func (s *runService) Episodes(dbc dbctx.Context, runID uuid.UUID) ([]*types.Episode, error) {
	return s.episodes.GetByRunID(dbc, runID)
}
