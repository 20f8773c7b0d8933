package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/clients/redis"
	lineagerepo "github.com/semops/semops-backend/internal/data/repos/lineage"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

// Mode controls how much provenance each episode carries.
type Mode string

const (
	ModeFull    Mode = "full"
	ModeMinimal Mode = "minimal"
	ModeOff     Mode = "off"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeFull, ModeMinimal, ModeOff:
		return Mode(raw), nil
	case "":
		return ModeFull, nil
	default:
		return "", fmt.Errorf("unknown provenance mode %q", raw)
	}
}

type runIDKey struct{}

// WithRunID stamps the active ingestion run onto the context so episodes
// recorded inside a RunScope pick it up automatically.
func WithRunID(ctx context.Context, runID uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

func RunIDFrom(ctx context.Context) *uuid.UUID {
	if ctx == nil {
		return nil
	}
	if id, ok := ctx.Value(runIDKey{}).(uuid.UUID); ok && id != uuid.Nil {
		return &id
	}
	return nil
}

// Recorder is the single write path for episodes. Every mutating operation
// runs inside Record so that exactly one episode lands for it no matter how
// the operation exits.
type Recorder struct {
	mode     Mode
	episodes lineagerepo.EpisodeRepo
	bus      redis.EventBus
	log      *logger.Logger
}

func NewRecorder(log *logger.Logger, mode Mode, episodes lineagerepo.EpisodeRepo, bus redis.EventBus) *Recorder {
	return &Recorder{
		mode:     mode,
		episodes: episodes,
		bus:      bus,
		log:      log.With("service", "Recorder"),
	}
}

func (r *Recorder) Mode() Mode { return r.mode }

// Record runs fn with a mutable episode draft and persists the episode on
// every exit path: fn success, fn error (ErrorMessage stamped, error
// returned), and fn panic (episode persisted, panic re-raised). The caller
// seeds Operation/TargetType/TargetID on the draft; fn fills in scores,
// labels, confidence, and the rest as the operation proceeds.
func (r *Recorder) Record(dbc dbctx.Context, draft *types.Episode, fn func(ep *types.Episode) error) (ep *types.Episode, err error) {
	if draft == nil {
		return nil, fmt.Errorf("episode draft required")
	}
	if draft.Operation == "" || draft.TargetType == "" || draft.TargetID == "" {
		return nil, fmt.Errorf("episode draft missing operation or target")
	}
	if draft.RunID == nil {
		draft.RunID = RunIDFrom(dbc.Ctx)
	}

	defer func() {
		if rec := recover(); rec != nil {
			draft.ErrorMessage = fmt.Sprintf("panic: %v", rec)
			r.persist(dbc, draft)
			panic(rec)
		}
	}()

	fnErr := fn(draft)
	if fnErr != nil && draft.ErrorMessage == "" {
		draft.ErrorMessage = fnErr.Error()
	}
	r.persist(dbc, draft)
	return draft, fnErr
}

func (r *Recorder) persist(dbc dbctx.Context, ep *types.Episode) {
	switch r.mode {
	case ModeOff:
		// Callers still get a usable id for symmetry; nothing is stored.
		if ep.ID == uuid.Nil {
			ep.ID = uuid.New()
		}
		return
	case ModeMinimal:
		ep.ContextPatternIDs = nil
		ep.ContextArtifactIDs = nil
		ep.TokenUsage = nil
	}

	if _, err := r.episodes.Create(dbc, []*types.Episode{ep}); err != nil {
		// The episode log must never turn a committed mutation into a
		// failure after the fact, so persistence errors are logged loudly
		// and swallowed.
		r.log.Error("episode persist failed",
			"operation", ep.Operation,
			"target_type", ep.TargetType,
			"target_id", ep.TargetID,
			"error", err,
		)
		return
	}
	r.publish(dbc.Ctx, ep)
}

func (r *Recorder) publish(ctx context.Context, ep *types.Episode) {
	if r.bus == nil {
		return
	}
	outcome := "ok"
	if ep.ErrorMessage != "" {
		outcome = "error"
	} else if ep.Degraded {
		outcome = "degraded"
	}
	evt := redis.EpisodeEvent{
		EpisodeID:  ep.ID.String(),
		Op:         ep.Operation,
		Stage:      ep.Stage,
		TargetType: ep.TargetType,
		TargetID:   ep.TargetID,
		Outcome:    outcome,
		Flag:       ep.Flag,
		Score:      ep.CoherenceScore,
		At:         time.Now().UTC().Format(time.RFC3339Nano),
	}
	if ep.RunID != nil {
		evt.RunID = ep.RunID.String()
	}
	if err := r.bus.Publish(ctx, evt); err != nil {
		r.log.Warn("episode event publish failed", "episode_id", ep.ID, "error", err)
	}
}

// RunScope brackets a batch execution: it owns the IngestionRun row and
// stamps the run id onto every episode recorded within it.
type RunScope struct {
	Run  *types.IngestionRun
	runs lineagerepo.IngestionRunRepo
	log  *logger.Logger
}

func (r *Recorder) StartRun(dbc dbctx.Context, runs lineagerepo.IngestionRunRepo, run *types.IngestionRun) (*RunScope, context.Context, error) {
	if run == nil {
		return nil, dbc.Ctx, fmt.Errorf("run required")
	}
	now := time.Now()
	run.Status = types.RunStatusRunning
	run.StartedAt = &now
	if _, err := runs.Create(dbc, []*types.IngestionRun{run}); err != nil {
		return nil, dbc.Ctx, fmt.Errorf("start run: %w", err)
	}
	scope := &RunScope{Run: run, runs: runs, log: r.log.With("run_id", run.ID)}
	return scope, WithRunID(dbc.Ctx, run.ID), nil
}

// AttachRun wraps an already-claimed run (the audit worker path) without
// re-creating the row.
func (r *Recorder) AttachRun(dbc dbctx.Context, runs lineagerepo.IngestionRunRepo, run *types.IngestionRun) (*RunScope, context.Context) {
	scope := &RunScope{Run: run, runs: runs, log: r.log.With("run_id", run.ID)}
	return scope, WithRunID(dbc.Ctx, run.ID)
}

func (s *RunScope) Complete(dbc dbctx.Context, metrics types.RunMetrics) error {
	return s.finish(dbc, types.RunStatusCompleted, "", metrics)
}

func (s *RunScope) Fail(dbc dbctx.Context, cause error, metrics types.RunMetrics) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.finish(dbc, types.RunStatusFailed, msg, metrics)
}

// Cancel marks the run cancelled. Episodes already committed under the run
// stay; cancellation only stops further scheduling.
func (s *RunScope) Cancel(dbc dbctx.Context, metrics types.RunMetrics) error {
	return s.finish(dbc, types.RunStatusCancelled, "", metrics)
}

func (s *RunScope) finish(dbc dbctx.Context, status, errMsg string, metrics types.RunMetrics) error {
	if s == nil || s.Run == nil {
		return fmt.Errorf("run scope not started")
	}
	raw, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal run metrics: %w", err)
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":       status,
		"metrics":      raw,
		"completed_at": now,
		"updated_at":   now,
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	// A cancelled run stays cancelled even if a straggling worker tries to
	// complete it afterwards.
	updated, err := s.runs.UpdateFieldsUnlessStatus(dbc, s.Run.ID, []string{types.RunStatusCancelled}, updates)
	if err != nil {
		return err
	}
	if !updated {
		s.log.Warn("run already finalized, skipping status update", "wanted_status", status)
		return nil
	}
	s.Run.Status = status
	s.Run.CompletedAt = &now
	return nil
}
