package classifier

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/httpx"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

// Config tunes pipeline orchestration.
type Config struct {
	// EscalationConfidence: a stage reporting confidence below this pulls
	// in the later stages even when the caller asked for a shallower pass.
	EscalationConfidence float64
	MaxAttempts          int
	RetryBaseDelay       time.Duration
}

func DefaultConfig() Config {
	return Config{
		EscalationConfidence: 0.7,
		MaxAttempts:          3,
		RetryBaseDelay:       500 * time.Millisecond,
	}
}

// Pipeline runs the four classifier tiers in increasing-cost order. Each
// stage persists its own episode before the next runs; a stopped or
// partially degraded pass is a valid end state.
type Pipeline struct {
	log    *logger.Logger
	rec    *lineage.Recorder
	stages []Stage
	cfg    Config
}

func NewPipeline(log *logger.Logger, rec *lineage.Recorder, cfg Config, stages ...Stage) *Pipeline {
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Pipeline{
		log:    log.With("service", "ClassifierPipeline"),
		rec:    rec,
		stages: stages,
		cfg:    cfg,
	}
}

// Run classifies one target down to the requested depth and returns the
// stage episodes in execution order.
func (p *Pipeline) Run(dbc dbctx.Context, in Input, depth Depth) ([]*types.Episode, error) {
	if in.TargetType == "" || in.TargetID == "" {
		return nil, errs.Validation("target", "target type and id are required")
	}
	if in.Prior == nil {
		in.Prior = map[string]*StageResult{}
	}

	var episodes []*types.Episode
	escalate := depth >= DepthFull

	for i, stage := range p.stages {
		if err := dbc.Ctx.Err(); err != nil {
			// Cancellation mid-run leaves earlier episodes committed.
			p.log.Info("classification cancelled, keeping partial results",
				"target_id", in.TargetID, "completed_stages", len(episodes))
			return episodes, nil
		}
		if !p.shouldRun(i, depth, escalate) {
			break
		}

		result, ep, err := p.runStage(dbc, stage, in)
		if ep != nil {
			episodes = append(episodes, ep)
		}
		if err != nil {
			if errs.IsValidation(err) {
				// Deterministic rejection: later stages cannot help.
				return episodes, err
			}
			return episodes, err
		}
		in.Prior[stage.Name()] = result
		if !result.Degraded && result.Confidence < p.cfg.EscalationConfidence {
			escalate = true
		}
	}
	return episodes, nil
}

// shouldRun applies the depth cutoff: stages 0-1 follow the requested
// depth, stages 2-3 require full depth or an escalation trigger.
func (p *Pipeline) shouldRun(index int, depth Depth, escalate bool) bool {
	switch index {
	case 0:
		return true
	case 1:
		return depth >= DepthEmbedding || escalate
	default:
		return escalate
	}
}

// runStage executes one stage with transient-error retry and records its
// episode. After MaxAttempts transient failures the stage degrades: the
// episode carries null scores, degraded=true, and the pipeline moves on.
func (p *Pipeline) runStage(dbc dbctx.Context, stage Stage, in Input) (*StageResult, *types.Episode, error) {
	draft := &types.Episode{
		Operation:  types.OpClassify,
		TargetType: in.TargetType,
		TargetID:   in.TargetID,
		Stage:      stage.Name(),
	}

	var result *StageResult
	ep, recErr := p.rec.Record(dbc, draft, func(ep *types.Episode) error {
		var lastErr error
		for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
			if attempt > 0 {
				delay := p.cfg.RetryBaseDelay << (attempt - 1)
				select {
				case <-dbc.Ctx.Done():
					return dbc.Ctx.Err()
				case <-time.After(httpx.JitterSleep(delay)):
				}
			}
			out, err := stage.Classify(dbc, in)
			if err == nil {
				result = out
				p.applyResult(ep, out)
				return nil
			}
			lastErr = err
			if !errs.IsTransient(err) {
				return err
			}
			p.log.Warn("stage attempt failed",
				"stage", stage.Name(), "target_id", in.TargetID,
				"attempt", attempt+1, "error", err)
		}

		// Degrade rather than fail the whole pass.
		result = &StageResult{Degraded: true}
		ep.Degraded = true
		ep.ErrorMessage = lastErr.Error()
		ep.Rationale = fmt.Sprintf("degraded after %d attempts", p.cfg.MaxAttempts)
		return nil
	})
	if recErr != nil {
		return nil, ep, recErr
	}
	return result, ep, nil
}

func (p *Pipeline) applyResult(ep *types.Episode, out *StageResult) {
	ep.Scores = marshalJSON(out.Scores)
	ep.Labels = marshalJSON(out.Labels)
	ep.DetectedEdges = marshalJSON(out.DetectedEdges)
	ep.ContextPatternIDs = marshalJSON(out.ContextPatternIDs)
	ep.TokenUsage = marshalJSON(out.TokenUsage)
	ep.InputHash = out.InputHash
	ep.Rationale = out.Rationale
	ep.ModelName = out.ModelName
	ep.PromptHash = out.PromptHash
	ep.Degraded = out.Degraded
	if !out.Degraded {
		conf := out.Confidence
		ep.Confidence = &conf
	}
}

func marshalJSON(v any) datatypes.JSON {
	switch typed := v.(type) {
	case map[string]float64:
		if len(typed) == 0 {
			return nil
		}
	case map[string]any:
		if len(typed) == 0 {
			return nil
		}
	case []types.DetectedEdge:
		if len(typed) == 0 {
			return nil
		}
	case []string:
		if len(typed) == 0 {
			return nil
		}
	case nil:
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
