package lifecycle

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/classifier"
	"github.com/semops/semops-backend/internal/coherence"
	lineagerepo "github.com/semops/semops-backend/internal/data/repos/lineage"
	taxrepo "github.com/semops/semops-backend/internal/data/repos/taxonomy"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

// Visibility selects the governance path for a transition: internal
// transitions self-correct immediately, public ones are hard-gated behind
// an explicit approval.
type Visibility string

const (
	VisibilityInternal Visibility = "internal"
	VisibilityPublic   Visibility = "public"
)

func ParseVisibility(s string) (Visibility, error) {
	switch Visibility(s) {
	case VisibilityInternal, VisibilityPublic:
		return Visibility(s), nil
	case "":
		return VisibilityInternal, nil
	}
	return "", errs.Validation("visibility", fmt.Sprintf("unknown visibility %q", s))
}

// transitions is the closed set of legal stage moves. Everything else is a
// governance violation, including same-stage and backwards moves.
var transitions = map[string][]string{
	types.StageDraft:      {types.StageActive},
	types.StageActive:     {types.StageStable, types.StageDeprecated, types.StageArchived},
	types.StageStable:     {types.StageDeprecated, types.StageArchived},
	types.StageDeprecated: {types.StageArchived},
}

func transitionAllowed(from, to string) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// transitionNote is the jsonb payload kept on transition episodes so an
// approval can later replay exactly what was proposed.
type transitionNote struct {
	FromStage  string `json:"from_stage"`
	ToStage    string `json:"to_stage"`
	Visibility string `json:"visibility"`
	Applied    bool   `json:"applied"`
}

// Result reports what ProposeTransition did with a proposal.
type Result struct {
	Accepted         bool      `json:"accepted"`
	Applied          bool      `json:"applied"`
	RequiresApproval bool      `json:"requires_approval"`
	EpisodeID        uuid.UUID `json:"episode_id"`
}

// Reclassifier re-runs classification on a pattern. Satisfied by the
// classify service; kept as an interface so the governor does not depend
// on service wiring.
type Reclassifier interface {
	Reclassify(dbc dbctx.Context, patternID uuid.UUID) error
}

// StageMirror refreshes the secondary stores after a committed stage
// change. Satisfied by the graph store; optional, and a mirror failure
// must not undo the transition.
type StageMirror interface {
	MirrorStage(dbc dbctx.Context, targetType, targetID, stage string) error
}

// target resolves a transition subject to its current stage. Patterns and
// artifacts move through the same state machine; only stage storage and
// gate history differ per type.
type target struct {
	Type  string
	ID    uuid.UUID
	Stage string
}

type Config struct {
	// StableFloor is the minimum retrospective coherence for promotion to
	// stable, and the floor regressions are judged against.
	StableFloor float64
	// StableAudits is how many distinct audit episodes must clear the
	// floor before a pattern can go stable.
	StableAudits int
	// AuditWindow bounds how far back the promotion check looks.
	AuditWindow int
}

func DefaultConfig() Config {
	return Config{
		StableFloor:  0.70,
		StableAudits: 2,
		AuditWindow:  20,
	}
}

// Governor owns lifecycle stage transitions for patterns and artifacts.
// Every decision it makes lands in the episode log, including refusals.
type Governor struct {
	log       *logger.Logger
	cfg       Config
	patterns  taxrepo.PatternRepo
	artifacts taxrepo.ArtifactRepo
	episodes  lineagerepo.EpisodeRepo
	grants    lineagerepo.ApprovalGrantRepo
	rec       *lineage.Recorder
	reclass   Reclassifier
	mirror    StageMirror
}

func NewGovernor(
	log *logger.Logger,
	cfg Config,
	patterns taxrepo.PatternRepo,
	artifacts taxrepo.ArtifactRepo,
	episodes lineagerepo.EpisodeRepo,
	grants lineagerepo.ApprovalGrantRepo,
	rec *lineage.Recorder,
) *Governor {
	if cfg.StableAudits <= 0 {
		cfg = DefaultConfig()
	}
	return &Governor{
		log:       log.With("service", "LifecycleGovernor"),
		cfg:       cfg,
		patterns:  patterns,
		artifacts: artifacts,
		episodes:  episodes,
		grants:    grants,
		rec:       rec,
	}
}

// SetReclassifier wires the re-classification path after service
// construction. Optional; without it regressions fall back to a
// deprecation recommendation.
func (g *Governor) SetReclassifier(r Reclassifier) { g.reclass = r }

// SetStageMirror wires the secondary-store refresh after service
// construction. Optional; without it the mirrors go stale until the next
// upsert.
func (g *Governor) SetStageMirror(m StageMirror) { g.mirror = m }

// loadTarget resolves a transition subject by type. An empty type means
// pattern, the original surface of the API.
func (g *Governor) loadTarget(dbc dbctx.Context, targetType string, id uuid.UUID) (*target, error) {
	switch targetType {
	case "", types.TargetPattern:
		p, err := g.patterns.GetByID(dbc, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("pattern %s: %w", id, errs.ErrNotFound)
		}
		return &target{Type: types.TargetPattern, ID: p.ID, Stage: p.LifecycleStage}, nil
	case types.TargetArtifact:
		if g.artifacts == nil {
			return nil, errs.Validation("target_type", "artifact transitions are not wired")
		}
		a, err := g.artifacts.GetByID(dbc, id)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return nil, fmt.Errorf("artifact %s: %w", id, errs.ErrNotFound)
		}
		return &target{Type: types.TargetArtifact, ID: a.ID, Stage: a.LifecycleStage}, nil
	}
	return nil, errs.Validation("target_type", fmt.Sprintf("unknown target type %q", targetType))
}

func (g *Governor) setStage(dbc dbctx.Context, t *target, stage string) error {
	if t.Type == types.TargetArtifact {
		return g.artifacts.SetStage(dbc, t.ID, stage)
	}
	return g.patterns.SetStage(dbc, t.ID, stage)
}

// ProposeTransition validates and, depending on visibility, applies or
// stages a lifecycle transition for a pattern or an artifact. Internal
// transitions apply immediately; public ones record a pending episode and
// wait for ApproveTransition. Gate failures return a GovernanceViolation
// and change nothing.
func (g *Governor) ProposeTransition(dbc dbctx.Context, targetType string, targetID uuid.UUID, toStage string, visibility Visibility) (*Result, error) {
	t, err := g.loadTarget(dbc, targetType, targetID)
	if err != nil {
		return nil, err
	}
	if visibility == "" {
		visibility = VisibilityInternal
	}

	if !types.ValidStage(toStage) {
		return nil, errs.Governance(targetID.String(), fmt.Sprintf("unknown stage %q", toStage))
	}
	if !transitionAllowed(t.Stage, toStage) {
		return nil, errs.Governance(targetID.String(),
			fmt.Sprintf("transition %s -> %s is not allowed", t.Stage, toStage))
	}
	if err := g.checkGates(dbc, t, toStage); err != nil {
		return nil, err
	}

	if visibility == VisibilityPublic {
		return g.stagePending(dbc, t, toStage)
	}
	return g.apply(dbc, t, toStage, visibility, "")
}

// checkGates enforces the promotion preconditions. Demotions (deprecated,
// archived) are always shape-valid moves and carry no gates.
func (g *Governor) checkGates(dbc dbctx.Context, t *target, toStage string) error {
	switch toStage {
	case types.StageActive:
		return g.checkClassified(dbc, t)
	case types.StageStable:
		return g.checkAudited(dbc, t)
	}
	return nil
}

// checkClassified requires at least one completed, non-degraded rules and
// embedding classification on the target's own episode history before a
// draft can activate.
func (g *Governor) checkClassified(dbc dbctx.Context, t *target) error {
	for _, stage := range []string{classifier.StageRules, classifier.StageEmbedding} {
		eps, err := g.episodes.GetByTargetAndStage(dbc, t.Type, t.ID.String(), stage, 5)
		if err != nil {
			return err
		}
		ok := false
		for _, ep := range eps {
			if !ep.Degraded && len(ep.Scores) > 0 {
				ok = true
				break
			}
		}
		if !ok {
			return errs.Governance(t.ID.String(),
				fmt.Sprintf("activation requires a completed %s classification", stage))
		}
	}
	return nil
}

// checkAudited requires the retrospective coherence floor to have been
// cleared on at least StableAudits distinct audit episodes.
func (g *Governor) checkAudited(dbc dbctx.Context, t *target) error {
	eps, err := g.episodes.GetByTargetAndStage(dbc, t.Type, t.ID.String(), coherence.StageCoherence, g.cfg.AuditWindow)
	if err != nil {
		return err
	}
	cleared := 0
	for _, ep := range eps {
		if ep.CoherenceScore != nil && *ep.CoherenceScore >= g.cfg.StableFloor {
			cleared++
		}
	}
	if cleared < g.cfg.StableAudits {
		return errs.Governance(t.ID.String(),
			fmt.Sprintf("promotion to stable requires coherence >= %.2f on %d audits, have %d",
				g.cfg.StableFloor, g.cfg.StableAudits, cleared))
	}
	return nil
}

// stagePending records the hard-gated proposal without touching the
// target. The episode carries everything ApproveTransition needs.
func (g *Governor) stagePending(dbc dbctx.Context, t *target, toStage string) (*Result, error) {
	draft := &types.Episode{
		Operation:  types.OpTransitionStage,
		TargetType: t.Type,
		TargetID:   t.ID.String(),
	}
	ep, err := g.rec.Record(dbc, draft, func(ep *types.Episode) error {
		note, merr := json.Marshal(transitionNote{
			FromStage:  t.Stage,
			ToStage:    toStage,
			Visibility: string(VisibilityPublic),
		})
		if merr != nil {
			return merr
		}
		ep.Metadata = note
		ep.Flag = types.FlagPendingApproval
		ep.Rationale = fmt.Sprintf("public transition %s -> %s awaiting approval", t.Stage, toStage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Accepted: true, RequiresApproval: true, EpisodeID: ep.ID}, nil
}

func (g *Governor) apply(dbc dbctx.Context, t *target, toStage string, visibility Visibility, approvedEpisodeID string) (*Result, error) {
	fromStage := t.Stage
	draft := &types.Episode{
		Operation:  types.OpTransitionStage,
		TargetType: t.Type,
		TargetID:   t.ID.String(),
	}
	ep, err := g.rec.Record(dbc, draft, func(ep *types.Episode) error {
		if serr := g.setStage(dbc, t, toStage); serr != nil {
			return serr
		}
		note, merr := json.Marshal(transitionNote{
			FromStage:  fromStage,
			ToStage:    toStage,
			Visibility: string(visibility),
			Applied:    true,
		})
		if merr != nil {
			return merr
		}
		ep.Metadata = note
		ep.Rationale = fmt.Sprintf("transition %s -> %s applied", fromStage, toStage)
		if approvedEpisodeID != "" {
			ep.Rationale += " after approval of " + approvedEpisodeID
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Without the refresh the vector payload keeps the old stage and the
	// embedding stage filters on a lie. Best-effort: the relational row
	// already moved.
	if g.mirror != nil {
		if merr := g.mirror.MirrorStage(dbc, t.Type, t.ID.String(), toStage); merr != nil {
			g.log.Warn("stage mirror refresh failed",
				"target_type", t.Type,
				"target_id", t.ID,
				"error", merr,
			)
		}
	}

	g.log.Info("stage transition applied",
		"target_type", t.Type,
		"target_id", t.ID,
		"from", fromStage,
		"to", toStage,
	)
	return &Result{Accepted: true, Applied: true, EpisodeID: ep.ID}, nil
}

// ApproveTransition grants a pending public transition and applies it. The
// grant is written first so a crash between grant and apply leaves an
// auditable half-open state rather than an unexplained stage change.
func (g *Governor) ApproveTransition(dbc dbctx.Context, episodeID uuid.UUID, approverSubject string) (*Result, error) {
	if approverSubject == "" {
		return nil, errs.Validation("approver_subject", "required")
	}
	ep, err := g.episodes.GetByID(dbc, episodeID)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, fmt.Errorf("episode %s: %w", episodeID, errs.ErrNotFound)
	}
	if ep.Operation != types.OpTransitionStage || ep.Flag != types.FlagPendingApproval {
		return nil, errs.Governance(ep.TargetID, "episode is not a pending transition")
	}

	existing, err := g.grants.GetByEpisodeID(dbc, episodeID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errs.Governance(ep.TargetID, "transition already approved")
	}

	var note transitionNote
	if err := json.Unmarshal(ep.Metadata, &note); err != nil {
		return nil, fmt.Errorf("decode pending transition %s: %w", episodeID, err)
	}

	targetID, err := uuid.Parse(ep.TargetID)
	if err != nil {
		return nil, fmt.Errorf("pending transition %s has malformed target: %w", episodeID, err)
	}
	// The pending episode's own target type routes the approval.
	t, err := g.loadTarget(dbc, ep.TargetType, targetID)
	if err != nil {
		return nil, err
	}
	// The graph may have moved since the proposal; re-validate the shape
	// against the current stage instead of trusting the snapshot.
	if !transitionAllowed(t.Stage, note.ToStage) {
		return nil, errs.Governance(t.ID.String(),
			fmt.Sprintf("transition %s -> %s no longer allowed", t.Stage, note.ToStage))
	}

	if err := g.grants.Create(dbc, &types.ApprovalGrant{
		EpisodeID:       episodeID,
		ApproverSubject: approverSubject,
	}); err != nil {
		return nil, err
	}

	res, err := g.apply(dbc, t, note.ToStage, VisibilityPublic, episodeID.String())
	if err != nil {
		return nil, err
	}
	res.RequiresApproval = true
	return res, nil
}

// HandleRegression reacts to a regression-flagged coherence result. First
// offense triggers re-classification; a repeat offense, or a missing
// reclassifier, records a deprecation recommendation instead. Either way
// something lands in the log.
func (g *Governor) HandleRegression(dbc dbctx.Context, patternID uuid.UUID, result *coherence.Result) error {
	pattern, err := g.patterns.GetByID(dbc, patternID)
	if err != nil {
		return err
	}
	if pattern == nil {
		return fmt.Errorf("pattern %s: %w", patternID, errs.ErrNotFound)
	}

	repeat, err := g.priorRegressions(dbc, pattern)
	if err != nil {
		return err
	}

	if repeat < 2 && g.reclass != nil {
		g.log.Warn("coherence regression, re-classifying",
			"pattern_id", patternID,
			"score", result.Score,
		)
		return g.reclass.Reclassify(dbc, patternID)
	}

	_, err = g.rec.Record(dbc, &types.Episode{
		Operation:  types.OpTransitionStage,
		TargetType: types.TargetPattern,
		TargetID:   pattern.ID.String(),
	}, func(ep *types.Episode) error {
		ep.Flag = types.FlagDeprecationRecommended
		ep.Rationale = fmt.Sprintf(
			"repeated coherence regression (score %.3f, %d flagged audits); recommend deprecating %s",
			result.Score, repeat, pattern.Slug,
		)
		return nil
	})
	return err
}

// priorRegressions counts regression-flagged audit episodes in the recent
// window, the one just recorded included.
func (g *Governor) priorRegressions(dbc dbctx.Context, pattern *types.Pattern) (int, error) {
	eps, err := g.episodes.GetByTargetAndStage(dbc, types.TargetPattern, pattern.ID.String(), coherence.StageCoherence, g.cfg.AuditWindow)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, ep := range eps {
		if ep.Flag == types.FlagRegression {
			n++
		}
	}
	return n, nil
}
