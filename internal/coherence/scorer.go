package coherence

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/classifier"
	lineagerepo "github.com/semops/semops-backend/internal/data/repos/lineage"
	taxrepo "github.com/semops/semops-backend/internal/data/repos/taxonomy"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/graphstore"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

// StageCoherence tags the episodes the scorer writes; only these carry a
// non-null coherence score, so they are also the stability history.
const StageCoherence = "coherence-sc-v1"

// Mode selects how the score is interpreted, not how it is computed.
type Mode string

const (
	// ModeRetrospective re-scores an approved target against its baseline
	// and may flag a regression.
	ModeRetrospective Mode = "retrospective"
	// ModeProspective is advisory scoring of a draft; it never gates.
	ModeProspective Mode = "prospective"
)

func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case ModeRetrospective, ModeProspective:
		return Mode(raw), nil
	case "":
		return "", nil
	default:
		return "", fmt.Errorf("unknown coherence mode %q", raw)
	}
}

// Config tunes the stability window and regression detection.
type Config struct {
	// StabilityWindow is how many scored episodes feed the stability term.
	StabilityWindow int
	// HalfLife is the decay half-life in episodes: the most recent delta
	// weighs twice as much as one HalfLife episodes older.
	HalfLife float64
	// DeltaScale normalizes the weighted mean absolute delta; a sustained
	// swing of this size zeroes stability.
	DeltaScale float64
	// RegressionFloor is the retrospective score below which a stable
	// target is considered regressed.
	RegressionFloor float64
}

func DefaultConfig() Config {
	return Config{
		StabilityWindow: 20,
		HalfLife:        5,
		DeltaScale:      0.5,
		RegressionFloor: 0.70,
	}
}

// Result is one semantic-coherence computation.
type Result struct {
	Score        float64   `json:"score"`
	Availability float64   `json:"availability"`
	Consistency  float64   `json:"consistency"`
	Stability    float64   `json:"stability"`
	Mode         Mode      `json:"mode"`
	Regression   bool      `json:"regression"`
	Baseline     *float64  `json:"baseline,omitempty"`
	EpisodeID    uuid.UUID `json:"episode_id"`
}

// Scorer computes SC = (availability × consistency × stability)^(1/3) and
// records each computation as an episode. History is append-only: a changed
// score is a new episode, never a rewrite.
type Scorer struct {
	log       *logger.Logger
	cfg       Config
	episodes  lineagerepo.EpisodeRepo
	patterns  taxrepo.PatternRepo
	artifacts taxrepo.ArtifactRepo
	graph     *graphstore.Store
	rec       *lineage.Recorder
}

func NewScorer(
	log *logger.Logger,
	cfg Config,
	episodes lineagerepo.EpisodeRepo,
	patterns taxrepo.PatternRepo,
	artifacts taxrepo.ArtifactRepo,
	graph *graphstore.Store,
	rec *lineage.Recorder,
) *Scorer {
	if cfg.StabilityWindow <= 0 {
		cfg = DefaultConfig()
	}
	return &Scorer{
		log:       log.With("service", "CoherenceScorer"),
		cfg:       cfg,
		episodes:  episodes,
		patterns:  patterns,
		artifacts: artifacts,
		graph:     graph,
		rec:       rec,
	}
}

// Score computes and records the coherence of a pattern target. An empty
// mode defaults by lifecycle stage: retrospective for active|stable,
// prospective otherwise.
func (s *Scorer) Score(dbc dbctx.Context, patternID uuid.UUID, mode Mode) (*Result, error) {
	pattern, err := s.patterns.GetByID(dbc, patternID)
	if err != nil {
		return nil, err
	}
	if pattern == nil {
		return nil, fmt.Errorf("pattern %s: %w", patternID, errs.ErrNotFound)
	}
	if mode == "" {
		mode = DefaultModeForStage(pattern.LifecycleStage)
	}

	availability, err := s.availability(dbc, pattern)
	if err != nil {
		return nil, err
	}
	consistency, err := s.consistency(dbc, pattern)
	if err != nil {
		return nil, err
	}

	history, err := s.episodes.GetRecentScoredByTarget(dbc, types.TargetPattern, patternID.String(), s.cfg.StabilityWindow)
	if err != nil {
		return nil, err
	}
	stability := s.stability(history)

	score := math.Cbrt(availability * consistency * stability)

	result := &Result{
		Score:        score,
		Availability: availability,
		Consistency:  consistency,
		Stability:    stability,
		Mode:         mode,
	}
	if len(history) > 0 && history[0].CoherenceScore != nil {
		baseline := *history[0].CoherenceScore
		result.Baseline = &baseline
	}

	if mode == ModeRetrospective {
		regression, rerr := s.detectRegression(dbc, pattern, result, history)
		if rerr != nil {
			return nil, rerr
		}
		result.Regression = regression
	}

	ep, err := s.recordScore(dbc, pattern, result)
	if err != nil {
		return nil, err
	}
	result.EpisodeID = ep.ID
	return result, nil
}

func DefaultModeForStage(stage string) Mode {
	if stage == types.StageActive || stage == types.StageStable {
		return ModeRetrospective
	}
	return ModeProspective
}

// availability reads the latest structural signals: connected, non-orphan,
// and anchoring at least one artifact. Each contributes a third.
func (s *Scorer) availability(dbc dbctx.Context, pattern *types.Pattern) (float64, error) {
	m, err := s.graph.Metrics(dbc, pattern.ID)
	if err != nil {
		return 0, err
	}
	linked, err := s.artifacts.GetByPrimaryPatternIDs(dbc, []uuid.UUID{pattern.ID})
	if err != nil {
		return 0, err
	}

	score := 0.0
	if m.Degree > 0 {
		score += 1.0 / 3
	}
	if !m.IsOrphan {
		score += 1.0 / 3
	}
	if len(linked) > 0 {
		score += 1.0 / 3
	}
	return score, nil
}

// consistency aggregates the generative semantic-fit scores of the
// artifacts anchored to this pattern: a high mean raises it, spread between
// artifacts pulls it down. No assessed artifacts reads as neutral 0.5.
func (s *Scorer) consistency(dbc dbctx.Context, pattern *types.Pattern) (float64, error) {
	linked, err := s.artifacts.GetByPrimaryPatternIDs(dbc, []uuid.UUID{pattern.ID})
	if err != nil {
		return 0, err
	}

	var fits []float64
	for _, a := range linked {
		eps, err := s.episodes.GetByTargetAndStage(dbc, types.TargetArtifact, a.ID.String(), classifier.StageGenerative, 1)
		if err != nil {
			return 0, err
		}
		if len(eps) == 0 || len(eps[0].Scores) == 0 {
			continue
		}
		var scores map[string]float64
		if err := json.Unmarshal(eps[0].Scores, &scores); err != nil {
			continue
		}
		if fit, ok := scores["semantic_fit"]; ok {
			fits = append(fits, fit)
		}
	}
	if len(fits) == 0 {
		return 0.5, nil
	}

	mean := 0.0
	for _, f := range fits {
		mean += f
	}
	mean /= float64(len(fits))

	variance := 0.0
	for _, f := range fits {
		variance += (f - mean) * (f - mean)
	}
	variance /= float64(len(fits))

	return clamp01(mean - variance), nil
}

// stability looks at how much the score has been moving: exponentially
// decayed mean absolute delta over the scored history, newest deltas
// weighing most. A target never scored, or scored once, is perfectly
// stable.
func (s *Scorer) stability(history []*types.Episode) float64 {
	scores := make([]float64, 0, len(history))
	// history is newest-first; walk it as-is so index equals age.
	for _, ep := range history {
		if ep.CoherenceScore != nil {
			scores = append(scores, *ep.CoherenceScore)
		}
	}
	if len(scores) < 2 {
		return 1.0
	}

	var weightedSum, weightTotal float64
	for i := 0; i+1 < len(scores); i++ {
		delta := math.Abs(scores[i] - scores[i+1])
		weight := math.Pow(0.5, float64(i)/s.cfg.HalfLife)
		weightedSum += weight * delta
		weightTotal += weight
	}
	wmad := weightedSum / weightTotal
	return 1 - math.Min(1, wmad/s.cfg.DeltaScale)
}

// detectRegression flags a stable target whose score fell under the floor
// from an above-floor baseline with no episode in between that could
// explain the drop. The flag lands on the score episode; nothing is ever
// silently updated.
func (s *Scorer) detectRegression(dbc dbctx.Context, pattern *types.Pattern, result *Result, history []*types.Episode) (bool, error) {
	if pattern.LifecycleStage != types.StageStable {
		return false, nil
	}
	if result.Baseline == nil {
		return false, nil
	}
	if result.Score >= s.cfg.RegressionFloor || *result.Baseline < s.cfg.RegressionFloor {
		return false, nil
	}

	// Anything that mutated the target since the baseline score counts as
	// an explanation.
	baselineAt := history[0].CreatedAt
	recent, err := s.episodes.GetRecentByTarget(dbc, types.TargetPattern, pattern.ID.String(), 0)
	if err != nil {
		return false, err
	}
	for _, ep := range recent {
		if !ep.CreatedAt.After(baselineAt) {
			continue
		}
		switch ep.Operation {
		case types.OpIngest, types.OpRegisterPattern, types.OpTransitionStage, types.OpProposeEdge:
			return false, nil
		}
	}
	return true, nil
}

func (s *Scorer) recordScore(dbc dbctx.Context, pattern *types.Pattern, result *Result) (*types.Episode, error) {
	draft := &types.Episode{
		Operation:  types.OpClassify,
		TargetType: types.TargetPattern,
		TargetID:   pattern.ID.String(),
		Stage:      StageCoherence,
	}
	return s.rec.Record(dbc, draft, func(ep *types.Episode) error {
		score := result.Score
		ep.CoherenceScore = &score
		raw, err := json.Marshal(map[string]float64{
			"availability": result.Availability,
			"consistency":  result.Consistency,
			"stability":    result.Stability,
		})
		if err != nil {
			return err
		}
		ep.Scores = raw
		ep.Rationale = fmt.Sprintf("%s coherence %.3f", result.Mode, result.Score)
		if result.Regression {
			ep.Flag = types.FlagRegression
			ep.Rationale = fmt.Sprintf(
				"%s coherence %.3f fell below floor %.2f from baseline %.3f with no explaining episode",
				result.Mode, result.Score, s.cfg.RegressionFloor, *result.Baseline,
			)
		}
		return nil
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
