package coherence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/graphstore"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/logger"

	types "github.com/semops/semops-backend/internal/domain"
)

type memEpisodeRepo struct {
	rows []*types.Episode
}

func (m *memEpisodeRepo) Create(dbc dbctx.Context, rows []*types.Episode) ([]*types.Episode, error) {
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		if row.CreatedAt.IsZero() {
			row.CreatedAt = time.Now()
		}
	}
	m.rows = append(m.rows, rows...)
	return rows, nil
}

func (m *memEpisodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Episode, error) {
	for _, r := range m.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (m *memEpisodeRepo) GetByRunID(dbctx.Context, uuid.UUID) ([]*types.Episode, error) {
	return nil, nil
}

func (m *memEpisodeRepo) newestFirst(targetType, targetID string) []*types.Episode {
	var out []*types.Episode
	for i := len(m.rows) - 1; i >= 0; i-- {
		r := m.rows[i]
		if r.TargetType == targetType && r.TargetID == targetID {
			out = append(out, r)
		}
	}
	return out
}

func (m *memEpisodeRepo) GetRecentByTarget(dbc dbctx.Context, targetType, targetID string, limit int) ([]*types.Episode, error) {
	out := m.newestFirst(targetType, targetID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memEpisodeRepo) GetRecentScoredByTarget(dbc dbctx.Context, targetType, targetID string, limit int) ([]*types.Episode, error) {
	var out []*types.Episode
	for _, r := range m.newestFirst(targetType, targetID) {
		if r.CoherenceScore != nil {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memEpisodeRepo) GetLatestByTargetAndOps(dbc dbctx.Context, targetType, targetID string, ops []string) (*types.Episode, error) {
	for _, r := range m.newestFirst(targetType, targetID) {
		for _, op := range ops {
			if r.Operation == op {
				return r, nil
			}
		}
	}
	return nil, nil
}

func (m *memEpisodeRepo) GetByTargetAndStage(dbc dbctx.Context, targetType, targetID, stage string, limit int) ([]*types.Episode, error) {
	var out []*types.Episode
	for _, r := range m.newestFirst(targetType, targetID) {
		if r.Stage == stage {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memEpisodeRepo) CountByTargetAndOp(dbc dbctx.Context, targetType, targetID, op string) (int64, error) {
	var n int64
	for _, r := range m.rows {
		if r.TargetType == targetType && r.TargetID == targetID && r.Operation == op {
			n++
		}
	}
	return n, nil
}

type memPatternRepo struct {
	byID map[uuid.UUID]*types.Pattern
}

func (m *memPatternRepo) Create(dbc dbctx.Context, rows []*types.Pattern) ([]*types.Pattern, error) {
	for _, r := range rows {
		m.byID[r.ID] = r
	}
	return rows, nil
}
func (m *memPatternRepo) UpsertBySlug(dbc dbctx.Context, row *types.Pattern) error {
	m.byID[row.ID] = row
	return nil
}
func (m *memPatternRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Pattern, error) {
	return m.byID[id], nil
}
func (m *memPatternRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Pattern, error) {
	var out []*types.Pattern
	for _, id := range ids {
		if p, ok := m.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
func (m *memPatternRepo) GetBySlug(dbctx.Context, string) (*types.Pattern, error) { return nil, nil }
func (m *memPatternRepo) GetByStages(dbctx.Context, []string) ([]*types.Pattern, error) {
	return nil, nil
}
func (m *memPatternRepo) GetByVectorIDs(dbctx.Context, []string) ([]*types.Pattern, error) {
	return nil, nil
}
func (m *memPatternRepo) UpdateFields(dbctx.Context, uuid.UUID, map[string]interface{}) error {
	return nil
}
func (m *memPatternRepo) SetStage(dbc dbctx.Context, id uuid.UUID, stage string) error {
	if p, ok := m.byID[id]; ok {
		p.LifecycleStage = stage
	}
	return nil
}

type memEdgeRepo struct {
	edges []*types.PatternEdge
}

func (m *memEdgeRepo) Create(dbc dbctx.Context, rows []*types.PatternEdge) ([]*types.PatternEdge, error) {
	m.edges = append(m.edges, rows...)
	return rows, nil
}
func (m *memEdgeRepo) Upsert(dbc dbctx.Context, row *types.PatternEdge) error {
	m.edges = append(m.edges, row)
	return nil
}
func (m *memEdgeRepo) GetBySrcPatternIDs(dbctx.Context, []uuid.UUID) ([]*types.PatternEdge, error) {
	return nil, nil
}
func (m *memEdgeRepo) GetByDstPatternIDs(dbctx.Context, []uuid.UUID) ([]*types.PatternEdge, error) {
	return nil, nil
}
func (m *memEdgeRepo) GetByPatternIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.PatternEdge, error) {
	var out []*types.PatternEdge
	for _, e := range m.edges {
		for _, id := range ids {
			if e.SrcPatternID == id || e.DstPatternID == id {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}
func (m *memEdgeRepo) GetByPredicates(dbctx.Context, []string) ([]*types.PatternEdge, error) {
	return nil, nil
}
func (m *memEdgeRepo) Exists(dbctx.Context, uuid.UUID, uuid.UUID, string) (bool, error) {
	return false, nil
}

type memArtifactRepo struct {
	rows []*types.Artifact
}

func (m *memArtifactRepo) UpsertByExternalID(dbc dbctx.Context, row *types.Artifact) error {
	m.rows = append(m.rows, row)
	return nil
}
func (m *memArtifactRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Artifact, error) {
	for _, r := range m.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}
func (m *memArtifactRepo) GetByExternalID(dbctx.Context, string) (*types.Artifact, error) {
	return nil, nil
}
func (m *memArtifactRepo) GetByPrimaryPatternIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Artifact, error) {
	var out []*types.Artifact
	for _, r := range m.rows {
		if r.PrimaryPatternID == nil {
			continue
		}
		for _, id := range ids {
			if *r.PrimaryPatternID == id {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}
func (m *memArtifactRepo) GetOrphans(dbctx.Context, int) ([]*types.Artifact, error) { return nil, nil }
func (m *memArtifactRepo) GetByStages(dbctx.Context, []string) ([]*types.Artifact, error) {
	return nil, nil
}
func (m *memArtifactRepo) UpdateFields(dbctx.Context, uuid.UUID, map[string]interface{}) error {
	return nil
}
func (m *memArtifactRepo) SetPrimaryPattern(dbctx.Context, uuid.UUID, *uuid.UUID) error { return nil }
func (m *memArtifactRepo) SetStage(dbctx.Context, uuid.UUID, string) error              { return nil }

type scorerFixture struct {
	scorer    *Scorer
	episodes  *memEpisodeRepo
	patterns  *memPatternRepo
	edges     *memEdgeRepo
	artifacts *memArtifactRepo
	dbc       dbctx.Context
}

func newScorerFixture(t *testing.T) *scorerFixture {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })

	episodes := &memEpisodeRepo{}
	patterns := &memPatternRepo{byID: map[uuid.UUID]*types.Pattern{}}
	edges := &memEdgeRepo{}
	artifacts := &memArtifactRepo{}
	rec := lineage.NewRecorder(log, lineage.ModeFull, episodes, nil)
	graph := graphstore.NewStore(log, patterns, edges, rec, nil, nil)

	return &scorerFixture{
		scorer:    NewScorer(log, DefaultConfig(), episodes, patterns, artifacts, graph, rec),
		episodes:  episodes,
		patterns:  patterns,
		edges:     edges,
		artifacts: artifacts,
		dbc:       dbctx.New(context.Background()),
	}
}

func (fx *scorerFixture) seedPattern(stage string) *types.Pattern {
	p := &types.Pattern{
		ID:             uuid.New(),
		Slug:           "p-" + uuid.NewString()[:8],
		Label:          "Pattern",
		Definition:     "A pattern with a definition long enough to be useful.",
		LifecycleStage: stage,
	}
	fx.patterns.byID[p.ID] = p
	return p
}

func (fx *scorerFixture) seedScore(p *types.Pattern, score float64, at time.Time) {
	fx.episodes.rows = append(fx.episodes.rows, &types.Episode{
		ID:             uuid.New(),
		Operation:      types.OpClassify,
		TargetType:     types.TargetPattern,
		TargetID:       p.ID.String(),
		Stage:          StageCoherence,
		CoherenceScore: &score,
		CreatedAt:      at,
	})
}

func TestStabilityPerfectlyFlatHistory(t *testing.T) {
	fx := newScorerFixture(t)
	var history []*types.Episode
	for i := 0; i < 10; i++ {
		v := 0.8
		history = append(history, &types.Episode{CoherenceScore: &v})
	}
	if got := fx.scorer.stability(history); got != 1.0 {
		t.Fatalf("flat history stability: want=1.0 got=%v", got)
	}
}

func TestStabilitySingleScoreIsStable(t *testing.T) {
	fx := newScorerFixture(t)
	v := 0.4
	if got := fx.scorer.stability([]*types.Episode{{CoherenceScore: &v}}); got != 1.0 {
		t.Fatalf("single-score stability: want=1.0 got=%v", got)
	}
}

func TestStabilityLargeSwingsZeroOut(t *testing.T) {
	fx := newScorerFixture(t)
	var history []*types.Episode
	for i := 0; i < 10; i++ {
		v := 0.0
		if i%2 == 0 {
			v = 1.0
		}
		history = append(history, &types.Episode{CoherenceScore: &v})
	}
	// Every delta is 1.0, twice the delta scale, so stability bottoms out.
	if got := fx.scorer.stability(history); got != 0.0 {
		t.Fatalf("oscillating history stability: want=0.0 got=%v", got)
	}
}

func TestStabilityRecentDeltaOutweighsOld(t *testing.T) {
	fx := newScorerFixture(t)

	// One big recent jump, flat afterwards (newest first).
	recentJump := scoresToHistory(0.9, 0.4, 0.4, 0.4, 0.4, 0.4)
	// Same jump buried deep in the history.
	oldJump := scoresToHistory(0.4, 0.4, 0.4, 0.4, 0.9, 0.4)

	recent := fx.scorer.stability(recentJump)
	old := fx.scorer.stability(oldJump)
	if !(recent < old) {
		t.Fatalf("recent delta should weigh more: recent=%v old=%v", recent, old)
	}
}

func scoresToHistory(scores ...float64) []*types.Episode {
	out := make([]*types.Episode, 0, len(scores))
	for i := range scores {
		v := scores[i]
		out = append(out, &types.Episode{CoherenceScore: &v})
	}
	return out
}

func TestScoreRecordsEpisodeWithComponents(t *testing.T) {
	fx := newScorerFixture(t)
	p := fx.seedPattern(types.StageDraft)

	res, err := fx.scorer.Score(fx.dbc, p.ID, "")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Mode != ModeProspective {
		t.Fatalf("draft defaults to prospective, got %q", res.Mode)
	}
	if res.EpisodeID == uuid.Nil {
		t.Fatalf("score episode not recorded")
	}
	ep, err := fx.episodes.GetByID(fx.dbc, res.EpisodeID)
	if err != nil || ep == nil {
		t.Fatalf("score episode not found: %v", err)
	}
	if ep.CoherenceScore == nil || *ep.CoherenceScore != res.Score {
		t.Fatalf("episode score mismatch")
	}
	if ep.Stage != StageCoherence {
		t.Fatalf("episode stage: got=%q", ep.Stage)
	}
}

func TestScoreGeometricMeanZeroesWithAvailability(t *testing.T) {
	fx := newScorerFixture(t)
	p := fx.seedPattern(types.StageDraft)

	// No edges, no artifacts: availability 0 collapses the whole score.
	res, err := fx.scorer.Score(fx.dbc, p.ID, "")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Availability != 0 {
		t.Fatalf("availability: want=0 got=%v", res.Availability)
	}
	if res.Score != 0 {
		t.Fatalf("score with zero availability: want=0 got=%v", res.Score)
	}
}

func TestRetrospectiveRegressionFlag(t *testing.T) {
	fx := newScorerFixture(t)
	p := fx.seedPattern(types.StageStable)

	// Healthy baseline from the previous audit.
	fx.seedScore(p, 0.88, time.Now().Add(-time.Hour))

	res, err := fx.scorer.Score(fx.dbc, p.ID, ModeRetrospective)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	// Unlinked and orphaned now, so the score collapses below the floor.
	if res.Score >= fx.scorer.cfg.RegressionFloor {
		t.Fatalf("test setup: expected collapsed score, got %v", res.Score)
	}
	if !res.Regression {
		t.Fatalf("expected regression flag")
	}
	ep, _ := fx.episodes.GetByID(fx.dbc, res.EpisodeID)
	if ep.Flag != types.FlagRegression {
		t.Fatalf("episode flag: want=%q got=%q", types.FlagRegression, ep.Flag)
	}
}

func TestRegressionSuppressedByExplainingEpisode(t *testing.T) {
	fx := newScorerFixture(t)
	p := fx.seedPattern(types.StageStable)
	fx.seedScore(p, 0.88, time.Now().Add(-time.Hour))

	// A stage transition since the baseline explains the drop.
	fx.episodes.rows = append(fx.episodes.rows, &types.Episode{
		ID:         uuid.New(),
		Operation:  types.OpTransitionStage,
		TargetType: types.TargetPattern,
		TargetID:   p.ID.String(),
		CreatedAt:  time.Now().Add(-time.Minute),
	})

	res, err := fx.scorer.Score(fx.dbc, p.ID, ModeRetrospective)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Regression {
		t.Fatalf("explained drop must not flag regression")
	}
}

func TestProspectiveNeverFlagsRegression(t *testing.T) {
	fx := newScorerFixture(t)
	p := fx.seedPattern(types.StageDraft)
	fx.seedScore(p, 0.9, time.Now().Add(-time.Hour))

	res, err := fx.scorer.Score(fx.dbc, p.ID, ModeProspective)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if res.Regression {
		t.Fatalf("prospective mode must never flag regressions")
	}
}
