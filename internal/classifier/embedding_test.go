package classifier

import (
	"context"
	"testing"

	"github.com/google/uuid"

	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/platform/vector"
)

type stubAIClient struct {
	embedCalls int
}

func (c *stubAIClient) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	c.embedCalls++
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (c *stubAIClient) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, nil
}
func (c *stubAIClient) Model() string      { return "test-model" }
func (c *stubAIClient) EmbedModel() string { return "test-embed" }

type stubVectorStore struct {
	upserts []vector.Vector
	matches []vector.Match
}

func (s *stubVectorStore) Upsert(ctx context.Context, namespace string, vectors []vector.Vector) error {
	s.upserts = append(s.upserts, vectors...)
	return nil
}

func (s *stubVectorStore) QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]vector.Match, error) {
	return s.matches, nil
}

func (s *stubVectorStore) DeleteIDs(ctx context.Context, namespace string, ids []string) error {
	return nil
}

func (s *stubVectorStore) SetPayload(ctx context.Context, namespace, id string, payload map[string]any) error {
	return nil
}

type vectorPatternRepo struct {
	byVectorID map[string]*types.Pattern
}

func (r *vectorPatternRepo) Create(dbc dbctx.Context, rows []*types.Pattern) ([]*types.Pattern, error) {
	return rows, nil
}
func (r *vectorPatternRepo) UpsertBySlug(dbctx.Context, *types.Pattern) error { return nil }
func (r *vectorPatternRepo) GetByID(dbctx.Context, uuid.UUID) (*types.Pattern, error) {
	return nil, nil
}
func (r *vectorPatternRepo) GetByIDs(dbctx.Context, []uuid.UUID) ([]*types.Pattern, error) {
	return nil, nil
}
func (r *vectorPatternRepo) GetBySlug(dbctx.Context, string) (*types.Pattern, error) {
	return nil, nil
}
func (r *vectorPatternRepo) GetByStages(dbctx.Context, []string) ([]*types.Pattern, error) {
	return nil, nil
}
func (r *vectorPatternRepo) GetByVectorIDs(_ dbctx.Context, vectorIDs []string) ([]*types.Pattern, error) {
	var out []*types.Pattern
	for _, id := range vectorIDs {
		if p, ok := r.byVectorID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}
func (r *vectorPatternRepo) UpdateFields(dbctx.Context, uuid.UUID, map[string]interface{}) error {
	return nil
}
func (r *vectorPatternRepo) SetStage(dbctx.Context, uuid.UUID, string) error { return nil }

func embeddingFixture(t *testing.T, matches []vector.Match) (Stage, *capturingEpisodeRepo, *stubVectorStore) {
	t.Helper()
	repo := &capturingEpisodeRepo{}
	rec := lineage.NewRecorder(testLog(t), lineage.ModeFull, repo, nil)
	vs := &stubVectorStore{matches: matches}
	patterns := &vectorPatternRepo{byVectorID: map[string]*types.Pattern{}}
	for _, m := range matches {
		patterns.byVectorID[m.ID] = &types.Pattern{ID: uuid.New(), Slug: m.ID, VectorID: m.ID}
	}
	stage := NewEmbeddingStage(testLog(t), &stubAIClient{}, vs, patterns, rec, DefaultEmbeddingThresholds())
	return stage, repo, vs
}

func TestEmbeddingStageFlagsDuplicateAboveThreshold(t *testing.T) {
	stage, _, _ := embeddingFixture(t, []vector.Match{
		{ID: "near-twin", Score: 0.97},
		{ID: "cousin", Score: 0.62},
	})

	res, err := stage.Classify(dbctx.New(context.Background()), targetInput())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if dup, _ := res.Labels["is_potential_duplicate"].(bool); !dup {
		t.Fatalf("expected duplicate flag, labels=%v", res.Labels)
	}
	if res.Scores["duplicate_similarity"] != 0.97 {
		t.Fatalf("duplicate_similarity: got=%v", res.Scores["duplicate_similarity"])
	}
	if len(res.ContextPatternIDs) != 2 {
		t.Fatalf("context pattern ids: got=%d", len(res.ContextPatternIDs))
	}
}

func TestEmbeddingStageExactThresholdIsNotDuplicate(t *testing.T) {
	// The duplicate cut is strictly greater-than 0.95.
	stage, _, _ := embeddingFixture(t, []vector.Match{{ID: "edge-case", Score: 0.95}})

	res, err := stage.Classify(dbctx.New(context.Background()), targetInput())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if dup, _ := res.Labels["is_potential_duplicate"].(bool); dup {
		t.Fatal("score equal to the threshold must not flag a duplicate")
	}
}

func TestEmbeddingStageMarksOrphanCandidate(t *testing.T) {
	stage, _, _ := embeddingFixture(t, []vector.Match{{ID: "distant", Score: 0.41}})

	res, err := stage.Classify(dbctx.New(context.Background()), targetInput())
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if orphan, _ := res.Labels["orphan_candidate"].(bool); !orphan {
		t.Fatalf("expected orphan candidate, labels=%v", res.Labels)
	}
}

func TestEmbeddingStageRefreshRecordsEmbedEpisode(t *testing.T) {
	stage, repo, vs := embeddingFixture(t, nil)

	in := targetInput()
	if _, err := stage.Classify(dbctx.New(context.Background()), in); err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(vs.upserts) != 1 {
		t.Fatalf("vector upserts: want=1 got=%d", len(vs.upserts))
	}
	var embeds int
	for _, ep := range repo.created {
		if ep.Operation == types.OpEmbed && ep.TargetID == in.TargetID {
			embeds++
		}
	}
	if embeds != 1 {
		t.Fatalf("embed episodes: want=1 got=%d", embeds)
	}
}

func TestEmbeddingStageSkipsSelfMatch(t *testing.T) {
	in := targetInput()
	in.Pattern.VectorID = "self"
	stage, _, _ := embeddingFixture(t, []vector.Match{
		{ID: "self", Score: 1.0},
		{ID: "other", Score: 0.5},
	})

	res, err := stage.Classify(dbctx.New(context.Background()), in)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Scores["nearest_approved_similarity"] != 0.5 {
		t.Fatalf("self match not excluded: %v", res.Scores["nearest_approved_similarity"])
	}
	if dup, _ := res.Labels["is_potential_duplicate"].(bool); dup {
		t.Fatal("self match must not count as duplicate")
	}
}
