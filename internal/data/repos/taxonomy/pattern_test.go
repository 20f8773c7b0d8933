package taxonomy

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/data/repos/testutil"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
)

func patternFixture(t *testing.T) (PatternRepo, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	return NewPatternRepo(db, testutil.Logger(t)), dbctx.WithTx(context.Background(), tx)
}

func TestPatternUpsertBySlugPreservesStage(t *testing.T) {
	repo, dbc := patternFixture(t)

	row := &types.Pattern{Slug: "retrieval-augmentation", Label: "Retrieval Augmentation"}
	if err := repo.UpsertBySlug(dbc, row); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	created, err := repo.GetBySlug(dbc, "retrieval-augmentation")
	if err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if created == nil || created.LifecycleStage != types.StageDraft {
		t.Fatalf("expected draft stage on create, got %+v", created)
	}

	if err := repo.SetStage(dbc, created.ID, types.StageActive); err != nil {
		t.Fatalf("set stage: %v", err)
	}

	// Re-upserting refreshed content must not reset the lifecycle stage.
	again := &types.Pattern{Slug: "retrieval-augmentation", Label: "Retrieval-Augmented Generation", Definition: "Grounding generation in retrieved context."}
	if err := repo.UpsertBySlug(dbc, again); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}

	got, err := repo.GetBySlug(dbc, "retrieval-augmentation")
	if err != nil {
		t.Fatalf("get after re-upsert: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("expected same row, got new id %s", got.ID)
	}
	if got.Label != "Retrieval-Augmented Generation" {
		t.Fatalf("label not refreshed: %q", got.Label)
	}
	if got.LifecycleStage != types.StageActive {
		t.Fatalf("stage was reset: %q", got.LifecycleStage)
	}
}

func TestPatternGetByStages(t *testing.T) {
	repo, dbc := patternFixture(t)

	rows := []*types.Pattern{
		{Slug: "zeta-pattern", Label: "Zeta", LifecycleStage: types.StageActive},
		{Slug: "alpha-pattern", Label: "Alpha", LifecycleStage: types.StageStable},
		{Slug: "mid-pattern", Label: "Mid", LifecycleStage: types.StageDraft},
	}
	if _, err := repo.Create(dbc, rows); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByStages(dbc, []string{types.StageActive, types.StageStable})
	if err != nil {
		t.Fatalf("get by stages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].Slug != "alpha-pattern" || got[1].Slug != "zeta-pattern" {
		t.Fatalf("expected slug order, got %s, %s", got[0].Slug, got[1].Slug)
	}
}

func TestPatternGetByIDMissReturnsNil(t *testing.T) {
	repo, dbc := patternFixture(t)

	got, err := repo.GetByID(dbc, uuid.New())
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil on miss, got %+v", got)
	}
}
