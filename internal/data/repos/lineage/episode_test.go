package lineage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/data/repos/testutil"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
)

func episodeFixture(t *testing.T) (EpisodeRepo, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	return NewEpisodeRepo(db, testutil.Logger(t)), dbctx.WithTx(context.Background(), tx)
}

// Rows inside one test transaction share now(), so ordering tests pin
// created_at explicitly.
func episodeAt(target string, op string, offset time.Duration) *types.Episode {
	return &types.Episode{
		Operation:  op,
		TargetType: types.TargetPattern,
		TargetID:   target,
		CreatedAt:  time.Now().Add(offset),
	}
}

func TestEpisodeGetRecentByTargetNewestFirst(t *testing.T) {
	repo, dbc := episodeFixture(t)
	target := uuid.NewString()

	rows := []*types.Episode{
		episodeAt(target, types.OpIngest, -3*time.Minute),
		episodeAt(target, types.OpClassify, -2*time.Minute),
		episodeAt(target, types.OpTransitionStage, -time.Minute),
	}
	if _, err := repo.Create(dbc, rows); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetRecentByTarget(dbc, types.TargetPattern, target, 2)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit not applied, got %d rows", len(got))
	}
	if got[0].Operation != types.OpTransitionStage || got[1].Operation != types.OpClassify {
		t.Fatalf("wrong order: %s, %s", got[0].Operation, got[1].Operation)
	}
}

func TestEpisodeGetRecentScoredSkipsUnscored(t *testing.T) {
	repo, dbc := episodeFixture(t)
	target := uuid.NewString()

	score := 0.82
	scored := episodeAt(target, types.OpClassify, -2*time.Minute)
	scored.CoherenceScore = &score
	unscored := episodeAt(target, types.OpClassify, -time.Minute)

	if _, err := repo.Create(dbc, []*types.Episode{scored, unscored}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetRecentScoredByTarget(dbc, types.TargetPattern, target, 10)
	if err != nil {
		t.Fatalf("get scored: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 scored row, got %d", len(got))
	}
	if got[0].CoherenceScore == nil || *got[0].CoherenceScore != score {
		t.Fatalf("wrong row: %+v", got[0])
	}
}

func TestEpisodeGetLatestByTargetAndOps(t *testing.T) {
	repo, dbc := episodeFixture(t)
	target := uuid.NewString()

	rows := []*types.Episode{
		episodeAt(target, types.OpIngest, -3*time.Minute),
		episodeAt(target, types.OpTransitionStage, -2*time.Minute),
		episodeAt(target, types.OpClassify, -time.Minute),
	}
	if _, err := repo.Create(dbc, rows); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetLatestByTargetAndOps(dbc, types.TargetPattern, target, []string{types.OpIngest, types.OpTransitionStage})
	if err != nil {
		t.Fatalf("get latest: %v", err)
	}
	if got == nil || got.Operation != types.OpTransitionStage {
		t.Fatalf("expected latest matching op, got %+v", got)
	}

	miss, err := repo.GetLatestByTargetAndOps(dbc, types.TargetPattern, uuid.NewString(), []string{types.OpIngest})
	if err != nil {
		t.Fatalf("get latest miss: %v", err)
	}
	if miss != nil {
		t.Fatalf("expected nil on miss, got %+v", miss)
	}
}

func TestEpisodeGetByRunID(t *testing.T) {
	repo, dbc := episodeFixture(t)
	runID := uuid.New()

	first := episodeAt(uuid.NewString(), types.OpClassify, -2*time.Minute)
	first.RunID = &runID
	second := episodeAt(uuid.NewString(), types.OpClassify, -time.Minute)
	second.RunID = &runID
	stray := episodeAt(uuid.NewString(), types.OpClassify, -time.Minute)

	if _, err := repo.Create(dbc, []*types.Episode{first, second, stray}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByRunID(dbc, runID)
	if err != nil {
		t.Fatalf("get by run: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 run episodes, got %d", len(got))
	}
	if !got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Fatal("expected oldest first")
	}
}

func TestEpisodeCountByTargetAndOp(t *testing.T) {
	repo, dbc := episodeFixture(t)
	target := uuid.NewString()

	rows := []*types.Episode{
		episodeAt(target, types.OpIngest, -3*time.Minute),
		episodeAt(target, types.OpIngest, -2*time.Minute),
		episodeAt(target, types.OpClassify, -time.Minute),
	}
	if _, err := repo.Create(dbc, rows); err != nil {
		t.Fatalf("create: %v", err)
	}

	count, err := repo.CountByTargetAndOp(dbc, types.TargetPattern, target, types.OpIngest)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}
}
