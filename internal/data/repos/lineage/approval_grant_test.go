package lineage

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/data/repos/testutil"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
)

func grantFixture(t *testing.T) (ApprovalGrantRepo, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	return NewApprovalGrantRepo(db, testutil.Logger(t)), dbctx.WithTx(context.Background(), tx)
}

func TestApprovalGrantRoundTrip(t *testing.T) {
	repo, dbc := grantFixture(t)
	episodeID := uuid.New()

	if err := repo.Create(dbc, &types.ApprovalGrant{EpisodeID: episodeID, ApproverSubject: "operator@example.com"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByEpisodeID(dbc, episodeID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ApproverSubject != "operator@example.com" {
		t.Fatalf("unexpected grant: %+v", got)
	}
	if got.GrantedAt.IsZero() {
		t.Fatal("granted_at not set")
	}

	miss, err := repo.GetByEpisodeID(dbc, uuid.New())
	if err != nil {
		t.Fatalf("get miss: %v", err)
	}
	if miss != nil {
		t.Fatalf("expected nil on miss, got %+v", miss)
	}
}

func TestApprovalGrantOnePerEpisode(t *testing.T) {
	repo, dbc := grantFixture(t)
	episodeID := uuid.New()

	if err := repo.Create(dbc, &types.ApprovalGrant{EpisodeID: episodeID, ApproverSubject: "first"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.Create(dbc, &types.ApprovalGrant{EpisodeID: episodeID, ApproverSubject: "second"}); err == nil {
		t.Fatal("expected unique violation on second grant")
	}
}
