package taxonomy

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/data/repos/testutil"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
)

func edgeFixture(t *testing.T) (PatternEdgeRepo, PatternRepo, dbctx.Context) {
	t.Helper()
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	log := testutil.Logger(t)
	return NewPatternEdgeRepo(db, log), NewPatternRepo(db, log), dbctx.WithTx(context.Background(), tx)
}

func seedEdgePatterns(t *testing.T, repo PatternRepo, dbc dbctx.Context, slugs ...string) []uuid.UUID {
	t.Helper()
	rows := make([]*types.Pattern, 0, len(slugs))
	for _, slug := range slugs {
		rows = append(rows, &types.Pattern{Slug: slug, Label: slug})
	}
	created, err := repo.Create(dbc, rows)
	if err != nil {
		t.Fatalf("seed patterns: %v", err)
	}
	ids := make([]uuid.UUID, 0, len(created))
	for _, p := range created {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestPatternEdgeUpsertDedupes(t *testing.T) {
	edges, patterns, dbc := edgeFixture(t)
	ids := seedEdgePatterns(t, patterns, dbc, "edge-src", "edge-dst")

	first := &types.PatternEdge{SrcPatternID: ids[0], DstPatternID: ids[1], Predicate: types.PredicateBroader, Strength: 0.5}
	if err := edges.Upsert(dbc, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := &types.PatternEdge{SrcPatternID: ids[0], DstPatternID: ids[1], Predicate: types.PredicateBroader, Strength: 0.9}
	if err := edges.Upsert(dbc, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := edges.GetBySrcPatternIDs(dbc, []uuid.UUID{ids[0]})
	if err != nil {
		t.Fatalf("get by src: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 edge after dedupe, got %d", len(got))
	}
	if got[0].Strength != 0.9 {
		t.Fatalf("strength not refreshed: %v", got[0].Strength)
	}
}

func TestPatternEdgeExists(t *testing.T) {
	edges, patterns, dbc := edgeFixture(t)
	ids := seedEdgePatterns(t, patterns, dbc, "exists-src", "exists-dst")

	if err := edges.Upsert(dbc, &types.PatternEdge{SrcPatternID: ids[0], DstPatternID: ids[1], Predicate: types.PredicateRelated, Strength: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ok, err := edges.Exists(dbc, ids[0], ids[1], types.PredicateRelated)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if !ok {
		t.Fatal("expected edge to exist")
	}

	// Same endpoints, different predicate, is a distinct edge.
	ok, err = edges.Exists(dbc, ids[0], ids[1], types.PredicateBroader)
	if err != nil {
		t.Fatalf("exists: %v", err)
	}
	if ok {
		t.Fatal("did not expect broader edge")
	}
}

func TestPatternEdgeGetByPatternIDsCoversBothEnds(t *testing.T) {
	edges, patterns, dbc := edgeFixture(t)
	ids := seedEdgePatterns(t, patterns, dbc, "hub", "spoke-a", "spoke-b")

	if err := edges.Upsert(dbc, &types.PatternEdge{SrcPatternID: ids[0], DstPatternID: ids[1], Predicate: types.PredicateNarrower, Strength: 1}); err != nil {
		t.Fatalf("upsert out: %v", err)
	}
	if err := edges.Upsert(dbc, &types.PatternEdge{SrcPatternID: ids[2], DstPatternID: ids[0], Predicate: types.PredicateBroader, Strength: 1}); err != nil {
		t.Fatalf("upsert in: %v", err)
	}

	got, err := edges.GetByPatternIDs(dbc, []uuid.UUID{ids[0]})
	if err != nil {
		t.Fatalf("get by pattern ids: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both directions, got %d edges", len(got))
	}
}
