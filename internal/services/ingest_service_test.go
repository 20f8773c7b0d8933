package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"

	types "github.com/semops/semops-backend/internal/domain"
)

type fakeArtifactRepo struct {
	byExternal map[string]*types.Artifact
}

func newFakeArtifactRepo() *fakeArtifactRepo {
	return &fakeArtifactRepo{byExternal: map[string]*types.Artifact{}}
}

func (f *fakeArtifactRepo) UpsertByExternalID(dbc dbctx.Context, row *types.Artifact) error {
	f.byExternal[row.ExternalID] = row
	return nil
}
func (f *fakeArtifactRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Artifact, error) {
	for _, a := range f.byExternal {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, nil
}
func (f *fakeArtifactRepo) GetByExternalID(dbc dbctx.Context, externalID string) (*types.Artifact, error) {
	return f.byExternal[externalID], nil
}
func (f *fakeArtifactRepo) GetByPrimaryPatternIDs(dbctx.Context, []uuid.UUID) ([]*types.Artifact, error) {
	return nil, nil
}
func (f *fakeArtifactRepo) GetOrphans(dbctx.Context, int) ([]*types.Artifact, error) {
	return nil, nil
}
func (f *fakeArtifactRepo) GetByStages(dbctx.Context, []string) ([]*types.Artifact, error) {
	return nil, nil
}
func (f *fakeArtifactRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	a, err := f.GetByID(dbc, id)
	if err != nil || a == nil {
		return err
	}
	if v, ok := updates["title"].(string); ok {
		a.Title = v
	}
	if v, ok := updates["content_hash"].(string); ok {
		a.ContentHash = v
	}
	return nil
}
func (f *fakeArtifactRepo) SetPrimaryPattern(dbc dbctx.Context, id uuid.UUID, patternID *uuid.UUID) error {
	a, _ := f.GetByID(dbc, id)
	if a != nil {
		a.PrimaryPatternID = patternID
	}
	return nil
}
func (f *fakeArtifactRepo) SetStage(dbc dbctx.Context, id uuid.UUID, stage string) error {
	a, _ := f.GetByID(dbc, id)
	if a != nil {
		a.LifecycleStage = stage
	}
	return nil
}

type fakePatternRepo struct {
	byID map[uuid.UUID]*types.Pattern
}

func newFakePatternRepo() *fakePatternRepo {
	return &fakePatternRepo{byID: map[uuid.UUID]*types.Pattern{}}
}

func (f *fakePatternRepo) Create(dbc dbctx.Context, rows []*types.Pattern) ([]*types.Pattern, error) {
	for _, r := range rows {
		f.byID[r.ID] = r
	}
	return rows, nil
}
func (f *fakePatternRepo) UpsertBySlug(dbc dbctx.Context, row *types.Pattern) error {
	f.byID[row.ID] = row
	return nil
}
func (f *fakePatternRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Pattern, error) {
	return f.byID[id], nil
}
func (f *fakePatternRepo) GetByIDs(dbctx.Context, []uuid.UUID) ([]*types.Pattern, error) {
	return nil, nil
}
func (f *fakePatternRepo) GetBySlug(dbctx.Context, string) (*types.Pattern, error) { return nil, nil }
func (f *fakePatternRepo) GetByStages(dbctx.Context, []string) ([]*types.Pattern, error) {
	return nil, nil
}
func (f *fakePatternRepo) GetByVectorIDs(dbctx.Context, []string) ([]*types.Pattern, error) {
	return nil, nil
}
func (f *fakePatternRepo) UpdateFields(dbctx.Context, uuid.UUID, map[string]interface{}) error {
	return nil
}
func (f *fakePatternRepo) SetStage(dbc dbctx.Context, id uuid.UUID, stage string) error {
	if p, ok := f.byID[id]; ok {
		p.LifecycleStage = stage
	}
	return nil
}

type fakeEpisodeRepo struct {
	rows []*types.Episode
}

func (f *fakeEpisodeRepo) Create(dbc dbctx.Context, rows []*types.Episode) ([]*types.Episode, error) {
	for _, r := range rows {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
	}
	f.rows = append(f.rows, rows...)
	return rows, nil
}
func (f *fakeEpisodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Episode, error) {
	for _, r := range f.rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, nil
}
func (f *fakeEpisodeRepo) GetByRunID(dbc dbctx.Context, runID uuid.UUID) ([]*types.Episode, error) {
	var out []*types.Episode
	for _, r := range f.rows {
		if r.RunID != nil && *r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeEpisodeRepo) GetRecentByTarget(dbctx.Context, string, string, int) ([]*types.Episode, error) {
	return nil, nil
}
func (f *fakeEpisodeRepo) GetRecentScoredByTarget(dbctx.Context, string, string, int) ([]*types.Episode, error) {
	return nil, nil
}
func (f *fakeEpisodeRepo) GetLatestByTargetAndOps(dbctx.Context, string, string, []string) (*types.Episode, error) {
	return nil, nil
}
func (f *fakeEpisodeRepo) GetByTargetAndStage(dbctx.Context, string, string, string, int) ([]*types.Episode, error) {
	return nil, nil
}
func (f *fakeEpisodeRepo) CountByTargetAndOp(dbc dbctx.Context, targetType, targetID, op string) (int64, error) {
	var n int64
	for _, r := range f.rows {
		if r.TargetType == targetType && r.TargetID == targetID && r.Operation == op {
			n++
		}
	}
	return n, nil
}

type ingestFixture struct {
	svc       IngestService
	artifacts *fakeArtifactRepo
	patterns  *fakePatternRepo
	episodes  *fakeEpisodeRepo
	dbc       dbctx.Context
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })

	artifacts := newFakeArtifactRepo()
	patterns := newFakePatternRepo()
	episodes := &fakeEpisodeRepo{}
	rec := lineage.NewRecorder(log, lineage.ModeFull, episodes, nil)

	return &ingestFixture{
		svc:       NewIngestService(log, artifacts, patterns, rec),
		artifacts: artifacts,
		patterns:  patterns,
		episodes:  episodes,
		dbc:       dbctx.New(context.Background()),
	}
}

func contentInput() IngestInput {
	return IngestInput{
		ExternalID:   "doc-001",
		ArtifactType: types.ArtifactTypeContent,
		Title:        "Event Sourcing Primer",
		Content:      "Events are the source of truth.",
		Metadata: map[string]interface{}{
			"schema": types.MetadataSchemaContentV1,
			"uri":    "https://example.com/doc-001",
		},
	}
}

func TestIngestCreatesArtifactAndEpisode(t *testing.T) {
	fx := newIngestFixture(t)

	res, err := fx.svc.Ingest(fx.dbc, contentInput())
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.Created || res.Unchanged {
		t.Fatalf("first ingest should create: %+v", res)
	}

	a, _ := fx.artifacts.GetByExternalID(fx.dbc, "doc-001")
	if a == nil {
		t.Fatalf("artifact not stored")
	}
	if a.LifecycleStage != types.StageDraft {
		t.Fatalf("new artifact stage: want=draft got=%q", a.LifecycleStage)
	}
	if a.ContentHash == "" {
		t.Fatalf("content hash not stamped")
	}

	ep, _ := fx.episodes.GetByID(fx.dbc, res.EpisodeID)
	if ep == nil || ep.Operation != types.OpIngest {
		t.Fatalf("ingest episode not recorded")
	}
}

func TestIdenticalReingestChangesNothing(t *testing.T) {
	fx := newIngestFixture(t)
	in := contentInput()

	first, err := fx.svc.Ingest(fx.dbc, in)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	a, _ := fx.artifacts.GetByExternalID(fx.dbc, in.ExternalID)
	a.LifecycleStage = types.StageActive // simulate a later transition

	second, err := fx.svc.Ingest(fx.dbc, in)
	if err != nil {
		t.Fatalf("re-Ingest: %v", err)
	}
	if !second.Unchanged || second.Created {
		t.Fatalf("identical re-ingest should be a no-op: %+v", second)
	}
	if second.ArtifactID != first.ArtifactID {
		t.Fatalf("re-ingest must hit the same artifact")
	}
	if second.EpisodeID == first.EpisodeID {
		t.Fatalf("re-ingest must still record a fresh episode")
	}
	if a.LifecycleStage != types.StageActive {
		t.Fatalf("stage must stay sticky on re-ingest: %q", a.LifecycleStage)
	}

	n, _ := fx.episodes.CountByTargetAndOp(fx.dbc, types.TargetArtifact, first.ArtifactID.String(), types.OpIngest)
	if n != 2 {
		t.Fatalf("ingest episodes: want=2 got=%d", n)
	}
}

func TestChangedContentUpdatesWithoutTouchingStage(t *testing.T) {
	fx := newIngestFixture(t)
	in := contentInput()
	if _, err := fx.svc.Ingest(fx.dbc, in); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	a, _ := fx.artifacts.GetByExternalID(fx.dbc, in.ExternalID)
	a.LifecycleStage = types.StageActive
	oldHash := a.ContentHash

	in.Content = "Events are an append-only source of truth."
	res, err := fx.svc.Ingest(fx.dbc, in)
	if err != nil {
		t.Fatalf("re-Ingest: %v", err)
	}
	if res.Unchanged || res.Created {
		t.Fatalf("changed content should update: %+v", res)
	}
	if a.ContentHash == oldHash {
		t.Fatalf("content hash not refreshed")
	}
	if a.LifecycleStage != types.StageActive {
		t.Fatalf("stage must stay sticky on update: %q", a.LifecycleStage)
	}
}

func TestIngestValidation(t *testing.T) {
	fx := newIngestFixture(t)

	in := contentInput()
	in.ExternalID = ""
	if _, err := fx.svc.Ingest(fx.dbc, in); !errs.IsValidation(err) {
		t.Fatalf("missing external_id: want validation error, got %v", err)
	}

	in = contentInput()
	in.ArtifactType = "dataset"
	if _, err := fx.svc.Ingest(fx.dbc, in); !errs.IsValidation(err) {
		t.Fatalf("unknown artifact type: want validation error, got %v", err)
	}

	in = contentInput()
	missing := uuid.New()
	in.PrimaryPatternID = &missing
	if _, err := fx.svc.Ingest(fx.dbc, in); err == nil {
		t.Fatalf("missing primary pattern should error")
	}
}
