package taxonomy

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

type ArtifactRepo interface {
	// UpsertByExternalID keeps re-ingestion idempotent: content fields are
	// refreshed, lifecycle_stage and primary_pattern_id are left untouched.
	UpsertByExternalID(dbc dbctx.Context, row *types.Artifact) error

	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Artifact, error)
	GetByExternalID(dbc dbctx.Context, externalID string) (*types.Artifact, error)
	GetByPrimaryPatternIDs(dbc dbctx.Context, patternIDs []uuid.UUID) ([]*types.Artifact, error)
	GetOrphans(dbc dbctx.Context, limit int) ([]*types.Artifact, error)
	GetByStages(dbc dbctx.Context, stages []string) ([]*types.Artifact, error)

	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	SetPrimaryPattern(dbc dbctx.Context, id uuid.UUID, patternID *uuid.UUID) error
	SetStage(dbc dbctx.Context, id uuid.UUID, stage string) error
}

type artifactRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewArtifactRepo(db *gorm.DB, baseLog *logger.Logger) ArtifactRepo {
	return &artifactRepo{db: db, log: baseLog.With("repo", "ArtifactRepo")}
}

func (r *artifactRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *artifactRepo) UpsertByExternalID(dbc dbctx.Context, row *types.Artifact) error {
	if row == nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"artifact_type", "title", "metadata", "content_hash",
				"vector_id", "updated_at",
			}),
		}).
		Create(row).Error
}

func (r *artifactRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Artifact, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Artifact
	err := r.conn(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *artifactRepo) GetByExternalID(dbc dbctx.Context, externalID string) (*types.Artifact, error) {
	if externalID == "" {
		return nil, nil
	}
	var row types.Artifact
	err := r.conn(dbc).WithContext(dbc.Ctx).Where("external_id = ?", externalID).Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *artifactRepo) GetByPrimaryPatternIDs(dbc dbctx.Context, patternIDs []uuid.UUID) ([]*types.Artifact, error) {
	var out []*types.Artifact
	if len(patternIDs) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("primary_pattern_id IN ?", patternIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *artifactRepo) GetOrphans(dbc dbctx.Context, limit int) ([]*types.Artifact, error) {
	var out []*types.Artifact
	q := r.conn(dbc).WithContext(dbc.Ctx).
		Where("primary_pattern_id IS NULL").
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *artifactRepo) GetByStages(dbc dbctx.Context, stages []string) ([]*types.Artifact, error) {
	var out []*types.Artifact
	if len(stages) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("lifecycle_stage IN ?", stages).
		Order("external_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *artifactRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Artifact{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *artifactRepo) SetPrimaryPattern(dbc dbctx.Context, id uuid.UUID, patternID *uuid.UUID) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{"primary_pattern_id": patternID})
}

func (r *artifactRepo) SetStage(dbc dbctx.Context, id uuid.UUID, stage string) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{"lifecycle_stage": stage})
}
