package taxonomy

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

type PatternRepo interface {
	Create(dbc dbctx.Context, rows []*types.Pattern) ([]*types.Pattern, error)
	UpsertBySlug(dbc dbctx.Context, row *types.Pattern) error

	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Pattern, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Pattern, error)
	GetBySlug(dbc dbctx.Context, slug string) (*types.Pattern, error)
	GetByStages(dbc dbctx.Context, stages []string) ([]*types.Pattern, error)
	GetByVectorIDs(dbc dbctx.Context, vectorIDs []string) ([]*types.Pattern, error)

	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	SetStage(dbc dbctx.Context, id uuid.UUID, stage string) error
}

type patternRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPatternRepo(db *gorm.DB, baseLog *logger.Logger) PatternRepo {
	return &patternRepo{db: db, log: baseLog.With("repo", "PatternRepo")}
}

func (r *patternRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *patternRepo) Create(dbc dbctx.Context, rows []*types.Pattern) ([]*types.Pattern, error) {
	if len(rows) == 0 {
		return []*types.Pattern{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *patternRepo) UpsertBySlug(dbc dbctx.Context, row *types.Pattern) error {
	if row == nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"label", "definition", "alt_labels", "provenance",
				"pattern_type", "metadata", "vector_id", "updated_at",
			}),
		}).
		Create(row).Error
}

func (r *patternRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Pattern, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Pattern
	err := r.conn(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *patternRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Pattern, error) {
	var out []*types.Pattern
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Where("id IN ?", ids).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *patternRepo) GetBySlug(dbc dbctx.Context, slug string) (*types.Pattern, error) {
	if slug == "" {
		return nil, nil
	}
	var row types.Pattern
	err := r.conn(dbc).WithContext(dbc.Ctx).Where("slug = ?", slug).Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *patternRepo) GetByStages(dbc dbctx.Context, stages []string) ([]*types.Pattern, error) {
	var out []*types.Pattern
	if len(stages) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("lifecycle_stage IN ?", stages).
		Order("slug ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *patternRepo) GetByVectorIDs(dbc dbctx.Context, vectorIDs []string) ([]*types.Pattern, error) {
	var out []*types.Pattern
	if len(vectorIDs) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Where("vector_id IN ?", vectorIDs).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *patternRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Pattern{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *patternRepo) SetStage(dbc dbctx.Context, id uuid.UUID, stage string) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{"lifecycle_stage": stage})
}
