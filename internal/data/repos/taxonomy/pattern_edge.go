package taxonomy

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

type PatternEdgeRepo interface {
	Create(dbc dbctx.Context, rows []*types.PatternEdge) ([]*types.PatternEdge, error)
	Upsert(dbc dbctx.Context, row *types.PatternEdge) error

	GetBySrcPatternIDs(dbc dbctx.Context, srcIDs []uuid.UUID) ([]*types.PatternEdge, error)
	GetByDstPatternIDs(dbc dbctx.Context, dstIDs []uuid.UUID) ([]*types.PatternEdge, error)
	GetByPatternIDs(dbc dbctx.Context, patternIDs []uuid.UUID) ([]*types.PatternEdge, error)
	GetByPredicates(dbc dbctx.Context, predicates []string) ([]*types.PatternEdge, error)
	Exists(dbc dbctx.Context, srcID, dstID uuid.UUID, predicate string) (bool, error)
}

type patternEdgeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPatternEdgeRepo(db *gorm.DB, baseLog *logger.Logger) PatternEdgeRepo {
	return &patternEdgeRepo{db: db, log: baseLog.With("repo", "PatternEdgeRepo")}
}

func (r *patternEdgeRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *patternEdgeRepo) Create(dbc dbctx.Context, rows []*types.PatternEdge) ([]*types.PatternEdge, error) {
	if len(rows) == 0 {
		return []*types.PatternEdge{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *patternEdgeRepo) Upsert(dbc dbctx.Context, row *types.PatternEdge) error {
	if row == nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "src_pattern_id"}, {Name: "dst_pattern_id"}, {Name: "predicate"}},
			DoUpdates: clause.AssignmentColumns([]string{"strength", "evidence", "updated_at"}),
		}).
		Create(row).Error
}

func (r *patternEdgeRepo) GetBySrcPatternIDs(dbc dbctx.Context, srcIDs []uuid.UUID) ([]*types.PatternEdge, error) {
	var out []*types.PatternEdge
	if len(srcIDs) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("src_pattern_id IN ?", srcIDs).
		Order("src_pattern_id ASC, predicate ASC, strength DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *patternEdgeRepo) GetByDstPatternIDs(dbc dbctx.Context, dstIDs []uuid.UUID) ([]*types.PatternEdge, error) {
	var out []*types.PatternEdge
	if len(dstIDs) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("dst_pattern_id IN ?", dstIDs).
		Order("dst_pattern_id ASC, predicate ASC, strength DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *patternEdgeRepo) GetByPatternIDs(dbc dbctx.Context, patternIDs []uuid.UUID) ([]*types.PatternEdge, error) {
	var out []*types.PatternEdge
	if len(patternIDs) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("src_pattern_id IN ? OR dst_pattern_id IN ?", patternIDs, patternIDs).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *patternEdgeRepo) GetByPredicates(dbc dbctx.Context, predicates []string) ([]*types.PatternEdge, error) {
	var out []*types.PatternEdge
	if len(predicates) == 0 {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("predicate IN ?", predicates).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *patternEdgeRepo) Exists(dbc dbctx.Context, srcID, dstID uuid.UUID, predicate string) (bool, error) {
	var count int64
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.PatternEdge{}).
		Where("src_pattern_id = ? AND dst_pattern_id = ? AND predicate = ?", srcID, dstID, predicate).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
