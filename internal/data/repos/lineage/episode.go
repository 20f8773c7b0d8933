package lineage

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

// EpisodeRepo is append-only on purpose: there is no update or delete.
type EpisodeRepo interface {
	Create(dbc dbctx.Context, rows []*types.Episode) ([]*types.Episode, error)

	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Episode, error)
	GetByRunID(dbc dbctx.Context, runID uuid.UUID) ([]*types.Episode, error)
	// GetRecentByTarget returns newest first, up to limit.
	GetRecentByTarget(dbc dbctx.Context, targetType, targetID string, limit int) ([]*types.Episode, error)
	// GetRecentScoredByTarget returns the newest episodes carrying a
	// coherence score, newest first.
	GetRecentScoredByTarget(dbc dbctx.Context, targetType, targetID string, limit int) ([]*types.Episode, error)
	// GetLatestByTargetAndOps returns the newest episode for the target
	// whose operation is in ops, or nil.
	GetLatestByTargetAndOps(dbc dbctx.Context, targetType, targetID string, ops []string) (*types.Episode, error)
	GetByTargetAndStage(dbc dbctx.Context, targetType, targetID, stage string, limit int) ([]*types.Episode, error)
	CountByTargetAndOp(dbc dbctx.Context, targetType, targetID, op string) (int64, error)
}

type episodeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEpisodeRepo(db *gorm.DB, baseLog *logger.Logger) EpisodeRepo {
	return &episodeRepo{db: db, log: baseLog.With("repo", "EpisodeRepo")}
}

func (r *episodeRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *episodeRepo) Create(dbc dbctx.Context, rows []*types.Episode) ([]*types.Episode, error) {
	if len(rows) == 0 {
		return []*types.Episode{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *episodeRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Episode, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.Episode
	err := r.conn(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *episodeRepo) GetByRunID(dbc dbctx.Context, runID uuid.UUID) ([]*types.Episode, error) {
	var out []*types.Episode
	if runID == uuid.Nil {
		return out, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("run_id = ?", runID).
		Order("created_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *episodeRepo) GetRecentByTarget(dbc dbctx.Context, targetType, targetID string, limit int) ([]*types.Episode, error) {
	var out []*types.Episode
	if targetType == "" || targetID == "" {
		return out, nil
	}
	q := r.conn(dbc).WithContext(dbc.Ctx).
		Where("target_type = ? AND target_id = ?", targetType, targetID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *episodeRepo) GetRecentScoredByTarget(dbc dbctx.Context, targetType, targetID string, limit int) ([]*types.Episode, error) {
	var out []*types.Episode
	if targetType == "" || targetID == "" {
		return out, nil
	}
	q := r.conn(dbc).WithContext(dbc.Ctx).
		Where("target_type = ? AND target_id = ? AND coherence_score IS NOT NULL", targetType, targetID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *episodeRepo) GetLatestByTargetAndOps(dbc dbctx.Context, targetType, targetID string, ops []string) (*types.Episode, error) {
	if targetType == "" || targetID == "" || len(ops) == 0 {
		return nil, nil
	}
	var row types.Episode
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("target_type = ? AND target_id = ? AND operation IN ?", targetType, targetID, ops).
		Order("created_at DESC").
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *episodeRepo) GetByTargetAndStage(dbc dbctx.Context, targetType, targetID, stage string, limit int) ([]*types.Episode, error) {
	var out []*types.Episode
	if targetType == "" || targetID == "" || stage == "" {
		return out, nil
	}
	q := r.conn(dbc).WithContext(dbc.Ctx).
		Where("target_type = ? AND target_id = ? AND stage = ?", targetType, targetID, stage).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *episodeRepo) CountByTargetAndOp(dbc dbctx.Context, targetType, targetID, op string) (int64, error) {
	var count int64
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.Episode{}).
		Where("target_type = ? AND target_id = ? AND operation = ?", targetType, targetID, op).
		Count(&count).Error
	return count, err
}
