package lineage

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

type ApprovalGrantRepo interface {
	Create(dbc dbctx.Context, row *types.ApprovalGrant) error
	GetByEpisodeID(dbc dbctx.Context, episodeID uuid.UUID) (*types.ApprovalGrant, error)
}

type approvalGrantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewApprovalGrantRepo(db *gorm.DB, baseLog *logger.Logger) ApprovalGrantRepo {
	return &approvalGrantRepo{db: db, log: baseLog.With("repo", "ApprovalGrantRepo")}
}

func (r *approvalGrantRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *approvalGrantRepo) Create(dbc dbctx.Context, row *types.ApprovalGrant) error {
	if row == nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).Create(row).Error
}

func (r *approvalGrantRepo) GetByEpisodeID(dbc dbctx.Context, episodeID uuid.UUID) (*types.ApprovalGrant, error) {
	if episodeID == uuid.Nil {
		return nil, nil
	}
	var row types.ApprovalGrant
	err := r.conn(dbc).WithContext(dbc.Ctx).Where("episode_id = ?", episodeID).Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}
