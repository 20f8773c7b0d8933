package lineage

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

type IngestionRunRepo interface {
	Create(dbc dbctx.Context, rows []*types.IngestionRun) ([]*types.IngestionRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IngestionRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// UpdateFieldsUnlessStatus applies updates only when the run is not in
	// one of the disallowed statuses; returns whether a row changed.
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error)
	// ClaimNextRunnable atomically locks the next pending (or stale
	// running) run of the given job type for a worker.
	ClaimNextRunnable(dbc dbctx.Context, jobType string, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.IngestionRun, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
	GetStatus(dbc dbctx.Context, id uuid.UUID) (string, error)
}

type ingestionRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIngestionRunRepo(db *gorm.DB, baseLog *logger.Logger) IngestionRunRepo {
	return &ingestionRunRepo{db: db, log: baseLog.With("repo", "IngestionRunRepo")}
}

func (r *ingestionRunRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *ingestionRunRepo) Create(dbc dbctx.Context, rows []*types.IngestionRun) ([]*types.IngestionRun, error) {
	if len(rows) == 0 {
		return []*types.IngestionRun{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *ingestionRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IngestionRun, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var row types.IngestionRun
	err := r.conn(dbc).WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *ingestionRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.IngestionRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *ingestionRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowed []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || len(updates) == 0 {
		return false, nil
	}
	q := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&types.IngestionRun{}).
		Where("id = ?", id)
	if len(disallowed) > 0 {
		q = q.Where("status NOT IN ?", disallowed)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *ingestionRunRepo) ClaimNextRunnable(dbc dbctx.Context, jobType string, maxAttempts int, retryDelay, staleRunning time.Duration) (*types.IngestionRun, error) {
	t := r.conn(dbc)
	now := time.Now()
	retryCutoff := now.Add(-retryDelay)
	staleCutoff := now.Add(-staleRunning)

	var claimed *types.IngestionRun
	err := t.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var row types.IngestionRun
		qErr := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("job_type = ?", jobType).
			Where(`
        (
          status = ?
          OR (
            status = ?
            AND attempts < ?
            AND updated_at < ?
          )
          OR (
            status = ?
            AND heartbeat_at IS NOT NULL
            AND heartbeat_at < ?
          )
        )
      `, types.RunStatusPending, types.RunStatusFailed, maxAttempts, retryCutoff, types.RunStatusRunning, staleCutoff).
			Order("created_at ASC").
			First(&row).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := tx.Model(&types.IngestionRun{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"status":       types.RunStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"started_at":   now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		row.Status = types.RunStatusRunning
		row.Attempts++
		claimed = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *ingestionRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{"heartbeat_at": time.Now()})
}

func (r *ingestionRunRepo) GetStatus(dbc dbctx.Context, id uuid.UUID) (string, error) {
	row, err := r.GetByID(dbc, id)
	if err != nil {
		return "", err
	}
	if row == nil {
		return "", nil
	}
	return row.Status, nil
}
