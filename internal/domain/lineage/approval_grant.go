package lineage

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalGrant records the explicit sign-off that lets a hard-gated
// transition episode take effect.
type ApprovalGrant struct {
	ID              uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	EpisodeID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"episode_id"`
	ApproverSubject string    `gorm:"column:approver_subject;not null" json:"approver_subject"`
	GrantedAt       time.Time `gorm:"not null;default:now()" json:"granted_at"`
}

func (ApprovalGrant) TableName() string { return "approval_grant" }
