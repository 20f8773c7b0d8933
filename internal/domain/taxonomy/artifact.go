package taxonomy

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Artifact types.
const (
	ArtifactTypeContent    = "content"
	ArtifactTypeCapability = "capability"
	ArtifactTypeRepository = "repository"
)

// Artifact is a concrete governed thing, optionally attributed to exactly
// one primary pattern. A nil PrimaryPatternID means the artifact is an
// orphan. Re-ingestion is an idempotent upsert keyed by ExternalID; the
// lifecycle stage is sticky and only changes through an explicit
// transition episode.
type Artifact struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	ExternalID   string `gorm:"column:external_id;not null;uniqueIndex" json:"external_id"`
	ArtifactType string `gorm:"column:artifact_type;not null;index" json:"artifact_type"`
	Title        string `gorm:"column:title" json:"title,omitempty"`

	PrimaryPatternID *uuid.UUID `gorm:"type:uuid;column:primary_pattern_id;index" json:"primary_pattern_id,omitempty"`

	Metadata    datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`
	ContentHash string         `gorm:"column:content_hash;index" json:"content_hash,omitempty"`

	VectorID       string `gorm:"column:vector_id;index" json:"vector_id,omitempty"`
	LifecycleStage string `gorm:"column:lifecycle_stage;not null;default:'draft';index" json:"lifecycle_stage"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Artifact) TableName() string { return "artifact" }

func ValidArtifactType(t string) bool {
	switch t {
	case ArtifactTypeContent, ArtifactTypeCapability, ArtifactTypeRepository:
		return true
	}
	return false
}
