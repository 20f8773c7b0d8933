package taxonomy

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Lifecycle stages shared by patterns and artifacts.
const (
	StageDraft      = "draft"
	StageActive     = "active"
	StageStable     = "stable"
	StageDeprecated = "deprecated"
	StageArchived   = "archived"
)

// Provenance tags.
const (
	ProvenanceOwn      = "own"
	ProvenanceJoint    = "joint"
	ProvenanceExternal = "external-reference"
)

// Pattern types.
const (
	PatternTypeConcept        = "concept"
	PatternTypeDomainModel    = "domain-model"
	PatternTypeImplementation = "implementation-choice"
)

// Pattern is a canonical, versionable semantic unit in the taxonomy.
// Patterns are never hard-deleted; retirement is a stage transition to
// archived.
type Pattern struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	Slug       string `gorm:"column:slug;not null;uniqueIndex" json:"slug"`
	Label      string `gorm:"column:label;not null" json:"label"`
	Definition string `gorm:"column:definition;type:text" json:"definition,omitempty"`

	AltLabels   datatypes.JSON `gorm:"column:alt_labels;type:jsonb" json:"alt_labels,omitempty"`
	Provenance  string         `gorm:"column:provenance;not null;default:'own';index" json:"provenance"`
	PatternType string         `gorm:"column:pattern_type;not null;default:'concept';index" json:"pattern_type"`
	Metadata    datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	VectorID       string `gorm:"column:vector_id;index" json:"vector_id,omitempty"`
	LifecycleStage string `gorm:"column:lifecycle_stage;not null;default:'draft';index" json:"lifecycle_stage"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Pattern) TableName() string { return "pattern" }

func ValidStage(stage string) bool {
	switch stage {
	case StageDraft, StageActive, StageStable, StageDeprecated, StageArchived:
		return true
	}
	return false
}
