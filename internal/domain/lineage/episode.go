package lineage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Operation kinds recorded on episodes.
const (
	OpIngest          = "ingest"
	OpClassify        = "classify"
	OpEmbed           = "embed"
	OpProposeEdge     = "propose_edge"
	OpPublish         = "publish"
	OpRegisterPattern = "register_pattern"
	OpTransitionStage = "transition_stage"
)

// Episode target types.
const (
	TargetPattern  = "pattern"
	TargetArtifact = "artifact"
	TargetEdge     = "edge"
)

// Flags attached to episodes by the coherence scorer and governance engine.
const (
	FlagRegression             = "regression"
	FlagPendingApproval        = "pending_approval"
	FlagDeprecationRecommended = "deprecation_recommended"
)

// DetectedEdge is a relationship proposed (not committed) by a classifier
// stage, kept on the episode for later approval.
type DetectedEdge struct {
	Predicate  string  `json:"predicate"`
	TargetID   string  `json:"target_id"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
	Vetoed     bool    `json:"vetoed,omitempty"`
	VetoReason string  `json:"veto_reason,omitempty"`
}

// Episode is an immutable record of one operation against the taxonomy.
// Episodes are append-only and form the complete version history of every
// entity; repos expose no update or delete path.
type Episode struct {
	ID    uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	RunID *uuid.UUID `gorm:"type:uuid;column:run_id;index" json:"run_id,omitempty"`

	Operation  string `gorm:"column:operation;not null;index" json:"operation"`
	TargetType string `gorm:"column:target_type;not null;index:idx_episode_target,priority:1" json:"target_type"`
	TargetID   string `gorm:"column:target_id;not null;index:idx_episode_target,priority:2" json:"target_id"`

	// Classifier stage that produced this episode, empty for non-stage ops.
	Stage string `gorm:"column:stage;index" json:"stage,omitempty"`

	ContextPatternIDs  datatypes.JSON `gorm:"column:context_pattern_ids;type:jsonb" json:"context_pattern_ids,omitempty"`
	ContextArtifactIDs datatypes.JSON `gorm:"column:context_artifact_ids;type:jsonb" json:"context_artifact_ids,omitempty"`

	CoherenceScore *float64 `gorm:"column:coherence_score" json:"coherence_score,omitempty"`

	AgentName    string         `gorm:"column:agent_name" json:"agent_name,omitempty"`
	AgentVersion string         `gorm:"column:agent_version" json:"agent_version,omitempty"`
	ModelName    string         `gorm:"column:model_name" json:"model_name,omitempty"`
	PromptHash   string         `gorm:"column:prompt_hash" json:"prompt_hash,omitempty"`
	TokenUsage   datatypes.JSON `gorm:"column:token_usage;type:jsonb" json:"token_usage,omitempty"`

	Scores        datatypes.JSON `gorm:"column:scores;type:jsonb" json:"scores,omitempty"`
	Labels        datatypes.JSON `gorm:"column:labels;type:jsonb" json:"labels,omitempty"`
	Confidence    *float64       `gorm:"column:confidence" json:"confidence,omitempty"`
	Rationale     string         `gorm:"column:rationale;type:text" json:"rationale,omitempty"`
	DetectedEdges datatypes.JSON `gorm:"column:detected_edges;type:jsonb" json:"detected_edges,omitempty"`

	InputHash    string         `gorm:"column:input_hash;index" json:"input_hash,omitempty"`
	Degraded     bool           `gorm:"column:degraded;not null;default:false" json:"degraded"`
	Flag         string         `gorm:"column:flag;index" json:"flag,omitempty"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`
	Metadata     datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
}

func (Episode) TableName() string { return "episode" }

// InputHash computes the reproducibility hash recorded on episodes:
// sha256 of the classified input, truncated to 16 hex chars.
func InputHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return "sha256:" + hex.EncodeToString(sum[:])[:16]
}
