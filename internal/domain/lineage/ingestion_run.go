package lineage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Ingestion run statuses.
const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Run types.
const (
	RunTypeManual    = "manual"
	RunTypeScheduled = "scheduled"
	RunTypeAgent     = "agent"
)

// Job types carried by claimable runs.
const (
	JobTypeIngestBatch = "ingest_batch"
	JobTypeAudit       = "audit"
)

// IngestionRun groups the episodes produced by one batch execution and
// doubles as the claimable job row for the audit worker. Cancelling a run
// stops scheduling further stages; committed episodes are never rolled
// back.
type IngestionRun struct {
	ID uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`

	RunType    string `gorm:"column:run_type;not null;default:'manual'" json:"run_type"`
	JobType    string `gorm:"column:job_type;not null;index" json:"job_type"`
	AgentName  string `gorm:"column:agent_name" json:"agent_name,omitempty"`
	SourceName string `gorm:"column:source_name;index" json:"source_name,omitempty"`

	Status   string         `gorm:"column:status;not null;default:'pending';index" json:"status"`
	Metrics  datatypes.JSON `gorm:"column:metrics;type:jsonb" json:"metrics,omitempty"`
	Payload  datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	Error    string         `gorm:"column:error" json:"error,omitempty"`
	Attempts int            `gorm:"column:attempts;not null;default:0" json:"attempts"`

	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	SourceConfig datatypes.JSON `gorm:"column:source_config;type:jsonb" json:"source_config,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (IngestionRun) TableName() string { return "ingestion_run" }

// RunMetrics are the aggregated counters stored on a run.
type RunMetrics struct {
	ArtifactsIngested int `json:"artifacts_ingested"`
	ArtifactsUpdated  int `json:"artifacts_updated"`
	PatternsCreated   int `json:"patterns_created"`
	EdgesCreated      int `json:"edges_created"`
	EpisodesWritten   int `json:"episodes_written"`
	Errors            int `json:"errors"`
}
