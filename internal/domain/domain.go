package domain

import (
	"github.com/semops/semops-backend/internal/domain/lineage"
	"github.com/semops/semops-backend/internal/domain/taxonomy"
)

// Re-exports so callers can import a single package as `types`.

type Pattern = taxonomy.Pattern
type PatternEdge = taxonomy.PatternEdge
type Artifact = taxonomy.Artifact

type Episode = lineage.Episode
type DetectedEdge = lineage.DetectedEdge
type IngestionRun = lineage.IngestionRun
type RunMetrics = lineage.RunMetrics
type ApprovalGrant = lineage.ApprovalGrant

const (
	StageDraft      = taxonomy.StageDraft
	StageActive     = taxonomy.StageActive
	StageStable     = taxonomy.StageStable
	StageDeprecated = taxonomy.StageDeprecated
	StageArchived   = taxonomy.StageArchived

	PredicateBroader  = taxonomy.PredicateBroader
	PredicateNarrower = taxonomy.PredicateNarrower
	PredicateRelated  = taxonomy.PredicateRelated
	PredicateAdopts   = taxonomy.PredicateAdopts
	PredicateExtends  = taxonomy.PredicateExtends
	PredicateModifies = taxonomy.PredicateModifies

	ProvenanceOwn      = taxonomy.ProvenanceOwn
	ProvenanceJoint    = taxonomy.ProvenanceJoint
	ProvenanceExternal = taxonomy.ProvenanceExternal

	PatternTypeConcept        = taxonomy.PatternTypeConcept
	PatternTypeDomainModel    = taxonomy.PatternTypeDomainModel
	PatternTypeImplementation = taxonomy.PatternTypeImplementation

	ArtifactTypeContent    = taxonomy.ArtifactTypeContent
	ArtifactTypeCapability = taxonomy.ArtifactTypeCapability
	ArtifactTypeRepository = taxonomy.ArtifactTypeRepository

	MetadataSchemaContentV1    = taxonomy.MetadataSchemaContentV1
	MetadataSchemaCapabilityV1 = taxonomy.MetadataSchemaCapabilityV1
	MetadataSchemaRepositoryV1 = taxonomy.MetadataSchemaRepositoryV1

	OpIngest          = lineage.OpIngest
	OpClassify        = lineage.OpClassify
	OpEmbed           = lineage.OpEmbed
	OpProposeEdge     = lineage.OpProposeEdge
	OpPublish         = lineage.OpPublish
	OpRegisterPattern = lineage.OpRegisterPattern
	OpTransitionStage = lineage.OpTransitionStage

	TargetPattern  = lineage.TargetPattern
	TargetArtifact = lineage.TargetArtifact
	TargetEdge     = lineage.TargetEdge

	FlagRegression             = lineage.FlagRegression
	FlagPendingApproval        = lineage.FlagPendingApproval
	FlagDeprecationRecommended = lineage.FlagDeprecationRecommended

	RunStatusPending   = lineage.RunStatusPending
	RunStatusRunning   = lineage.RunStatusRunning
	RunStatusCompleted = lineage.RunStatusCompleted
	RunStatusFailed    = lineage.RunStatusFailed
	RunStatusCancelled = lineage.RunStatusCancelled

	RunTypeManual    = lineage.RunTypeManual
	RunTypeScheduled = lineage.RunTypeScheduled
	RunTypeAgent     = lineage.RunTypeAgent

	JobTypeIngestBatch = lineage.JobTypeIngestBatch
	JobTypeAudit       = lineage.JobTypeAudit
)

var (
	ValidStage            = taxonomy.ValidStage
	ValidPredicate        = taxonomy.ValidPredicate
	ValidArtifactType     = taxonomy.ValidArtifactType
	HierarchicalPredicate = taxonomy.HierarchicalPredicate
	CycleCheckedPredicate = taxonomy.CycleCheckedPredicate
	ValidateMetadata      = taxonomy.ValidateMetadata
	InputHash             = lineage.InputHash
)
