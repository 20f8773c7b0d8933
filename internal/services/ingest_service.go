package services

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	taxrepo "github.com/semops/semops-backend/internal/data/repos/taxonomy"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

// IngestInput is one artifact submission. Metadata must satisfy the schema
// variant of its artifact type.
type IngestInput struct {
	ExternalID       string                 `json:"external_id"`
	ArtifactType     string                 `json:"artifact_type"`
	Title            string                 `json:"title"`
	Content          string                 `json:"content"`
	Metadata         map[string]interface{} `json:"metadata"`
	PrimaryPatternID *uuid.UUID             `json:"primary_pattern_id,omitempty"`
}

type IngestResult struct {
	ArtifactID uuid.UUID `json:"artifact_id"`
	EpisodeID  uuid.UUID `json:"episode_id"`
	Created    bool      `json:"created"`
	Unchanged  bool      `json:"unchanged"`
}

// IngestService upserts artifacts keyed by external id. Re-ingesting
// identical content records a fresh ingest episode but changes no state;
// the lifecycle stage is sticky either way.
type IngestService interface {
	Ingest(dbc dbctx.Context, in IngestInput) (*IngestResult, error)
}

type ingestService struct {
	log       *logger.Logger
	artifacts taxrepo.ArtifactRepo
	patterns  taxrepo.PatternRepo
	rec       *lineage.Recorder
}

func NewIngestService(
	baseLog *logger.Logger,
	artifacts taxrepo.ArtifactRepo,
	patterns taxrepo.PatternRepo,
	rec *lineage.Recorder,
) IngestService {
	return &ingestService{
		log:       baseLog.With("service", "IngestService"),
		artifacts: artifacts,
		patterns:  patterns,
		rec:       rec,
	}
}

func (s *ingestService) Ingest(dbc dbctx.Context, in IngestInput) (*IngestResult, error) {
	if in.ExternalID == "" {
		return nil, errs.Validation("external_id", "required")
	}
	if !types.ValidArtifactType(in.ArtifactType) {
		return nil, errs.Validation("artifact_type", fmt.Sprintf("unknown artifact type %q", in.ArtifactType))
	}

	var rawMeta datatypes.JSON
	if len(in.Metadata) > 0 {
		raw, err := json.Marshal(in.Metadata)
		if err != nil {
			return nil, errs.Validation("metadata", err.Error())
		}
		rawMeta = raw
	}
	if err := types.ValidateMetadata(in.ArtifactType, rawMeta); err != nil {
		return nil, errs.Validation("metadata", err.Error())
	}
	if in.PrimaryPatternID != nil {
		p, err := s.patterns.GetByID(dbc, *in.PrimaryPatternID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, fmt.Errorf("primary pattern %s: %w", in.PrimaryPatternID, errs.ErrNotFound)
		}
	}

	contentHash := types.InputHash(in.ExternalID + "\n" + in.Title + "\n" + in.Content + "\n" + string(rawMeta))

	existing, err := s.artifacts.GetByExternalID(dbc, in.ExternalID)
	if err != nil {
		return nil, err
	}

	artifact := existing
	created := false
	if artifact == nil {
		created = true
		artifact = &types.Artifact{
			ID:               uuid.New(),
			ExternalID:       in.ExternalID,
			ArtifactType:     in.ArtifactType,
			Title:            in.Title,
			Metadata:         rawMeta,
			ContentHash:      contentHash,
			PrimaryPatternID: in.PrimaryPatternID,
			LifecycleStage:   types.StageDraft,
		}
	}

	unchanged := existing != nil && existing.ContentHash == contentHash

	draft := &types.Episode{
		Operation:  types.OpIngest,
		TargetType: types.TargetArtifact,
		TargetID:   artifact.ID.String(),
	}
	ep, err := s.rec.Record(dbc, draft, func(ep *types.Episode) error {
		ep.InputHash = contentHash

		if unchanged {
			// Idempotent re-ingest: the episode is the only thing written.
			ep.Rationale = "content unchanged, no state written"
			return nil
		}

		if created {
			if cerr := s.artifacts.UpsertByExternalID(dbc, artifact); cerr != nil {
				return cerr
			}
			ep.Rationale = "artifact created"
			return nil
		}

		// Content changed on a known artifact: update the payload fields
		// only. Stage and primary pattern are sticky; attribution changes
		// go through their own operations.
		updates := map[string]interface{}{
			"title":        in.Title,
			"metadata":     rawMeta,
			"content_hash": contentHash,
		}
		if uerr := s.artifacts.UpdateFields(dbc, artifact.ID, updates); uerr != nil {
			return uerr
		}
		if in.PrimaryPatternID != nil && artifact.PrimaryPatternID == nil {
			if perr := s.artifacts.SetPrimaryPattern(dbc, artifact.ID, in.PrimaryPatternID); perr != nil {
				return perr
			}
		}
		ep.Rationale = "artifact content updated"
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &IngestResult{
		ArtifactID: artifact.ID,
		EpisodeID:  ep.ID,
		Created:    created,
		Unchanged:  unchanged,
	}, nil
}
