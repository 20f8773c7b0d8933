package services

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/classifier"
	taxrepo "github.com/semops/semops-backend/internal/data/repos/taxonomy"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

// ClassifyService resolves a target id to a pattern or artifact and runs
// the staged pipeline against it. The returned episodes are in stage
// order; a partial list is a valid end state.
type ClassifyService interface {
	Classify(dbc dbctx.Context, targetID uuid.UUID, depth classifier.Depth) ([]*types.Episode, error)

	// Reclassify is the governance re-check path: always full depth.
	Reclassify(dbc dbctx.Context, patternID uuid.UUID) error
}

type classifyService struct {
	log       *logger.Logger
	pipeline  *classifier.Pipeline
	patterns  taxrepo.PatternRepo
	artifacts taxrepo.ArtifactRepo
}

func NewClassifyService(
	baseLog *logger.Logger,
	pipeline *classifier.Pipeline,
	patterns taxrepo.PatternRepo,
	artifacts taxrepo.ArtifactRepo,
) ClassifyService {
	return &classifyService{
		log:       baseLog.With("service", "ClassifyService"),
		pipeline:  pipeline,
		patterns:  patterns,
		artifacts: artifacts,
	}
}

func (s *classifyService) Classify(dbc dbctx.Context, targetID uuid.UUID, depth classifier.Depth) ([]*types.Episode, error) {
	in, err := s.resolve(dbc, targetID)
	if err != nil {
		return nil, err
	}
	return s.pipeline.Run(dbc, in, depth)
}

func (s *classifyService) Reclassify(dbc dbctx.Context, patternID uuid.UUID) error {
	_, err := s.Classify(dbc, patternID, classifier.DepthFull)
	return err
}

// resolve tries the id as a pattern first, then as an artifact. The two id
// spaces are both uuids, so a miss on one is not an error.
func (s *classifyService) resolve(dbc dbctx.Context, targetID uuid.UUID) (classifier.Input, error) {
	p, err := s.patterns.GetByID(dbc, targetID)
	if err != nil {
		return classifier.Input{}, err
	}
	if p != nil {
		return classifier.Input{
			TargetType: types.TargetPattern,
			TargetID:   p.ID.String(),
			Pattern:    p,
		}, nil
	}

	a, err := s.artifacts.GetByID(dbc, targetID)
	if err != nil {
		return classifier.Input{}, err
	}
	if a != nil {
		return classifier.Input{
			TargetType: types.TargetArtifact,
			TargetID:   a.ID.String(),
			Artifact:   a,
		}, nil
	}

	return classifier.Input{}, fmt.Errorf("classification target %s: %w", targetID, errs.ErrNotFound)
}
