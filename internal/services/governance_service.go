package services

import (
	"github.com/google/uuid"

	"github.com/semops/semops-backend/internal/coherence"
	"github.com/semops/semops-backend/internal/lifecycle"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

// GovernanceService fronts the lifecycle governor and the coherence
// scorer for the HTTP surface.
type GovernanceService interface {
	ProposeTransition(dbc dbctx.Context, targetType string, targetID uuid.UUID, toStage, visibility string) (*lifecycle.Result, error)
	ApproveTransition(dbc dbctx.Context, episodeID uuid.UUID, approverSubject string) (*lifecycle.Result, error)
	ScoreCoherence(dbc dbctx.Context, patternID uuid.UUID, mode string) (*coherence.Result, error)
}

type governanceService struct {
	log    *logger.Logger
	gov    *lifecycle.Governor
	scorer *coherence.Scorer
}

func NewGovernanceService(baseLog *logger.Logger, gov *lifecycle.Governor, scorer *coherence.Scorer) GovernanceService {
	return &governanceService{
		log:    baseLog.With("service", "GovernanceService"),
		gov:    gov,
		scorer: scorer,
	}
}

func (s *governanceService) ProposeTransition(dbc dbctx.Context, targetType string, targetID uuid.UUID, toStage, visibility string) (*lifecycle.Result, error) {
	vis, err := lifecycle.ParseVisibility(visibility)
	if err != nil {
		return nil, err
	}
	return s.gov.ProposeTransition(dbc, targetType, targetID, toStage, vis)
}

func (s *governanceService) ApproveTransition(dbc dbctx.Context, episodeID uuid.UUID, approverSubject string) (*lifecycle.Result, error) {
	return s.gov.ApproveTransition(dbc, episodeID, approverSubject)
}

// ScoreCoherence computes and records the score, then routes any
// regression through the governor's self-correcting path. A failure there
// is logged, not returned: the score itself is already committed.
func (s *governanceService) ScoreCoherence(dbc dbctx.Context, patternID uuid.UUID, mode string) (*coherence.Result, error) {
	m, err := coherence.ParseMode(mode)
	if err != nil {
		return nil, errs.Validation("mode", err.Error())
	}
	res, err := s.scorer.Score(dbc, patternID, m)
	if err != nil {
		return nil, err
	}
	if res.Regression {
		if herr := s.gov.HandleRegression(dbc, patternID, res); herr != nil {
			s.log.Error("regression handling failed", "pattern_id", patternID, "error", herr)
		}
	}
	return res, nil
}
