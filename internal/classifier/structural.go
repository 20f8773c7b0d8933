package classifier

import (
	"fmt"

	"github.com/google/uuid"

	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/graphstore"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

// structuralStage is the veto authority: it reads graph metrics for the
// target and checks every edge the generative stage proposed against the
// hierarchy cycle invariant. Vetoed proposals stay on the episode, labeled,
// never silently dropped.
type structuralStage struct {
	log   *logger.Logger
	graph *graphstore.Store
}

func NewStructuralStage(log *logger.Logger, graph *graphstore.Store) Stage {
	return &structuralStage{log: log.With("stage", StageStructural), graph: graph}
}

func (s *structuralStage) Name() string { return StageStructural }

func (s *structuralStage) Classify(dbc dbctx.Context, in Input) (*StageResult, error) {
	subjectID, err := s.subjectPatternID(in)
	if err != nil {
		return nil, err
	}

	scores := map[string]float64{}
	labels := map[string]any{}
	rationale := "artifact has no primary pattern; structural signals unavailable"

	if subjectID != uuid.Nil {
		m, merr := s.graph.Metrics(dbc, subjectID)
		if merr != nil {
			return nil, errs.Transient("graph", merr)
		}
		scores["degree"] = float64(m.Degree)
		scores["importance"] = importance(m.Degree, m.DescendantCount)
		labels["is_orphan"] = m.IsOrphan
		rationale = fmt.Sprintf("degree=%d hierarchical=%d descendants=%d", m.Degree, m.HierarchicalDegree, m.DescendantCount)
	} else {
		labels["is_orphan"] = true
	}

	edges, vetoed := s.checkProposals(dbc, subjectID, in)
	labels["vetoed_edge_count"] = vetoed

	return &StageResult{
		Scores:        scores,
		Labels:        labels,
		Confidence:    1.0,
		Rationale:     rationale,
		DetectedEdges: edges,
		InputHash:     types.InputHash(in.Content()),
	}, nil
}

func (s *structuralStage) subjectPatternID(in Input) (uuid.UUID, error) {
	switch {
	case in.Pattern != nil:
		return in.Pattern.ID, nil
	case in.Artifact != nil:
		if in.Artifact.PrimaryPatternID != nil {
			return *in.Artifact.PrimaryPatternID, nil
		}
		return uuid.Nil, nil
	default:
		return uuid.Nil, errs.Validation("target", "classification input carries neither pattern nor artifact")
	}
}

// checkProposals re-emits the generative stage's proposals with veto
// verdicts attached.
func (s *structuralStage) checkProposals(dbc dbctx.Context, subjectID uuid.UUID, in Input) ([]types.DetectedEdge, int) {
	prior, ok := in.Prior[StageGenerative]
	if !ok || len(prior.DetectedEdges) == 0 {
		return nil, 0
	}

	vetoed := 0
	out := make([]types.DetectedEdge, 0, len(prior.DetectedEdges))
	for _, proposal := range prior.DetectedEdges {
		checked := proposal
		targetID, err := uuid.Parse(proposal.TargetID)
		if err != nil {
			checked.Vetoed = true
			checked.VetoReason = "proposal target is not a pattern id"
			vetoed++
			out = append(out, checked)
			continue
		}
		if subjectID == uuid.Nil {
			checked.Vetoed = true
			checked.VetoReason = "no subject pattern to anchor the edge"
			vetoed++
			out = append(out, checked)
			continue
		}
		if types.CycleCheckedPredicate(proposal.Predicate) {
			cycle, cerr := s.graph.DetectCycle(dbc, subjectID, targetID, proposal.Predicate)
			if cerr != nil {
				checked.Vetoed = true
				checked.VetoReason = fmt.Sprintf("cycle check failed: %v", cerr)
				vetoed++
				out = append(out, checked)
				continue
			}
			if cycle {
				checked.Vetoed = true
				checked.VetoReason = "edge would close a hierarchy cycle"
				vetoed++
			}
		}
		out = append(out, checked)
	}
	return out, vetoed
}

// importance is a degree-weighted centrality proxy in [0,1); real PageRank
// would need the full graph in memory for little extra signal at this
// scale.
func importance(degree, descendants int64) float64 {
	w := float64(degree) + 0.5*float64(descendants)
	return w / (w + 8)
}
