package classifier

import (
	"fmt"

	taxrepo "github.com/semops/semops-backend/internal/data/repos/taxonomy"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"
	"github.com/semops/semops-backend/internal/platform/openai"
	"github.com/semops/semops-backend/internal/platform/vector"
)

// EmbeddingThresholds tune the similarity stage.
type EmbeddingThresholds struct {
	// Duplicate flags a near-identical existing pattern.
	Duplicate float64
	// OrphanLow marks a target whose best match is too weak to anchor it.
	OrphanLow float64
	TopK      int
}

func DefaultEmbeddingThresholds() EmbeddingThresholds {
	return EmbeddingThresholds{Duplicate: 0.95, OrphanLow: 0.8, TopK: 5}
}

// embeddingStage refreshes the target's vector and scores it against the
// approved (active|stable) pattern neighborhood.
type embeddingStage struct {
	log        *logger.Logger
	ai         openai.Client
	vectors    vector.Store
	patterns   taxrepo.PatternRepo
	rec        *lineage.Recorder
	thresholds EmbeddingThresholds
}

func NewEmbeddingStage(
	log *logger.Logger,
	ai openai.Client,
	vectors vector.Store,
	patterns taxrepo.PatternRepo,
	rec *lineage.Recorder,
	thresholds EmbeddingThresholds,
) Stage {
	if thresholds.TopK <= 0 {
		thresholds = DefaultEmbeddingThresholds()
	}
	return &embeddingStage{
		log:        log.With("stage", StageEmbedding),
		ai:         ai,
		vectors:    vectors,
		patterns:   patterns,
		rec:        rec,
		thresholds: thresholds,
	}
}

func (s *embeddingStage) Name() string { return StageEmbedding }

func (s *embeddingStage) Classify(dbc dbctx.Context, in Input) (*StageResult, error) {
	if s.ai == nil || s.vectors == nil {
		return nil, errs.Transient("embedding", fmt.Errorf("embedding dependencies unavailable"))
	}
	content := in.Content()
	if content == "" {
		return nil, errs.Validation("content", "nothing to embed")
	}
	inputHash := types.InputHash(content)

	embedding, err := s.refreshVector(dbc, in, content, inputHash)
	if err != nil {
		return nil, err
	}

	selfVectorID := s.vectorID(in)
	matches, err := s.vectors.QueryMatches(dbc.Ctx, vector.NamespacePatterns, embedding, s.thresholds.TopK+1, map[string]any{
		"lifecycle_stage": []string{types.StageActive, types.StageStable},
	})
	if err != nil {
		return nil, errs.Transient("vector", err)
	}

	var (
		sum       float64
		count     int
		best      float64
		contextID []string
	)
	for _, m := range matches {
		if m.ID == selfVectorID {
			continue
		}
		if count >= s.thresholds.TopK {
			break
		}
		sum += m.Score
		count++
		if m.Score > best {
			best = m.Score
		}
		contextID = append(contextID, m.ID)
	}

	coherenceProxy := 0.0
	if count > 0 {
		coherenceProxy = sum / float64(count)
	}

	patternIDs, err := s.resolvePatternIDs(dbc, contextID)
	if err != nil {
		return nil, err
	}

	isDuplicate := best > s.thresholds.Duplicate
	orphanCandidate := best < s.thresholds.OrphanLow
	rationale := fmt.Sprintf("best approved match %.2f over %d candidates", best, count)
	if isDuplicate {
		rationale = fmt.Sprintf("likely duplicate of an existing pattern (similarity %.2f)", best)
	} else if orphanCandidate {
		rationale = fmt.Sprintf("no approved pattern above %.2f (best %.2f)", s.thresholds.OrphanLow, best)
	}

	return &StageResult{
		Scores: map[string]float64{
			"coherence_proxy":             coherenceProxy,
			"duplicate_similarity":        best,
			"nearest_approved_similarity": best,
		},
		Labels: map[string]any{
			"is_potential_duplicate": isDuplicate,
			"orphan_candidate":       orphanCandidate,
		},
		Confidence:        coherenceProxy,
		Rationale:         rationale,
		ContextPatternIDs: patternIDs,
		InputHash:         inputHash,
		ModelName:         s.ai.EmbedModel(),
	}, nil
}

// refreshVector embeds the content, stores it, and records the refresh as
// its own embed episode.
func (s *embeddingStage) refreshVector(dbc dbctx.Context, in Input, content, inputHash string) ([]float32, error) {
	var embedding []float32
	draft := &types.Episode{
		Operation:  types.OpEmbed,
		TargetType: in.TargetType,
		TargetID:   in.TargetID,
		InputHash:  inputHash,
		ModelName:  s.ai.EmbedModel(),
	}
	_, err := s.rec.Record(dbc, draft, func(ep *types.Episode) error {
		vecs, err := s.ai.Embed(dbc.Ctx, []string{content})
		if err != nil {
			return errs.Transient("openai", err)
		}
		if len(vecs) != 1 {
			return fmt.Errorf("embed returned %d vectors, want 1", len(vecs))
		}
		embedding = vecs[0]

		namespace := vector.NamespacePatterns
		meta := map[string]any{}
		if in.Artifact != nil {
			namespace = vector.NamespaceArtifacts
			meta["artifact_id"] = in.TargetID
			meta["artifact_type"] = in.Artifact.ArtifactType
		} else if in.Pattern != nil {
			meta["pattern_id"] = in.TargetID
			meta["slug"] = in.Pattern.Slug
			meta["lifecycle_stage"] = in.Pattern.LifecycleStage
			meta["pattern_type"] = in.Pattern.PatternType
		}
		if err := s.vectors.Upsert(dbc.Ctx, namespace, []vector.Vector{{
			ID:       s.vectorID(in),
			Values:   embedding,
			Metadata: meta,
		}}); err != nil {
			return errs.Transient("vector", err)
		}
		ep.Rationale = "vector refreshed"
		return nil
	})
	if err != nil {
		return nil, err
	}
	return embedding, nil
}

func (s *embeddingStage) vectorID(in Input) string {
	switch {
	case in.Pattern != nil && in.Pattern.VectorID != "":
		return in.Pattern.VectorID
	case in.Artifact != nil && in.Artifact.VectorID != "":
		return in.Artifact.VectorID
	default:
		return in.TargetID
	}
}

func (s *embeddingStage) resolvePatternIDs(dbc dbctx.Context, vectorIDs []string) ([]string, error) {
	if len(vectorIDs) == 0 {
		return nil, nil
	}
	patterns, err := s.patterns.GetByVectorIDs(dbc, vectorIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve matched patterns: %w", err)
	}
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, p.ID.String())
	}
	return out, nil
}
