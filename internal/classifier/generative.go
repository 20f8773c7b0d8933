package classifier

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	taxrepo "github.com/semops/semops-backend/internal/data/repos/taxonomy"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"
	"github.com/semops/semops-backend/internal/platform/openai"
)

const generativeSystemPrompt = `You are a taxonomy quality reviewer for a semantic-pattern catalog.
Score the subject on each axis in [0,1] and propose relationships only when
the evidence in the provided candidates supports them. Allowed predicates:
broader, narrower, related, adopts, extends, modifies.`

var qualitySchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required": []string{
		"definition_quality", "naming_quality", "scope_appropriateness",
		"semantic_fit", "rationale", "detected_edges",
	},
	"properties": map[string]any{
		"definition_quality":    map[string]any{"type": "number"},
		"naming_quality":        map[string]any{"type": "number"},
		"scope_appropriateness": map[string]any{"type": "number"},
		"semantic_fit":          map[string]any{"type": "number"},
		"rationale":             map[string]any{"type": "string"},
		"detected_edges": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []string{"predicate", "target_id", "confidence", "rationale"},
				"properties": map[string]any{
					"predicate":  map[string]any{"type": "string"},
					"target_id":  map[string]any{"type": "string"},
					"confidence": map[string]any{"type": "number"},
					"rationale":  map[string]any{"type": "string"},
				},
			},
		},
	},
}

// generativeStage asks the model to judge quality axes and to propose (but
// never commit) candidate edges against the embedding stage's neighborhood.
type generativeStage struct {
	log      *logger.Logger
	ai       openai.Client
	patterns taxrepo.PatternRepo
}

func NewGenerativeStage(log *logger.Logger, ai openai.Client, patterns taxrepo.PatternRepo) Stage {
	return &generativeStage{log: log.With("stage", StageGenerative), ai: ai, patterns: patterns}
}

func (s *generativeStage) Name() string { return StageGenerative }

func (s *generativeStage) Classify(dbc dbctx.Context, in Input) (*StageResult, error) {
	if s.ai == nil {
		return nil, errs.Transient("openai", fmt.Errorf("generative client unavailable"))
	}
	content := in.Content()
	if content == "" {
		return nil, errs.Validation("content", "nothing to assess")
	}

	candidates, err := s.loadCandidates(dbc, in)
	if err != nil {
		return nil, err
	}

	prompt := s.buildPrompt(in, content, candidates)
	out, err := s.ai.GenerateJSON(dbc.Ctx, generativeSystemPrompt, prompt, "pattern_quality", qualitySchema)
	if err != nil {
		return nil, errs.Transient("openai", err)
	}

	scores := map[string]float64{}
	for _, axis := range []string{"definition_quality", "naming_quality", "scope_appropriateness", "semantic_fit"} {
		scores[axis] = clamp01(numberField(out, axis))
	}
	rationale, _ := out["rationale"].(string)
	edges := s.parseDetectedEdges(out, candidates)

	confidence := (scores["definition_quality"] + scores["naming_quality"] +
		scores["scope_appropriateness"] + scores["semantic_fit"]) / 4

	return &StageResult{
		Scores:            scores,
		Labels:            map[string]any{"proposed_edge_count": len(edges)},
		Confidence:        confidence,
		Rationale:         rationale,
		DetectedEdges:     edges,
		ContextPatternIDs: candidateIDs(candidates),
		InputHash:         types.InputHash(content),
		ModelName:         s.ai.Model(),
		PromptHash:        types.InputHash(generativeSystemPrompt + "\n" + prompt),
	}, nil
}

// loadCandidates prefers the embedding stage's neighborhood; without one it
// assesses quality axes against an empty candidate set.
func (s *generativeStage) loadCandidates(dbc dbctx.Context, in Input) ([]*types.Pattern, error) {
	prior, ok := in.Prior[StageEmbedding]
	if !ok || len(prior.ContextPatternIDs) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(prior.ContextPatternIDs))
	for _, raw := range prior.ContextPatternIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	patterns, err := s.patterns.GetByIDs(dbc, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidate patterns: %w", err)
	}
	return patterns, nil
}

func (s *generativeStage) buildPrompt(in Input, content string, candidates []*types.Pattern) string {
	var b strings.Builder
	b.WriteString("Subject (")
	b.WriteString(in.TargetType)
	b.WriteString("):\n")
	b.WriteString(content)
	b.WriteString("\n\nCandidate patterns:\n")
	if len(candidates) == 0 {
		b.WriteString("(none)\n")
	}
	for _, c := range candidates {
		fmt.Fprintf(&b, "- id=%s slug=%s label=%q definition=%q\n", c.ID, c.Slug, c.Label, c.Definition)
	}
	return b.String()
}

// parseDetectedEdges keeps only proposals with a known predicate and a
// target drawn from the candidate set; everything else is noise the model
// made up.
func (s *generativeStage) parseDetectedEdges(out map[string]any, candidates []*types.Pattern) []types.DetectedEdge {
	rawList, ok := out["detected_edges"].([]any)
	if !ok {
		return nil
	}
	known := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		known[c.ID.String()] = struct{}{}
	}

	var edges []types.DetectedEdge
	for _, raw := range rawList {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		predicate, _ := obj["predicate"].(string)
		targetID, _ := obj["target_id"].(string)
		rationale, _ := obj["rationale"].(string)
		if !types.ValidPredicate(predicate) {
			s.log.Warn("dropping proposal with unknown predicate", "predicate", predicate)
			continue
		}
		if _, ok := known[targetID]; !ok {
			s.log.Warn("dropping proposal targeting non-candidate pattern", "target_id", targetID)
			continue
		}
		edges = append(edges, types.DetectedEdge{
			Predicate:  predicate,
			TargetID:   targetID,
			Confidence: clamp01(numberField(obj, "confidence")),
			Rationale:  rationale,
		})
	}
	return edges
}

func candidateIDs(candidates []*types.Pattern) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.ID.String())
	}
	return out
}

func numberField(m map[string]any, key string) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
