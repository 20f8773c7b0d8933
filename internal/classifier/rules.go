package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	taxrepo "github.com/semops/semops-backend/internal/data/repos/taxonomy"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"
)

const (
	minDefinitionLen = 20
	maxDefinitionLen = 2000
)

// rulesStage is the deterministic first tier: completeness and format
// checks, no external calls. It either succeeds synchronously or fails
// with a ValidationError.
type rulesStage struct {
	log   *logger.Logger
	edges taxrepo.PatternEdgeRepo
}

func NewRulesStage(log *logger.Logger, edges taxrepo.PatternEdgeRepo) Stage {
	return &rulesStage{log: log.With("stage", StageRules), edges: edges}
}

func (s *rulesStage) Name() string { return StageRules }

func (s *rulesStage) Classify(dbc dbctx.Context, in Input) (*StageResult, error) {
	switch {
	case in.Pattern != nil:
		return s.classifyPattern(dbc, in)
	case in.Artifact != nil:
		return s.classifyArtifact(dbc, in)
	default:
		return nil, errs.Validation("target", "classification input carries neither pattern nor artifact")
	}
}

func (s *rulesStage) classifyPattern(dbc dbctx.Context, in Input) (*StageResult, error) {
	p := in.Pattern
	var issues []string
	completeness := 0.0

	if strings.TrimSpace(p.Label) != "" {
		completeness += 0.3
	} else {
		issues = append(issues, "missing label")
	}
	if strings.TrimSpace(p.Definition) != "" {
		completeness += 0.4
	} else {
		issues = append(issues, "missing definition")
	}

	hasRelationships := false
	edges, err := s.edges.GetByPatternIDs(dbc, []uuid.UUID{p.ID})
	if err != nil {
		return nil, fmt.Errorf("rules stage: load edges: %w", err)
	}
	if len(edges) > 0 {
		hasRelationships = true
		completeness += 0.3
	} else {
		issues = append(issues, "no relationships")
	}

	formatValid := definitionFormatValid(p.Label, p.Definition, &issues)

	return s.result(in, completeness, formatValid, hasRelationships, issues), nil
}

func (s *rulesStage) classifyArtifact(dbc dbctx.Context, in Input) (*StageResult, error) {
	a := in.Artifact
	var issues []string
	completeness := 0.0

	if strings.TrimSpace(a.Title) != "" {
		completeness += 0.2
	} else {
		issues = append(issues, "missing title")
	}
	if types.ValidArtifactType(a.ArtifactType) {
		completeness += 0.1
	} else {
		issues = append(issues, fmt.Sprintf("unknown artifact type %q", a.ArtifactType))
	}

	hasRelationships := a.PrimaryPatternID != nil && *a.PrimaryPatternID != uuid.Nil
	if hasRelationships {
		completeness += 0.3
	} else {
		issues = append(issues, "no primary pattern link")
	}

	meta := map[string]any{}
	if len(a.Metadata) > 0 {
		if err := json.Unmarshal(a.Metadata, &meta); err != nil {
			issues = append(issues, "metadata is not a json object")
		}
	}
	if hasMetaString(meta, "uri") || hasMetaString(meta, "remote_url") || hasMetaString(meta, "interface") {
		completeness += 0.2
	} else {
		issues = append(issues, "metadata missing locator")
	}
	if hasMetaString(meta, "creator") || hasMetaString(meta, "owner") || hasMetaString(meta, "source_name") {
		completeness += 0.2
	} else {
		issues = append(issues, "metadata missing attribution")
	}

	formatValid := types.ValidateMetadata(a.ArtifactType, a.Metadata) == nil
	if !formatValid {
		issues = append(issues, "metadata fails schema validation")
	}

	return s.result(in, completeness, formatValid, hasRelationships, issues), nil
}

func (s *rulesStage) result(in Input, completeness float64, formatValid, hasRelationships bool, issues []string) *StageResult {
	promotionReady := completeness >= 0.7 && formatValid && len(issues) <= 1
	rationale := "all checks passed"
	if len(issues) > 0 {
		rationale = strings.Join(issues, "; ")
	}
	return &StageResult{
		Scores: map[string]float64{
			"completeness": completeness,
			"issue_count":  float64(len(issues)),
		},
		Labels: map[string]any{
			"format_valid":      formatValid,
			"has_relationships": hasRelationships,
			"promotion_ready":   promotionReady,
		},
		Confidence: 1.0,
		Rationale:  rationale,
		InputHash:  types.InputHash(in.Content()),
	}
}

// definitionFormatValid enforces the length window and a circularity
// heuristic: a definition that is mostly the label restated defines
// nothing.
func definitionFormatValid(label, definition string, issues *[]string) bool {
	def := strings.TrimSpace(definition)
	if len(def) < minDefinitionLen || len(def) > maxDefinitionLen {
		*issues = append(*issues, fmt.Sprintf("definition length %d outside [%d,%d]", len(def), minDefinitionLen, maxDefinitionLen))
		return false
	}
	lbl := strings.ToLower(strings.TrimSpace(label))
	if lbl != "" && strings.Contains(strings.ToLower(def), lbl) && len(def) < len(lbl)*3 {
		*issues = append(*issues, "definition is circular (restates the label)")
		return false
	}
	return true
}

func hasMetaString(meta map[string]any, key string) bool {
	v, ok := meta[key].(string)
	return ok && strings.TrimSpace(v) != ""
}
