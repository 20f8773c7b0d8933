package classifier

import (
	"fmt"
	"strings"

	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
)

// Stage names double as episode stage tags; bump the suffix when scoring
// semantics change so histories stay comparable.
const (
	StageRules      = "rule-completeness-v1"
	StageEmbedding  = "embedding-coherence-v1"
	StageGenerative = "llm-quality-v1"
	StageStructural = "graph-structure-v1"
)

// Depth selects how far down the pipeline a classification goes.
type Depth int

const (
	DepthRules Depth = iota + 1
	DepthEmbedding
	DepthFull
)

func ParseDepth(raw string) (Depth, error) {
	switch strings.TrimSpace(raw) {
	case "", "full":
		return DepthFull, nil
	case "rules":
		return DepthRules, nil
	case "embedding":
		return DepthEmbedding, nil
	default:
		return 0, fmt.Errorf("unknown classification depth %q", raw)
	}
}

// Input is one classification subject. Exactly one of Pattern/Artifact is
// set, matching TargetType.
type Input struct {
	TargetType string
	TargetID   string
	Pattern    *types.Pattern
	Artifact   *types.Artifact

	// Prior holds results of stages that already ran in this pipeline
	// pass, keyed by stage name. Later stages read candidates and
	// proposals out of it.
	Prior map[string]*StageResult
}

// Content renders the text a stage embeds or reasons over.
func (in Input) Content() string {
	switch {
	case in.Pattern != nil:
		return strings.TrimSpace(in.Pattern.Label + "\n" + in.Pattern.Definition)
	case in.Artifact != nil:
		return strings.TrimSpace(in.Artifact.Title + "\n" + string(in.Artifact.Metadata))
	default:
		return ""
	}
}

// StageResult is what one stage produces; the pipeline copies it onto the
// stage's episode.
type StageResult struct {
	Scores            map[string]float64
	Labels            map[string]any
	Confidence        float64
	Rationale         string
	DetectedEdges     []types.DetectedEdge
	ContextPatternIDs []string
	InputHash         string
	Degraded          bool

	ModelName  string
	PromptHash string
	TokenUsage map[string]any
}

// Stage is a single classifier in the tiered pipeline.
type Stage interface {
	Name() string
	Classify(dbc dbctx.Context, in Input) (*StageResult, error)
}
