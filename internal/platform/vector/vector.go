package vector

import "context"

// Vector is one embedding plus its payload metadata.
type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is an ID with its similarity score (higher is better).
type Match struct {
	ID    string
	Score float64
}

// Store is the similarity-search service consumed by the embedding stage.
// Namespaces separate pattern vectors from artifact vectors.
type Store interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]Match, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error

	// SetPayload merges payload keys into an existing point without
	// touching its embedding. Used to keep lifecycle_stage current after
	// a stage transition.
	SetPayload(ctx context.Context, namespace, id string, payload map[string]any) error
}

// Namespaces used by the subsystem.
const (
	NamespacePatterns  = "patterns"
	NamespaceArtifacts = "artifacts"
)
