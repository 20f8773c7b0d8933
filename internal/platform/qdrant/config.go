package qdrant

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	URL             string
	Collection      string
	NamespacePrefix string
	VectorDim       int
	APIKey          string
}

// ConfigFromEnv returns a zero-URL config when QDRANT_URL is unset; callers
// treat that as "vector store unavailable".
func ConfigFromEnv() Config {
	dim := 1536
	if v := strings.TrimSpace(os.Getenv("QDRANT_VECTOR_DIM")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			dim = parsed
		}
	}
	collection := strings.TrimSpace(os.Getenv("QDRANT_COLLECTION"))
	if collection == "" {
		collection = "semops"
	}
	prefix := strings.TrimSpace(os.Getenv("QDRANT_NAMESPACE_PREFIX"))
	if prefix == "" {
		prefix = "so"
	}
	return Config{
		URL:             strings.TrimSpace(os.Getenv("QDRANT_URL")),
		Collection:      collection,
		NamespacePrefix: prefix,
		VectorDim:       dim,
		APIKey:          strings.TrimSpace(os.Getenv("QDRANT_API_KEY")),
	}
}

func ValidateConfig(cfg Config) error {
	if cfg.URL == "" {
		return fmt.Errorf("qdrant config: missing url")
	}
	if cfg.Collection == "" {
		return fmt.Errorf("qdrant config: missing collection")
	}
	if cfg.VectorDim <= 0 {
		return fmt.Errorf("qdrant config: vector dim must be positive, got %d", cfg.VectorDim)
	}
	return nil
}
