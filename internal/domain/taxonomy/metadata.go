package taxonomy

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
)

// Artifact metadata is a closed, versioned tagged union. Each variant is
// validated at write time against its declared schema version instead of
// accepting arbitrary maps.
const (
	MetadataSchemaContentV1    = "content_metadata_v1"
	MetadataSchemaCapabilityV1 = "capability_metadata_v1"
	MetadataSchemaRepositoryV1 = "repository_metadata_v1"
)

type ContentMetadataV1 struct {
	Schema      string `json:"schema"`
	URI         string `json:"uri"`
	MediaType   string `json:"media_type,omitempty"`
	Creator     string `json:"creator,omitempty"`
	Visibility  string `json:"visibility,omitempty"`
	SourceName  string `json:"source_name,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

type CapabilityMetadataV1 struct {
	Schema    string   `json:"schema"`
	Owner     string   `json:"owner,omitempty"`
	Interface string   `json:"interface,omitempty"`
	Consumers []string `json:"consumers,omitempty"`
	Maturity  string   `json:"maturity,omitempty"`
}

type RepositoryMetadataV1 struct {
	Schema        string `json:"schema"`
	RemoteURL     string `json:"remote_url"`
	DefaultBranch string `json:"default_branch,omitempty"`
	Language      string `json:"language,omitempty"`
	PathPrefix    string `json:"path_prefix,omitempty"`
}

// ValidateMetadata checks that raw metadata declares the schema variant
// matching the artifact type and that the variant's required fields are
// present. Empty metadata is allowed; the rules stage scores it down.
func ValidateMetadata(artifactType string, raw datatypes.JSON) error {
	if len(raw) == 0 {
		return nil
	}
	var head struct {
		Schema string `json:"schema"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("metadata is not valid json: %w", err)
	}
	expected, ok := map[string]string{
		ArtifactTypeContent:    MetadataSchemaContentV1,
		ArtifactTypeCapability: MetadataSchemaCapabilityV1,
		ArtifactTypeRepository: MetadataSchemaRepositoryV1,
	}[artifactType]
	if !ok {
		return fmt.Errorf("unknown artifact type %q", artifactType)
	}
	if head.Schema != expected {
		return fmt.Errorf("metadata schema %q does not match artifact type %q (want %q)", head.Schema, artifactType, expected)
	}

	switch expected {
	case MetadataSchemaContentV1:
		var m ContentMetadataV1
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode %s: %w", expected, err)
		}
		if m.URI == "" {
			return fmt.Errorf("%s: missing uri", expected)
		}
	case MetadataSchemaCapabilityV1:
		var m CapabilityMetadataV1
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode %s: %w", expected, err)
		}
	case MetadataSchemaRepositoryV1:
		var m RepositoryMetadataV1
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("decode %s: %w", expected, err)
		}
		if m.RemoteURL == "" {
			return fmt.Errorf("%s: missing remote_url", expected)
		}
	}
	return nil
}
