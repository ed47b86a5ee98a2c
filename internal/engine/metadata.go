package engine

import (
	"encoding/json"
	"fmt"

	"github.com/fleetver/fleetver/internal/upstream"
)

// metadataDescriptor is the per-tool JSON file stored inside the image's
// final layer, listing the tool's upstream origins.
type metadataDescriptor struct {
	Upstreams []upstream.OriginConfig `json:"upstreams"`
}

// parseMetadata decodes a metadata descriptor. The upstreams value may be
// either a list or a single object.
func parseMetadata(data []byte) (*metadataDescriptor, error) {
	var raw struct {
		Upstreams json.RawMessage `json:"upstreams"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse metadata descriptor: %w", err)
	}
	if len(raw.Upstreams) == 0 {
		return &metadataDescriptor{}, nil
	}

	descriptor := &metadataDescriptor{}
	if err := json.Unmarshal(raw.Upstreams, &descriptor.Upstreams); err == nil {
		return descriptor, nil
	}

	var single upstream.OriginConfig
	if err := json.Unmarshal(raw.Upstreams, &single); err != nil {
		return nil, fmt.Errorf("cannot parse upstreams of metadata descriptor: %w", err)
	}
	descriptor.Upstreams = []upstream.OriginConfig{single}

	return descriptor, nil
}
