package upstream

import (
	"fmt"
	"strings"
)

// OriginConfig is one entry of a tool's metadata descriptor: a configured
// external source from which an upstream version can be resolved.
type OriginConfig struct {
	URI        string `json:"uri,omitempty"`
	Repository string `json:"repository,omitempty"`
	Tool       string `json:"tool,omitempty"`
	Provider   string `json:"provider"`
	Method     string `json:"method,omitempty"`
	Suite      string `json:"suite,omitempty"`

	// Origin marks this entry as the tool's authoritative source of truth.
	Origin bool `json:"origin,omitempty"`
	// DockerOrigin marks the source the Dockerfile installs the tool from.
	DockerOrigin bool `json:"docker_origin,omitempty"`

	// TokenProvider optionally names the token map key to authenticate
	// with, when it differs from the provider name.
	TokenProvider string `json:"token_provider,omitempty"`
}

// Validate checks the fields every provider requires. Provider-specific
// method validation happens inside the provider itself.
func (o OriginConfig) Validate() error {
	if strings.TrimSpace(o.Provider) == "" {
		return fmt.Errorf("%w: provider must be set", ErrInvalidConfig)
	}
	if o.URI == "" && (o.Repository == "" || o.Tool == "") {
		return fmt.Errorf(
			"%w: either uri or repository and tool must be set for provider %s",
			ErrInvalidConfig, o.Provider,
		)
	}
	return nil
}

// CacheParams returns the query parameters that make this origin unique,
// used to derive its cache key.
func (o OriginConfig) CacheParams() []string {
	return []string{o.URI, o.Repository, o.Tool, o.Method, o.Suite}
}

func (o OriginConfig) String() string {
	if o.URI != "" {
		return fmt.Sprintf("%s(%s)", strings.ToLower(o.Provider), o.URI)
	}
	return fmt.Sprintf("%s(%s/%s)", strings.ToLower(o.Provider), o.Repository, o.Tool)
}
