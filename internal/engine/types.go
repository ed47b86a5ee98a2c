package engine

import (
	"github.com/fleetver/fleetver/internal/upstream"
	"github.com/fleetver/fleetver/internal/version"
)

// Result is the complete resolution output for one tool: the version triad
// plus the pairwise verdicts. It is the engine's entire output surface;
// rendering and filtering are the caller's concern.
type Result struct {
	Tool string `json:"tool"`
	Tag  string `json:"tag"`

	// Local and Remote are nil when the corresponding tier is absent.
	Local  *version.Record `json:"local,omitempty"`
	Remote *version.Record `json:"remote,omitempty"`
	// Upstreams holds one entry per configured origin, resolved or not.
	Upstreams []UpstreamResult `json:"upstreams,omitempty"`

	LocalRemote    version.Verdict `json:"local_remote"`
	RemoteUpstream version.Verdict `json:"remote_upstream"`

	// LocalIssue and RemoteIssue give the reason a tier is unresolved,
	// "" when the tier resolved or is legitimately absent.
	LocalIssue  string `json:"local_issue,omitempty"`
	RemoteIssue string `json:"remote_issue,omitempty"`
}

// UpstreamResult is the outcome of resolving one configured origin.
type UpstreamResult struct {
	Origin upstream.OriginConfig `json:"origin"`
	// Record is nil when the origin did not resolve to a version.
	Record *version.Record `json:"record,omitempty"`
	// Issue explains an unresolved origin: a configuration error, a fetch
	// failure, or a legitimate absence.
	Issue string `json:"issue,omitempty"`
}

// ToolRequest identifies one tool of a batch resolution.
type ToolRequest struct {
	Name string
	Tag  string
}
