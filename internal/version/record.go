package version

import "time"

// Tier identifies where a version signal was observed.
type Tier string

const (
	// TierLocal is an image present on the local container runtime.
	TierLocal Tier = "local"
	// TierRemote is an image published on the container registry.
	TierRemote Tier = "remote"
	// TierUpstream is the tool's original source (VCS, package index, ...).
	TierUpstream Tier = "upstream"
)

// Record is a single observed version signal. A nil *Record means the signal
// is absent, which is a legitimate outcome distinct from a deviation.
type Record struct {
	Tier       Tier      `json:"tier"`
	Raw        string    `json:"raw"`
	Normalized string    `json:"normalized"`
	// Digest is the image content digest for the local and remote tiers.
	Digest string `json:"digest,omitempty"`
	// Tags lists every tag resolving to the same image content.
	Tags []string `json:"tags,omitempty"`
	// Size is the compressed image size in bytes, when known.
	Size     int64     `json:"size,omitempty"`
	Provider string    `json:"provider,omitempty"`
	Observed time.Time `json:"observed"`
}

// NewRecord builds a Record for a raw version value observed now.
func NewRecord(tier Tier, raw string, observed time.Time) *Record {
	return &Record{
		Tier:       tier,
		Raw:        raw,
		Normalized: Normalize(raw),
		Observed:   observed,
	}
}

// Value returns the raw version of a possibly absent record, "" when absent.
func (r *Record) Value() string {
	if r == nil {
		return ""
	}
	return r.Raw
}
