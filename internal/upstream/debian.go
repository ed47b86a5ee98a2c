package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// debianProvider resolves package versions from the Debian sources API.
type debianProvider struct {
	httpProvider
}

func NewDebianProvider(client *http.Client, tokens map[string]string, logger *slog.Logger) Provider {
	return &debianProvider{
		httpProvider{
			name:   "debian",
			api:    "https://sources.debian.org/api/src",
			client: client,
			tokens: tokens,
			logger: logger.With("component", "provider", "provider", "debian"),
		},
	}
}

func (p *debianProvider) LatestVersion(ctx context.Context, origin OriginConfig) (string, error) {
	if origin.Method != "release" {
		return "", p.invalidMethod(origin)
	}

	var pkg struct {
		Versions []struct {
			Suites  []string `json:"suites"`
			Version string   `json:"version"`
		} `json:"versions"`
	}
	url := fmt.Sprintf("%s/%s/", p.api, strings.Trim(origin.Tool, "/"))
	if err := p.getJSON(ctx, url, nil, &pkg); err != nil {
		return "", err
	}

	for _, entry := range pkg.Versions {
		if origin.Suite == "" {
			// Entries are listed newest suite first.
			return entry.Version, nil
		}
		for _, suite := range entry.Suites {
			if suite == origin.Suite {
				return entry.Version, nil
			}
		}
	}

	// The package can exist for some suites but not the requested one.
	return "", fmt.Errorf(
		"%w: package %s has no version in suite %q", ErrNotAvailable, origin.Tool, origin.Suite,
	)
}
