package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// pypiProvider resolves versions from the PyPI JSON API.
type pypiProvider struct {
	httpProvider
}

func NewPyPIProvider(client *http.Client, tokens map[string]string, logger *slog.Logger) Provider {
	return &pypiProvider{
		httpProvider{
			name:   "pypi",
			api:    "https://pypi.org",
			client: client,
			tokens: tokens,
			logger: logger.With("component", "provider", "provider", "pypi"),
		},
	}
}

func (p *pypiProvider) LatestVersion(ctx context.Context, origin OriginConfig) (string, error) {
	if origin.Method != "release" {
		return "", p.invalidMethod(origin)
	}

	var pkg struct {
		Info struct {
			Version string `json:"version"`
		} `json:"info"`
	}
	url := fmt.Sprintf("%s/pypi/%s/json", p.api, strings.Trim(origin.Tool, "/"))
	if err := p.getJSON(ctx, url, nil, &pkg); err != nil {
		return "", err
	}
	if pkg.Info.Version == "" {
		return "", fmt.Errorf("%w: package %s has no version on PyPI", ErrNotAvailable, origin.Tool)
	}
	return pkg.Info.Version, nil
}
