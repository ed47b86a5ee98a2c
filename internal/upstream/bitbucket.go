package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// bitbucketProvider resolves versions from the Bitbucket API 2.0.
type bitbucketProvider struct {
	httpProvider
}

func NewBitbucketProvider(client *http.Client, tokens map[string]string, logger *slog.Logger) Provider {
	return &bitbucketProvider{
		httpProvider{
			name:   "bitbucket",
			api:    "https://api.bitbucket.org/2.0",
			client: client,
			tokens: tokens,
			logger: logger.With("component", "provider", "provider", "bitbucket"),
		},
	}
}

func (p *bitbucketProvider) repoPath(origin OriginConfig) string {
	return fmt.Sprintf("%s/%s", strings.Trim(origin.Repository, "/"), strings.Trim(origin.Tool, "/"))
}

func (p *bitbucketProvider) LatestVersion(ctx context.Context, origin OriginConfig) (string, error) {
	switch origin.Method {
	case "release":
		url := fmt.Sprintf("%s/repositories/%s/downloads", p.api, p.repoPath(origin))
		return p.firstValueName(ctx, url)
	case "tag-release":
		// Inverse sort by name puts the newest tag first.
		url := fmt.Sprintf("%s/repositories/%s/refs/tags?sort=-name", p.api, p.repoPath(origin))
		return p.firstValueName(ctx, url)
	default:
		return "", p.invalidMethod(origin)
	}
}

func (p *bitbucketProvider) firstValueName(ctx context.Context, url string) (string, error) {
	var listing struct {
		Values []struct {
			Name string `json:"name"`
		} `json:"values"`
	}
	if err := p.getJSON(ctx, url, nil, &listing); err != nil {
		return "", err
	}
	if len(listing.Values) == 0 || listing.Values[0].Name == "" {
		return "", fmt.Errorf("%w: empty listing from %s", ErrNotAvailable, url)
	}
	return listing.Values[0].Name, nil
}
