package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// gitLabProvider resolves versions from the GitLab API v4.
type gitLabProvider struct {
	httpProvider
}

func NewGitLabProvider(client *http.Client, tokens map[string]string, logger *slog.Logger) Provider {
	return &gitLabProvider{
		httpProvider{
			name:   "gitlab",
			api:    "https://gitlab.com/api/v4",
			client: client,
			tokens: tokens,
			logger: logger.With("component", "provider", "provider", "gitlab"),
		},
	}
}

func (p *gitLabProvider) header(origin OriginConfig) http.Header {
	header := http.Header{}
	if token := p.tokenFor(origin); token != "" {
		header.Set("PRIVATE-TOKEN", token)
	}
	return header
}

// projectID is the URL-encoded namespace/project path GitLab uses to
// address a project.
func (p *gitLabProvider) projectID(origin OriginConfig) string {
	project := fmt.Sprintf("%s/%s", strings.Trim(origin.Repository, "/"), strings.Trim(origin.Tool, "/"))
	return url.PathEscape(project)
}

func (p *gitLabProvider) LatestVersion(ctx context.Context, origin OriginConfig) (string, error) {
	switch origin.Method {
	case "release":
		return p.firstNamed(ctx, origin, fmt.Sprintf("%s/projects/%s/releases", p.api, p.projectID(origin)))
	case "tag-release":
		return p.firstNamed(ctx, origin, fmt.Sprintf("%s/projects/%s/repository/tags", p.api, p.projectID(origin)))
	default:
		return "", p.invalidMethod(origin)
	}
}

// firstNamed returns the name of the first entry of a GitLab listing.
// Releases and tags are both returned newest first.
func (p *gitLabProvider) firstNamed(ctx context.Context, origin OriginConfig, url string) (string, error) {
	var entries []struct {
		Name string `json:"name"`
	}
	if err := p.getJSON(ctx, url, p.header(origin), &entries); err != nil {
		return "", err
	}
	if len(entries) == 0 || entries[0].Name == "" {
		return "", fmt.Errorf("%w: empty listing from %s", ErrNotAvailable, url)
	}
	return entries[0].Name, nil
}
