package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// gitHubProvider resolves versions from the GitHub REST API v3.
// Unauthenticated requests are limited to 60 per hour, authenticated ones
// to 5000, so a token with zero scopes is recommended for larger fleets.
type gitHubProvider struct {
	httpProvider
}

func NewGitHubProvider(client *http.Client, tokens map[string]string, logger *slog.Logger) Provider {
	return &gitHubProvider{
		httpProvider{
			name:   "github",
			api:    "https://api.github.com",
			client: client,
			tokens: tokens,
			logger: logger.With("component", "provider", "provider", "github"),
		},
	}
}

func (p *gitHubProvider) header(origin OriginConfig) http.Header {
	header := http.Header{}
	header.Set("Accept", "application/vnd.github.v3+json")
	if token := p.tokenFor(origin); token != "" {
		header.Set("Authorization", "token "+token)
	}
	return header
}

func (p *gitHubProvider) repoPath(origin OriginConfig) string {
	return fmt.Sprintf("%s/%s", strings.Trim(origin.Repository, "/"), strings.Trim(origin.Tool, "/"))
}

func (p *gitHubProvider) LatestVersion(ctx context.Context, origin OriginConfig) (string, error) {
	switch origin.Method {
	case "release":
		return p.byRelease(ctx, origin)
	case "tag-release":
		return p.byTag(ctx, origin)
	case "commit":
		return p.byCommit(ctx, origin)
	default:
		return "", p.invalidMethod(origin)
	}
}

// byRelease returns the latest published release, pre-releases excluded.
func (p *gitHubProvider) byRelease(ctx context.Context, origin OriginConfig) (string, error) {
	var release struct {
		TagName string `json:"tag_name"`
	}
	url := fmt.Sprintf("%s/repos/%s/releases/latest", p.api, p.repoPath(origin))
	if err := p.getJSON(ctx, url, p.header(origin), &release); err != nil {
		return "", err
	}
	if release.TagName == "" {
		return "", fmt.Errorf("%w: %s has no releases", ErrNotAvailable, p.repoPath(origin))
	}
	return release.TagName, nil
}

// byTag returns the newest tag by numeric sort. Repositories that never
// publish releases often still tag versions.
func (p *gitHubProvider) byTag(ctx context.Context, origin OriginConfig) (string, error) {
	var tags []struct {
		Name string `json:"name"`
	}
	url := fmt.Sprintf("%s/repos/%s/tags", p.api, p.repoPath(origin))
	if err := p.getJSON(ctx, url, p.header(origin), &tags); err != nil {
		return "", err
	}

	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	latest := latestByNumericTag(names)
	if latest == "" {
		return "", fmt.Errorf("%w: %s has no tags", ErrNotAvailable, p.repoPath(origin))
	}
	return latest, nil
}

// byCommit treats the head of the default branch as the version, for tools
// that are distributed straight from the repository.
func (p *gitHubProvider) byCommit(ctx context.Context, origin OriginConfig) (string, error) {
	var commit struct {
		SHA string `json:"sha"`
	}
	url := fmt.Sprintf("%s/repos/%s/commits/master", p.api, p.repoPath(origin))
	if err := p.getJSON(ctx, url, p.header(origin), &commit); err != nil {
		return "", err
	}
	if commit.SHA == "" {
		return "", fmt.Errorf("%w: %s has no commits", ErrNotAvailable, p.repoPath(origin))
	}
	return commit.SHA, nil
}
