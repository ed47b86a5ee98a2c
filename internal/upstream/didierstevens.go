package upstream

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// didierStevensProvider reads the __version__ assignment out of a tool's
// source file hosted in the DidierStevensSuite GitHub repository, which
// publishes neither releases nor tags.
type didierStevensProvider struct {
	gitHubProvider
}

const didierStevensVersionVariable = "__version__"

func NewDidierStevensProvider(client *http.Client, tokens map[string]string, logger *slog.Logger) Provider {
	return &didierStevensProvider{
		gitHubProvider{
			httpProvider{
				name:   "didierstevens@github",
				api:    "https://api.github.com",
				client: client,
				tokens: tokens,
				logger: logger.With("component", "provider", "provider", "didierstevens@github"),
			},
		},
	}
}

func (p *didierStevensProvider) LatestVersion(ctx context.Context, origin OriginConfig) (string, error) {
	if origin.Method != "release" {
		return "", p.invalidMethod(origin)
	}

	var file struct {
		Content string `json:"content"`
	}
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s.py",
		p.api, strings.Trim(origin.Repository, "/"), strings.Trim(origin.Suite, "/"), strings.Trim(origin.Tool, "/"))
	if err := p.getJSON(ctx, url, p.header(origin), &file); err != nil {
		return "", err
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(file.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("cannot decode file content of %s.py: %w", origin.Tool, err)
	}

	for _, line := range strings.Split(string(decoded), "\n") {
		if !strings.Contains(line, didierStevensVersionVariable) {
			continue
		}
		_, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if value = strings.Trim(strings.TrimSpace(value), `'"`); value != "" {
			return value, nil
		}
	}

	return "", fmt.Errorf(
		"%w: no %s found in %s.py", ErrNotAvailable, didierStevensVersionVariable, origin.Tool,
	)
}
