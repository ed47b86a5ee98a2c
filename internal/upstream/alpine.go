package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// alpineProvider resolves package versions by reading the pkgver variable
// out of the APKBUILD file in the Alpine aports tree.
type alpineProvider struct {
	httpProvider
}

const alpineVersionVariable = "pkgver"

func NewAlpineProvider(client *http.Client, tokens map[string]string, logger *slog.Logger) Provider {
	return &alpineProvider{
		httpProvider{
			name:   "alpine",
			api:    "https://git.alpinelinux.org/aports/plain",
			client: client,
			tokens: tokens,
			logger: logger.With("component", "provider", "provider", "alpine"),
		},
	}
}

func (p *alpineProvider) LatestVersion(ctx context.Context, origin OriginConfig) (string, error) {
	if origin.Method != "release" {
		return "", p.invalidMethod(origin)
	}

	apkbuildURL := fmt.Sprintf("%s/%s/%s/APKBUILD",
		p.api, strings.Trim(origin.Repository, "/"), strings.Trim(origin.Tool, "/"))
	if origin.Suite != "" {
		// The suite selects the aports branch.
		apkbuildURL += "?h=" + url.QueryEscape(origin.Suite)
	}

	body, err := p.get(ctx, apkbuildURL, nil)
	if err != nil {
		return "", err
	}

	for _, line := range strings.Split(string(body), "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), alpineVersionVariable+"=") {
			continue
		}
		_, value, _ := strings.Cut(line, "=")
		if value = strings.TrimSpace(value); value != "" {
			return value, nil
		}
	}

	return "", fmt.Errorf(
		"%w: no %s found in APKBUILD of %s/%s", ErrNotAvailable, alpineVersionVariable, origin.Repository, origin.Tool,
	)
}
