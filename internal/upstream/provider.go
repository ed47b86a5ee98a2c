// Package upstream implements the pluggable provider framework that resolves
// the latest known version of a tool from its original source: VCS hosts,
// Linux distribution package indexes, language package indexes. Providers
// return versions in whatever native format the source uses; canonicalization
// is the version package's job.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/avast/retry-go/v4"
)

var (
	// ErrNotAvailable means the source has no resolvable version for the
	// requested origin, e.g. a package missing from a distribution suite.
	// This is a legitimate absence, not a failure.
	ErrNotAvailable = errors.New("no version available")

	// ErrInvalidConfig marks a malformed or incomplete origin configuration.
	// It is scoped to a single tool origin and never aborts a whole run.
	ErrInvalidConfig = errors.New("invalid origin configuration")

	// ErrUnknownProvider is returned when an origin names a provider that
	// has no registered implementation.
	ErrUnknownProvider = errors.New("unknown provider")
)

const retryAttempts = 3

// Provider resolves the latest known version for a configured origin.
type Provider interface {
	// Name is the key the provider registers under; origin configurations
	// select a provider by this name.
	Name() string

	// LatestVersion performs one logical "what is the newest X" query
	// against the provider's external source. It returns ErrNotAvailable
	// when the source has nothing to report for this origin.
	LatestVersion(ctx context.Context, origin OriginConfig) (string, error)
}

// Registry is the provider name to implementation lookup table. It is
// populated at startup and read-only afterwards.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

// Lookup returns the provider registered under the given name,
// case-insensitively.
func (r *Registry) Lookup(name string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// DefaultRegistry registers every built-in provider. Tokens are keyed by
// provider name (or an origin's token_provider override) and raise the API
// rate limits of the sources that support authentication.
func DefaultRegistry(client *http.Client, tokens map[string]string, logger *slog.Logger) *Registry {
	return NewRegistry(
		NewGitHubProvider(client, tokens, logger),
		NewGitLabProvider(client, tokens, logger),
		NewBitbucketProvider(client, tokens, logger),
		NewPyPIProvider(client, tokens, logger),
		NewDebianProvider(client, tokens, logger),
		NewAlpineProvider(client, tokens, logger),
		NewDidierStevensProvider(client, tokens, logger),
	)
}

// httpProvider carries the plumbing shared by every HTTP-backed provider.
type httpProvider struct {
	name   string
	api    string
	client *http.Client
	tokens map[string]string
	logger *slog.Logger
}

func (p *httpProvider) Name() string {
	return p.name
}

func (p *httpProvider) tokenFor(origin OriginConfig) string {
	key := origin.TokenProvider
	if key == "" {
		key = p.name
	}
	return p.tokens[strings.ToLower(key)]
}

type statusError struct {
	url        string
	statusCode int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.statusCode, e.url)
}

// get performs an idempotent GET with bounded retries. Transient failures
// (network errors, 5xx) are retried; 404 maps to ErrNotAvailable and other
// 4xx responses are final.
func (p *httpProvider) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	body, err := retry.DoWithData(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, retry.Unrecoverable(fmt.Errorf("cannot build request: %w", err))
		}
		for key, values := range header {
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request to %s failed: %w", url, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			content, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("cannot read response from %s: %w", url, err)
			}
			return content, nil
		case resp.StatusCode == http.StatusNotFound:
			return nil, retry.Unrecoverable(fmt.Errorf("%w: %s responded 404", ErrNotAvailable, url))
		case resp.StatusCode >= http.StatusInternalServerError:
			return nil, &statusError{url: url, statusCode: resp.StatusCode}
		default:
			return nil, retry.Unrecoverable(&statusError{url: url, statusCode: resp.StatusCode})
		}
	},
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			p.logger.DebugContext(ctx, "Retrying provider call",
				"provider", p.name,
				"attempt", attempt,
				"error", err,
			)
		}),
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // already wrapped with the request URL
	}

	return body, nil
}

func (p *httpProvider) getJSON(ctx context.Context, url string, header http.Header, out any) error {
	body, err := p.get(ctx, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("cannot decode response from %s: %w", url, err)
	}
	return nil
}

func (p *httpProvider) invalidMethod(origin OriginConfig) error {
	return fmt.Errorf("%w: method %q is not supported by provider %s", ErrInvalidConfig, origin.Method, p.name)
}

// latestByNumericTag picks the tag whose numeric components compare highest.
// Tags without a dotted numeric part sort last. This heuristic only selects
// the newest entry inside one source listing; cross-source comparison stays
// strictly equality-based.
func latestByNumericTag(names []string) string {
	best := ""
	var bestKey []int
	for _, name := range names {
		key := tagSortKey(name)
		if best == "" || lessIntSlices(bestKey, key) {
			best = name
			bestKey = key
		}
	}
	return best
}

func tagSortKey(name string) []int {
	if !strings.Contains(name, ".") {
		return []int{-1}
	}

	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, name)

	var key []int
	for _, part := range strings.Split(cleaned, ".") {
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		key = append(key, n)
	}
	if len(key) == 0 {
		return []int{-1}
	}
	return key
}

func lessIntSlices(a, b []int) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}
