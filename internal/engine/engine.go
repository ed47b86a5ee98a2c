// Package engine composes the registry client, the local image inspector,
// the metadata cache and the upstream provider framework into the version
// resolution engine: given a tool, it produces the
// {local, remote, upstream} version triad and the pairwise verdicts.
package engine

import (
	"context"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fleetver/fleetver/internal/cache"
	"github.com/fleetver/fleetver/internal/inspector"
	"github.com/fleetver/fleetver/internal/registry"
	"github.com/fleetver/fleetver/internal/upstream"
	"github.com/fleetver/fleetver/internal/version"
)

// Options tune the engine. Zero values fall back to defaults.
type Options struct {
	// Namespace is prepended to bare tool names to form the repository,
	// e.g. "cincan" turns "tshark" into "cincan/tshark".
	Namespace string
	// VersionVariable is the environment variable carrying the tool's
	// self-reported version inside the image config.
	VersionVariable string
	// MetadataFilename is the per-tool descriptor file searched for in the
	// image's last layer.
	MetadataFilename string
	// CacheTTL bounds the age of cached remote and upstream lookups.
	CacheTTL time.Duration
	// Timeout bounds every outbound call of a single tier or origin.
	Timeout time.Duration
	// MaxWorkers bounds how many tools of a batch resolve concurrently.
	MaxWorkers int
}

const (
	DefaultVersionVariable  = "TOOL_VERSION"
	DefaultMetadataFilename = "meta.json"
	DefaultCacheTTL         = 24 * time.Hour
	DefaultTimeout          = 20 * time.Second
	DefaultMaxWorkers       = 8
)

func (o Options) withDefaults() Options {
	if o.VersionVariable == "" {
		o.VersionVariable = DefaultVersionVariable
	}
	if o.MetadataFilename == "" {
		o.MetadataFilename = DefaultMetadataFilename
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxWorkers == 0 {
		o.MaxWorkers = DefaultMaxWorkers
	}
	return o
}

type Engine struct {
	registry  registry.Client
	inspector inspector.Inspector
	cache     *cache.Store
	providers *upstream.Registry
	opts      Options
	logger    *slog.Logger
}

func New(
	registryClient registry.Client,
	localInspector inspector.Inspector,
	store *cache.Store,
	providers *upstream.Registry,
	opts Options,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		registry:  registryClient,
		inspector: localInspector,
		cache:     store,
		providers: providers,
		opts:      opts.withDefaults(),
		logger:    logger.With("component", "engine"),
	}
}

// repository expands a bare tool name with the configured namespace.
func (e *Engine) repository(tool string) string {
	if strings.Contains(tool, "/") || e.opts.Namespace == "" {
		return tool
	}
	return path.Join(e.opts.Namespace, tool)
}

// ResolveAll resolves a batch of tools over a bounded worker pool. Per-tool
// failures degrade that tool's result and never abort the rest of the batch;
// a canceled context stops new resolutions promptly.
func (e *Engine) ResolveAll(ctx context.Context, tools []ToolRequest, forceRefresh bool) []Result {
	results := make([]Result, len(tools))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxWorkers)

	for i, tool := range tools {
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = Result{
					Tool:           tool.Name,
					Tag:            tool.Tag,
					LocalRemote:    version.VerdictUnknown,
					RemoteUpstream: version.VerdictUnknown,
					LocalIssue:     "resolution canceled",
					RemoteIssue:    "resolution canceled",
				}
				return nil
			}
			results[i] = e.Resolve(gctx, tool.Name, tool.Tag, forceRefresh)
			return nil
		})
	}

	// The workers never return an error; failures live in the results.
	_ = g.Wait()

	return results
}
