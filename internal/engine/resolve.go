package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/name"

	"github.com/fleetver/fleetver/internal/cache"
	"github.com/fleetver/fleetver/internal/upstream"
	"github.com/fleetver/fleetver/internal/version"
)

// remotePayload is the cached outcome of one remote-tier lookup: the image
// version signal plus the metadata descriptor extracted from its last layer.
type remotePayload struct {
	Digest      string          `json:"digest"`
	Size        int64           `json:"size"`
	Version     string          `json:"version"`
	Created     time.Time       `json:"created"`
	HasMetadata bool            `json:"has_metadata"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// upstreamPayload is the cached outcome of one origin lookup. Absence is
// cached too, so an unresolvable origin is not re-queried within the TTL.
type upstreamPayload struct {
	Version   string `json:"version"`
	Available bool   `json:"available"`
}

// Resolve produces the full version triad and verdicts for one tool.
// The local and remote tiers are always attempted; upstream origins are
// consulted only when the remote image carries a metadata descriptor.
// Failure of any tier degrades that tier, never the whole resolution.
func (e *Engine) Resolve(ctx context.Context, tool, tag string, forceRefresh bool) Result {
	e.logger.DebugContext(ctx, "Resolving tool", "tool", tool, "tag", tag, "force_refresh", forceRefresh)

	result := Result{Tool: tool, Tag: tag}

	var remoteMetadata json.RawMessage

	// The local and remote tiers are independent and queried concurrently.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		result.Local, result.LocalIssue = e.resolveLocal(ctx, tool, tag)
	}()
	go func() {
		defer wg.Done()
		result.Remote, remoteMetadata, result.RemoteIssue = e.resolveRemote(ctx, tool, tag, forceRefresh)
	}()
	wg.Wait()

	if len(remoteMetadata) > 0 {
		result.Upstreams = e.resolveUpstreams(ctx, tool, remoteMetadata, forceRefresh)
	}

	result.LocalRemote = localRemoteVerdict(result.Local, result.Remote)
	result.RemoteUpstream = version.Compare(result.Remote.Value(), authoritativeUpstream(result.Upstreams).Value())

	return result
}

func (e *Engine) resolveLocal(ctx context.Context, tool, tag string) (*version.Record, string) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	reference := e.repository(tool) + ":" + tag
	inspection, present, err := e.inspector.Inspect(ctx, reference)
	if err != nil {
		e.logger.WarnContext(ctx, "Local inspection failed", "tool", tool, "error", err)
		return nil, err.Error()
	}
	if !present {
		// Legitimate absence: the tool is simply not installed.
		return nil, ""
	}

	record := version.NewRecord(version.TierLocal, version.FromEnv(inspection.Env, e.opts.VersionVariable), time.Now())
	record.Digest = localDigest(inspection.ID, inspection.RepoDigests, e.repository(tool))
	record.Tags = inspection.RepoTags
	record.Size = inspection.Size

	return record, ""
}

func (e *Engine) resolveRemote(
	ctx context.Context, tool, tag string, forceRefresh bool,
) (*version.Record, json.RawMessage, string) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	repository := e.repository(tool)
	key := cache.Key(tool, "remote", repository, tag)

	payloadBytes, err := e.cache.GetOrFetch(ctx, key, e.opts.CacheTTL, forceRefresh, func(ctx context.Context) ([]byte, error) {
		return e.fetchRemote(ctx, repository, tag)
	})
	if err != nil {
		e.logger.WarnContext(ctx, "Remote resolution failed", "tool", tool, "error", err)
		return nil, nil, err.Error()
	}

	payload := &remotePayload{}
	if err := json.Unmarshal(payloadBytes, payload); err != nil {
		return nil, nil, fmt.Sprintf("corrupt cached remote payload: %v", err)
	}

	record := version.NewRecord(version.TierRemote, payload.Version, time.Now())
	record.Digest = payload.Digest
	record.Tags = []string{tag}
	record.Size = payload.Size

	return record, payload.Metadata, ""
}

func (e *Engine) fetchRemote(ctx context.Context, repository, tag string) ([]byte, error) {
	ref, err := name.ParseReference(repository + ":" + tag)
	if err != nil {
		return nil, fmt.Errorf("cannot parse reference %s:%s: %w", repository, tag, err)
	}

	info, err := e.registry.GetImageInfo(ctx, ref)
	if err != nil {
		return nil, err //nolint:wrapcheck // the client already wraps with the reference
	}

	payload := remotePayload{
		Digest:  info.Digest.String(),
		Size:    info.Size,
		Version: version.FromEnv(info.Env, e.opts.VersionVariable),
		Created: info.Created,
	}

	metadata, found, err := e.registry.GetFileFromLastLayer(ctx, ref, e.opts.MetadataFilename)
	if err != nil {
		return nil, err //nolint:wrapcheck // the client already wraps with the reference
	}
	if found {
		payload.HasMetadata = true
		payload.Metadata = metadata
	}

	return json.Marshal(payload)
}

// resolveUpstreams resolves every origin of the metadata descriptor.
// Origins are independent and queried concurrently; one unresolvable origin
// never blocks the others.
func (e *Engine) resolveUpstreams(ctx context.Context, tool string, metadata json.RawMessage, forceRefresh bool) []UpstreamResult {
	descriptor, err := parseMetadata(metadata)
	if err != nil {
		e.logger.WarnContext(ctx, "Unparsable metadata descriptor", "tool", tool, "error", err)
		return []UpstreamResult{{Issue: err.Error()}}
	}
	if len(descriptor.Upstreams) == 0 {
		return nil
	}

	results := make([]UpstreamResult, len(descriptor.Upstreams))

	var wg sync.WaitGroup
	for i, origin := range descriptor.Upstreams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = e.resolveOrigin(ctx, tool, origin, forceRefresh)
		}()
	}
	wg.Wait()

	return results
}

func (e *Engine) resolveOrigin(ctx context.Context, tool string, origin upstream.OriginConfig, forceRefresh bool) UpstreamResult {
	result := UpstreamResult{Origin: origin}

	if err := origin.Validate(); err != nil {
		result.Issue = err.Error()
		return result
	}

	provider, found := e.providers.Lookup(origin.Provider)
	if !found {
		result.Issue = fmt.Sprintf("%v: %q", upstream.ErrUnknownProvider, origin.Provider)
		return result
	}

	key := cache.Key(tool, strings.ToLower(origin.Provider), origin.CacheParams()...)

	payloadBytes, err := e.cache.GetOrFetch(ctx, key, e.opts.CacheTTL, forceRefresh, func(ctx context.Context) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()

		latest, err := provider.LatestVersion(ctx, origin)
		if err != nil {
			if errors.Is(err, upstream.ErrNotAvailable) {
				// Absence is a valid, cacheable outcome.
				return json.Marshal(upstreamPayload{Available: false})
			}
			return nil, err
		}
		return json.Marshal(upstreamPayload{Version: latest, Available: true})
	})
	if err != nil {
		e.logger.WarnContext(ctx, "Upstream resolution failed",
			"tool", tool,
			"origin", origin.String(),
			"error", err,
		)
		result.Issue = err.Error()
		return result
	}

	payload := &upstreamPayload{}
	if err := json.Unmarshal(payloadBytes, payload); err != nil {
		result.Issue = fmt.Sprintf("corrupt cached upstream payload: %v", err)
		return result
	}
	if !payload.Available {
		result.Issue = upstream.ErrNotAvailable.Error()
		return result
	}

	record := version.NewRecord(version.TierUpstream, payload.Version, time.Now())
	record.Provider = origin.Provider
	result.Record = record

	return result
}

// localRemoteVerdict compares the local and remote tiers. Tags resolving to
// the same content digest are version-equivalent regardless of the version
// variable, so digest equality short-circuits to a match.
func localRemoteVerdict(local, remote *version.Record) version.Verdict {
	if local != nil && remote != nil && local.Digest != "" && local.Digest == remote.Digest {
		return version.VerdictMatch
	}
	return version.Compare(local.Value(), remote.Value())
}

// authoritativeUpstream picks the origin whose result decides the upstream
// verdict: origin-flagged entries beat docker_origin entries, which beat the
// rest; within a class the first successfully resolved entry wins.
func authoritativeUpstream(upstreams []UpstreamResult) *version.Record {
	var dockerOrigin, fallback *version.Record
	for _, u := range upstreams {
		if u.Record == nil || u.Record.Raw == "" {
			continue
		}
		switch {
		case u.Origin.Origin:
			return u.Record
		case u.Origin.DockerOrigin && dockerOrigin == nil:
			dockerOrigin = u.Record
		case fallback == nil:
			fallback = u.Record
		}
	}
	if dockerOrigin != nil {
		return dockerOrigin
	}
	return fallback
}

// localDigest extracts the repository content digest from RepoDigests when
// available, falling back to the daemon's image ID.
func localDigest(id string, repoDigests []string, repository string) string {
	for _, rd := range repoDigests {
		repo, digest, ok := strings.Cut(rd, "@")
		if !ok {
			continue
		}
		if repo == repository || strings.HasSuffix(repo, "/"+repository) {
			return digest
		}
	}
	return id
}
