// Package registry implements the container registry client. It obtains
// image version metadata over the Docker Registry HTTP V2 / OCI distribution
// protocol without ever pulling a full image: the manifest is fetched first,
// then only the config blob and, when a metadata file is requested, the
// single last filesystem layer.
package registry

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	cranev1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

// ErrUnsupportedSchema is returned when a reference resolves to a legacy
// schema 1 manifest. Those are rejected before any blob request is made.
var ErrUnsupportedSchema = errors.New("unsupported manifest schema")

const retryAttempts = 3

// ImageInfo is the version-relevant metadata of a remote image.
type ImageInfo struct {
	// Digest is the content digest of the resolved image manifest.
	Digest cranev1.Hash
	// Size is the compressed size of the image in bytes (sum of layer sizes).
	Size int64
	// Env holds the environment variables baked into the image config blob.
	Env []string
	// Created is the image creation time from the config blob.
	Created time.Time
}

type Client interface {
	// ListTags returns all tags published for the given repository.
	ListTags(ctx context.Context, repository name.Repository) ([]string, error)

	// GetImageInfo resolves the manifest of the given reference and fetches
	// its config blob. Multi-architecture references resolve to the default
	// platform image.
	GetImageInfo(ctx context.Context, ref name.Reference) (ImageInfo, error)

	// GetFileFromLastLayer extracts a single named file from the last
	// filesystem layer of the image. The boolean reports whether the file
	// exists; a missing file is not an error.
	GetFileFromLastLayer(ctx context.Context, ref name.Reference, filename string) ([]byte, bool, error)
}

type client struct {
	transport http.RoundTripper
	logger    *slog.Logger
}

// NewClient builds a Client on top of the given transport. Bearer token
// challenges advertised by the registry are answered transparently by the
// underlying authn keychain transport.
func NewClient(rt http.RoundTripper, logger *slog.Logger) Client {
	return &client{
		transport: rt,
		logger:    logger.With("component", "registry-client"),
	}
}

func (c *client) options(ctx context.Context) []remote.Option {
	return []remote.Option{
		remote.WithAuthFromKeychain(authn.DefaultKeychain),
		remote.WithTransport(c.transport),
		remote.WithContext(ctx),
	}
}

func (c *client) ListTags(ctx context.Context, repository name.Repository) ([]string, error) {
	c.logger.DebugContext(ctx, "Listing tags", "repository", repository.Name())

	puller, err := remote.NewPuller(c.options(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("cannot create puller: %w", err)
	}

	lister, err := puller.Lister(ctx, repository)
	if err != nil {
		return nil, fmt.Errorf("cannot list tags of %s: %w", repository.Name(), err)
	}

	tags := []string{}
	for lister.HasNext() {
		page, err := lister.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot iterate over tags of %s: %w", repository.Name(), err)
		}
		tags = append(tags, page.Tags...)
	}

	c.logger.DebugContext(ctx, "Tags found",
		"repository", repository.Name(),
		"number", len(tags),
	)

	return tags, nil
}

func (c *client) GetImageInfo(ctx context.Context, ref name.Reference) (ImageInfo, error) {
	c.logger.DebugContext(ctx, "GetImageInfo called", "image", ref.Name())

	img, err := c.resolveImage(ctx, ref)
	if err != nil {
		return ImageInfo{}, err
	}

	digest, err := img.Digest()
	if err != nil {
		return ImageInfo{}, fmt.Errorf("cannot compute digest of %s: %w", ref, err)
	}

	manifest, err := img.Manifest()
	if err != nil {
		return ImageInfo{}, fmt.Errorf("cannot read manifest of %s: %w", ref, err)
	}

	var size int64
	for _, layer := range manifest.Layers {
		size += layer.Size
	}

	cfg, err := c.getConfigFile(ctx, img, ref)
	if err != nil {
		return ImageInfo{}, err
	}

	return ImageInfo{
		Digest:  digest,
		Size:    size,
		Env:     cfg.Config.Env,
		Created: cfg.Created.Time,
	}, nil
}

func (c *client) GetFileFromLastLayer(
	ctx context.Context, ref name.Reference, filename string,
) ([]byte, bool, error) {
	c.logger.DebugContext(ctx, "GetFileFromLastLayer called", "image", ref.Name(), "file", filename)

	img, err := c.resolveImage(ctx, ref)
	if err != nil {
		return nil, false, err
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, false, fmt.Errorf("cannot read layers of %s: %w", ref, err)
	}
	if len(layers) == 0 {
		return nil, false, nil
	}

	// Only the last layer can be the source of the metadata file, so only
	// that single blob is downloaded.
	last := layers[len(layers)-1]

	content, err := retry.DoWithData(func() ([]byte, error) {
		return extractFileFromLayer(last, filename)
	}, c.retryOptions(ctx)...)
	if err != nil {
		return nil, false, fmt.Errorf("cannot extract %q from last layer of %s: %w", filename, ref, err)
	}
	if content == nil {
		return nil, false, nil
	}

	return content, true, nil
}

// resolveImage fetches the manifest for ref and resolves it to a single
// platform image, failing fast on legacy schema 1 manifests.
func (c *client) resolveImage(ctx context.Context, ref name.Reference) (cranev1.Image, error) {
	desc, err := retry.DoWithData(func() (*remote.Descriptor, error) {
		return remote.Get(ref, c.options(ctx)...)
	}, c.retryOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch manifest of %s: %w", ref, err)
	}

	if desc.MediaType == types.DockerManifestSchema1 || desc.MediaType == types.DockerManifestSchema1Signed {
		return nil, fmt.Errorf("%w: %s uses media type %s", ErrUnsupportedSchema, ref, desc.MediaType)
	}

	img, err := desc.Image()
	if err != nil {
		return nil, fmt.Errorf("cannot resolve image of %s: %w", ref, err)
	}

	return img, nil
}

func (c *client) getConfigFile(ctx context.Context, img cranev1.Image, ref name.Reference) (*cranev1.ConfigFile, error) {
	cfg, err := retry.DoWithData(func() (*cranev1.ConfigFile, error) {
		return img.ConfigFile()
	}, c.retryOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("cannot read config blob of %s: %w", ref, err)
	}
	return cfg, nil
}

func (c *client) retryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.RetryIf(isTransient),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			c.logger.DebugContext(ctx, "Retrying registry call", "attempt", attempt, "error", err)
		}),
	}
}

// isTransient reports whether a registry error is worth retrying. Client
// errors (4xx, auth) are final; 5xx and network-level failures are not.
func isTransient(err error) bool {
	var terr *transport.Error
	if errors.As(err, &terr) {
		return terr.Temporary()
	}
	return true
}

// extractFileFromLayer scans the uncompressed layer tarball for a regular
// file with the given base name. A nil result means no such file exists.
func extractFileFromLayer(layer cranev1.Layer, filename string) ([]byte, error) {
	rc, err := layer.Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("cannot read layer: %w", err)
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read layer tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if path.Base(hdr.Name) != filename {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("cannot read file %q from layer: %w", hdr.Name, err)
		}
		return content, nil
	}
}
