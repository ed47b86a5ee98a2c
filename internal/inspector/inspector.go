// Package inspector reads version metadata from images already present on
// the local container runtime. It never touches the network: everything is
// answered from the daemon's own introspection API.
package inspector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// Inspection is the version-relevant metadata of a locally present image.
type Inspection struct {
	// ID is the content identifier of the local image.
	ID string
	// Env holds the environment variables baked into the image config.
	Env []string
	// RepoTags lists every local tag resolving to the same image content.
	// Tags in this list are version-equivalent by construction.
	RepoTags []string
	// RepoDigests holds repository@digest pairs recorded when the image was
	// pulled, comparable against the registry's manifest digest.
	RepoDigests []string
	// Size is the unpacked image size in bytes.
	Size    int64
	Created time.Time
}

type Inspector interface {
	// Inspect looks up a reference (repository:tag) on the local runtime.
	// The boolean reports presence; a missing image is not an error.
	Inspect(ctx context.Context, reference string) (Inspection, bool, error)
}

// dockerAPI is the subset of the Docker client used by the inspector.
type dockerAPI interface {
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
}

type dockerInspector struct {
	api    dockerAPI
	logger *slog.Logger
}

// NewDockerInspector connects to the local Docker daemon using the standard
// environment configuration.
func NewDockerInspector(logger *slog.Logger) (Inspector, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("cannot create docker client: %w", err)
	}

	return &dockerInspector{
		api:    cli,
		logger: logger.With("component", "inspector"),
	}, nil
}

func (d *dockerInspector) Inspect(ctx context.Context, reference string) (Inspection, bool, error) {
	d.logger.DebugContext(ctx, "Inspecting local image", "reference", reference)

	resp, err := d.api.ImageInspect(ctx, reference)
	if err != nil {
		if client.IsErrNotFound(err) {
			d.logger.DebugContext(ctx, "Image not present locally", "reference", reference)
			return Inspection{}, false, nil
		}
		return Inspection{}, false, fmt.Errorf("cannot inspect image %q: %w", reference, err)
	}

	inspection := Inspection{
		ID:          resp.ID,
		RepoTags:    resp.RepoTags,
		RepoDigests: resp.RepoDigests,
		Size:        resp.Size,
	}
	if resp.Config != nil {
		inspection.Env = resp.Config.Env
	}
	if created, err := time.Parse(time.RFC3339Nano, resp.Created); err == nil {
		inspection.Created = created
	}

	return inspection, true, nil
}
