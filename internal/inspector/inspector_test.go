package inspector

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dockerspec "github.com/moby/docker-image-spec/specs-go/v1"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeDockerAPI struct {
	responses map[string]image.InspectResponse
}

type notFoundError struct{}

func (notFoundError) Error() string { return "no such image" }
func (notFoundError) NotFound()     {}

func (f *fakeDockerAPI) ImageInspect(
	_ context.Context, imageID string, _ ...client.ImageInspectOption,
) (image.InspectResponse, error) {
	resp, ok := f.responses[imageID]
	if !ok {
		return image.InspectResponse{}, notFoundError{}
	}
	return resp, nil
}

func TestInspectPresentImage(t *testing.T) {
	api := &fakeDockerAPI{
		responses: map[string]image.InspectResponse{
			"cincan/tshark:latest": {
				ID:       "sha256:d1",
				RepoTags: []string{"cincan/tshark:latest", "cincan/tshark:stable"},
				Size:     4096,
				Created:  "2026-08-20T10:00:00.000000000Z",
				Config: &dockerspec.DockerOCIImageConfig{
					ImageConfig: ocispec.ImageConfig{Env: []string{"TOOL_VERSION=2.0"}},
				},
			},
		},
	}
	inspector := &dockerInspector{api: api, logger: slog.Default()}

	inspection, present, err := inspector.Inspect(context.Background(), "cincan/tshark:latest")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "sha256:d1", inspection.ID)
	assert.Equal(t, []string{"cincan/tshark:latest", "cincan/tshark:stable"}, inspection.RepoTags)
	assert.Equal(t, int64(4096), inspection.Size)
	assert.Equal(t, []string{"TOOL_VERSION=2.0"}, inspection.Env)
	assert.Equal(t, 2026, inspection.Created.Year())
}

func TestInspectAbsentImageIsNotAnError(t *testing.T) {
	inspector := &dockerInspector{
		api:    &fakeDockerAPI{responses: map[string]image.InspectResponse{}},
		logger: slog.Default(),
	}

	_, present, err := inspector.Inspect(context.Background(), "cincan/tshark:latest")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestInspectPropagatesDaemonErrors(t *testing.T) {
	inspector := &dockerInspector{
		api:    failingDockerAPI{},
		logger: slog.Default(),
	}

	_, _, err := inspector.Inspect(context.Background(), "cincan/tshark:latest")
	require.Error(t, err)
}

type failingDockerAPI struct{}

func (failingDockerAPI) ImageInspect(
	_ context.Context, _ string, _ ...client.ImageInspectOption,
) (image.InspectResponse, error) {
	return image.InspectResponse{}, errors.New("daemon unavailable")
}
