package registry

import (
	"archive/tar"
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/registry"
	cranev1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRegistry(t *testing.T) string {
	t.Helper()

	server := httptest.NewServer(registry.New())
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	return u.Host
}

func tarball(t *testing.T, files map[string][]byte) []byte {
	t.Helper()

	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for filename, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     filename,
			Typeflag: tar.TypeReg,
			Size:     int64(len(content)),
			Mode:     0o644,
		}))
		_, err := tw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	return buf.Bytes()
}

func buildTestImage(t *testing.T, env []string, layerFiles ...map[string][]byte) cranev1.Image {
	t.Helper()

	img, err := mutate.Config(empty.Image, cranev1.Config{Env: env})
	require.NoError(t, err)

	for _, files := range layerFiles {
		layer := static.NewLayer(tarball(t, files), types.DockerLayer)
		img, err = mutate.AppendLayers(img, layer)
		require.NoError(t, err)
	}

	return img
}

func pushTestImage(t *testing.T, img cranev1.Image, reference string) name.Reference {
	t.Helper()

	ref, err := name.ParseReference(reference)
	require.NoError(t, err)
	require.NoError(t, remote.Write(ref, img))

	return ref
}

func TestGetImageInfo(t *testing.T) {
	host := setupTestRegistry(t)
	img := buildTestImage(t,
		[]string{"PATH=/usr/bin", "TOOL_VERSION=2.0"},
		map[string][]byte{"bin/tool": []byte("binary")},
	)
	ref := pushTestImage(t, img, host+"/cincan/tshark:latest")

	client := NewClient(http.DefaultTransport, slog.Default())

	info, err := client.GetImageInfo(context.Background(), ref)
	require.NoError(t, err)

	wantDigest, err := img.Digest()
	require.NoError(t, err)
	assert.Equal(t, wantDigest, info.Digest)
	assert.Contains(t, info.Env, "TOOL_VERSION=2.0")

	manifest, err := img.Manifest()
	require.NoError(t, err)
	var wantSize int64
	for _, layer := range manifest.Layers {
		wantSize += layer.Size
	}
	assert.Equal(t, wantSize, info.Size)
}

func TestGetFileFromLastLayer(t *testing.T) {
	host := setupTestRegistry(t)
	img := buildTestImage(t,
		[]string{"TOOL_VERSION=2.0"},
		map[string][]byte{"bin/tool": []byte("binary")},
		map[string][]byte{"opt/tool/meta.json": []byte(`{"upstreams":[]}`)},
	)
	ref := pushTestImage(t, img, host+"/cincan/tshark:latest")

	client := NewClient(http.DefaultTransport, slog.Default())

	content, found, err := client.GetFileFromLastLayer(context.Background(), ref, "meta.json")
	require.NoError(t, err)
	assert.True(t, found)
	assert.JSONEq(t, `{"upstreams":[]}`, string(content))
}

func TestGetFileFromLastLayerOnlyConsultsLastLayer(t *testing.T) {
	host := setupTestRegistry(t)
	// The metadata file lives in the first layer only, so the lookup against
	// the last layer must report absence.
	img := buildTestImage(t,
		nil,
		map[string][]byte{"opt/tool/meta.json": []byte(`{"upstreams":[]}`)},
		map[string][]byte{"bin/tool": []byte("binary")},
	)
	ref := pushTestImage(t, img, host+"/cincan/tshark:latest")

	client := NewClient(http.DefaultTransport, slog.Default())

	content, found, err := client.GetFileFromLastLayer(context.Background(), ref, "meta.json")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, content)
}

func TestGetFileFromLastLayerAbsentFileIsNotAnError(t *testing.T) {
	host := setupTestRegistry(t)
	img := buildTestImage(t, nil, map[string][]byte{"bin/tool": []byte("binary")})
	ref := pushTestImage(t, img, host+"/cincan/tshark:latest")

	client := NewClient(http.DefaultTransport, slog.Default())

	_, found, err := client.GetFileFromLastLayer(context.Background(), ref, "meta.json")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListTags(t *testing.T) {
	host := setupTestRegistry(t)
	img := buildTestImage(t, []string{"TOOL_VERSION=2.0"})
	pushTestImage(t, img, host+"/cincan/tshark:latest")
	pushTestImage(t, img, host+"/cincan/tshark:stable")

	client := NewClient(http.DefaultTransport, slog.Default())

	repo, err := name.NewRepository(host + "/cincan/tshark")
	require.NoError(t, err)

	tags, err := client.ListTags(context.Background(), repo)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"latest", "stable"}, tags)
}

func TestGetImageInfoRejectsLegacySchema(t *testing.T) {
	var blobRequests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v2/":
			w.WriteHeader(http.StatusOK)
		case strings.Contains(r.URL.Path, "/manifests/"):
			w.Header().Set("Content-Type", string(types.DockerManifestSchema1Signed))
			_, _ = w.Write([]byte(`{"schemaVersion": 1}`))
		case strings.Contains(r.URL.Path, "/blobs/"):
			blobRequests.Add(1)
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	ref, err := name.ParseReference(u.Host + "/legacy/tool:latest")
	require.NoError(t, err)

	client := NewClient(http.DefaultTransport, slog.Default())

	_, err = client.GetImageInfo(context.Background(), ref)
	require.ErrorIs(t, err, ErrUnsupportedSchema)
	assert.Equal(t, int64(0), blobRequests.Load(), "no blob must be requested for an unsupported schema")
}

func TestGetImageInfoDoesNotRetryClientErrors(t *testing.T) {
	var manifestRequests atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if strings.Contains(r.URL.Path, "/manifests/") {
			manifestRequests.Add(1)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	require.NoError(t, err)

	ref, err := name.ParseReference(u.Host + "/missing/tool:latest")
	require.NoError(t, err)

	client := NewClient(http.DefaultTransport, slog.Default())

	_, err = client.GetImageInfo(context.Background(), ref)
	require.Error(t, err)
	assert.Equal(t, int64(1), manifestRequests.Load(), "4xx responses must not be retried")
}
