package upstream

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookupIsCaseInsensitive(t *testing.T) {
	registry := DefaultRegistry(http.DefaultClient, nil, slog.Default())

	provider, found := registry.Lookup("GitHub")
	require.True(t, found)
	assert.Equal(t, "github", provider.Name())

	_, found = registry.Lookup("sourceforge")
	assert.False(t, found)
}

func TestDefaultRegistryKnowsEveryBuiltinProvider(t *testing.T) {
	registry := DefaultRegistry(http.DefaultClient, nil, slog.Default())

	for _, name := range []string{
		"github", "gitlab", "bitbucket", "pypi", "debian", "alpine", "didierstevens@github",
	} {
		_, found := registry.Lookup(name)
		assert.True(t, found, "provider %q must be registered", name)
	}
}

func TestOriginConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		origin  OriginConfig
		wantErr bool
	}{
		{
			name:   "repository, tool and provider are enough",
			origin: OriginConfig{Repository: "nmap", Tool: "nmap", Provider: "github"},
		},
		{
			name:   "uri and provider are enough",
			origin: OriginConfig{URI: "https://github.com/nmap/nmap", Provider: "github"},
		},
		{
			name:    "missing provider is a configuration error",
			origin:  OriginConfig{Repository: "nmap", Tool: "nmap"},
			wantErr: true,
		},
		{
			name:    "missing tool without uri is a configuration error",
			origin:  OriginConfig{Repository: "nmap", Provider: "github"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.origin.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLatestByNumericTag(t *testing.T) {
	tests := []struct {
		name     string
		tags     []string
		expected string
	}{
		{
			name:     "plain semantic tags",
			tags:     []string{"1.2.3", "1.10.0", "1.9.9"},
			expected: "1.10.0",
		},
		{
			name:     "decorated tags",
			tags:     []string{"v1.2", "release-2.0", "v1.9"},
			expected: "release-2.0",
		},
		{
			name:     "tags without dots sort last",
			tags:     []string{"nightly", "1.0.1"},
			expected: "1.0.1",
		},
		{
			name:     "empty input",
			tags:     nil,
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, latestByNumericTag(tt.tags))
		})
	}
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	p := &httpProvider{name: "test", client: server.Client(), logger: slog.Default()}

	body, err := p.get(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), body)
	assert.Equal(t, int64(3), requests.Load())
}

func TestGetDoesNotRetryClientErrors(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	p := &httpProvider{name: "test", client: server.Client(), logger: slog.Default()}

	_, err := p.get(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), requests.Load())
}

func TestGetMapsNotFoundToAbsence(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(server.Close)

	p := &httpProvider{name: "test", client: server.Client(), logger: slog.Default()}

	_, err := p.get(context.Background(), server.URL, nil)
	require.ErrorIs(t, err, ErrNotAvailable)
}
