package cache

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "cache.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func TestGetOrFetchCachesWithinTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	calls := 0
	fetch := func(_ context.Context) ([]byte, error) {
		calls++
		return []byte("2.0"), nil
	}

	payload, err := store.GetOrFetch(ctx, "tool/remote/latest", 24*time.Hour, false, fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte("2.0"), payload)
	assert.Equal(t, 1, calls)

	payload, err = store.GetOrFetch(ctx, "tool/remote/latest", 24*time.Hour, false, fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte("2.0"), payload)
	assert.Equal(t, 1, calls, "an unexpired entry must not trigger a second fetch")
}

func TestGetOrFetchForceRefresh(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	calls := 0
	fetch := func(_ context.Context) ([]byte, error) {
		calls++
		return []byte("2.1"), nil
	}

	_, err := store.GetOrFetch(ctx, "tool/remote/latest", 24*time.Hour, false, fetch)
	require.NoError(t, err)

	payload, err := store.GetOrFetch(ctx, "tool/remote/latest", 24*time.Hour, true, fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte("2.1"), payload)
	assert.Equal(t, 2, calls, "force refresh must invoke the fetch regardless of TTL")
}

func TestGetOrFetchRefetchesStaleEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrFetch(ctx, "k", time.Hour, false, func(_ context.Context) ([]byte, error) {
		return []byte("old"), nil
	})
	require.NoError(t, err)

	// Move the clock past the TTL.
	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	payload, err := store.GetOrFetch(ctx, "k", time.Hour, false, func(_ context.Context) ([]byte, error) {
		return []byte("new"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), payload)
}

func TestGetOrFetchReturnsStaleEntryOnFetchFailure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrFetch(ctx, "k", time.Hour, false, func(_ context.Context) ([]byte, error) {
		return []byte("old"), nil
	})
	require.NoError(t, err)

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	payload, err := store.GetOrFetch(ctx, "k", time.Hour, false, func(_ context.Context) ([]byte, error) {
		return nil, errors.New("upstream down")
	})
	require.NoError(t, err, "a fetch failure with an existing entry must degrade gracefully")
	assert.Equal(t, []byte("old"), payload)

	// The stale entry must survive the failed fetch.
	stored, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("old"), stored)
}

func TestGetOrFetchPropagatesFailureWithoutEntry(t *testing.T) {
	store := newTestStore(t)

	wantErr := errors.New("upstream down")
	_, err := store.GetOrFetch(context.Background(), "missing", time.Hour, false, func(_ context.Context) ([]byte, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestStoreIsDurableAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	store, err := Open(path, slog.Default())
	require.NoError(t, err)
	_, err = store.GetOrFetch(ctx, "k", time.Hour, false, func(_ context.Context) ([]byte, error) {
		return []byte("v"), nil
	})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path, slog.Default())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, reopened.Close())
	}()

	payload, found, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), payload)
}

func TestKeyDistinguishesOrigins(t *testing.T) {
	a := Key("tshark", "debian", "release", "buster")
	b := Key("tshark", "debian", "release", "bullseye")
	c := Key("tshark", "github", "release", "buster")

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, a, Key("tshark", "debian", "release", "buster"))
}
