// Package cache implements the durable metadata cache. It is the only
// persistent store in the system: every other component derives its output
// from its inputs and from reads and writes that go through here.
package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const createEntriesTableSQL = `CREATE TABLE IF NOT EXISTS entries (
	key TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	fetched_at TEXT NOT NULL,
	ttl_seconds INTEGER NOT NULL
);`

// entrySchema is the schema of a cache entry in the database.
// Note: the struct fields must be exported in order to work.
type entrySchema struct {
	Key        string `db:"key"`
	Payload    []byte `db:"payload"`
	FetchedAt  string `db:"fetched_at"`
	TTLSeconds int64  `db:"ttl_seconds"`
}

// FetchFunc produces a fresh payload for a cache key on a miss or a stale hit.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Store is an on-disk key/value store with per-entry freshness. An entry is
// stale iff now - fetched_at > ttl; staleness and caller-requested force
// refresh are the only re-fetch triggers.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the cache database at path.
// Use ":memory:" for an ephemeral store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cannot open cache database %q: %w", path, err)
	}

	// Single writer at a time is enough for our contention profile.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("cannot enable WAL mode: %w", err)
	}
	if _, err := db.Exec(createEntriesTableSQL); err != nil {
		return nil, fmt.Errorf("cannot create entries table: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "cache"),
		now:    time.Now,
	}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("cannot close cache database: %w", err)
	}
	return nil
}

// GetOrFetch returns the payload for key. A fresh entry is returned as-is
// unless forceRefresh is set. Otherwise fetch is invoked and its result
// stored with the current timestamp. A fetch failure never corrupts or
// evicts the previous entry: if a stale entry exists it is returned instead
// of propagating the failure.
func (s *Store) GetOrFetch(
	ctx context.Context, key string, ttl time.Duration, forceRefresh bool, fetch FetchFunc,
) ([]byte, error) {
	entry, err := s.lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	if entry != nil && !forceRefresh && s.fresh(entry) {
		s.logger.DebugContext(ctx, "Cache hit", "key", key)
		return entry.Payload, nil
	}

	payload, fetchErr := fetch(ctx)
	if fetchErr != nil {
		if entry != nil {
			s.logger.WarnContext(ctx, "Fetch failed, serving stale cache entry",
				"key", key,
				"fetched_at", entry.FetchedAt,
				"error", fetchErr,
			)
			return entry.Payload, nil
		}
		return nil, fmt.Errorf("cannot fetch payload for key %q: %w", key, fetchErr)
	}

	if err := s.put(ctx, key, payload, ttl); err != nil {
		return nil, err
	}

	return payload, nil
}

// Get returns the payload for key regardless of freshness.
// The boolean reports whether an entry exists at all.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.lookup(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if entry == nil {
		return nil, false, nil
	}
	return entry.Payload, true, nil
}

func (s *Store) lookup(ctx context.Context, key string) (*entrySchema, error) {
	query, args, err := sq.Select("key", "payload", "fetched_at", "ttl_seconds").
		From("entries").
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("cannot build lookup query: %w", err)
	}

	entry := &entrySchema{}
	if err := s.db.GetContext(ctx, entry, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot read cache entry %q: %w", key, err)
	}

	return entry, nil
}

func (s *Store) put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	query, args, err := sq.Insert("entries").
		Columns("key", "payload", "fetched_at", "ttl_seconds").
		Values(key, payload, s.now().UTC().Format(time.RFC3339), int64(ttl.Seconds())).
		Suffix("ON CONFLICT(key) DO UPDATE SET payload=excluded.payload, fetched_at=excluded.fetched_at, ttl_seconds=excluded.ttl_seconds").
		ToSql()
	if err != nil {
		return fmt.Errorf("cannot build upsert query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("cannot store cache entry %q: %w", key, err)
	}

	s.logger.DebugContext(ctx, "Cache entry stored", "key", key, "ttl", ttl)
	return nil
}

func (s *Store) fresh(entry *entrySchema) bool {
	fetchedAt, err := time.Parse(time.RFC3339, entry.FetchedAt)
	if err != nil {
		s.logger.Warn("Cache entry has an unparsable timestamp, treating as stale",
			"key", entry.Key,
			"fetched_at", entry.FetchedAt,
		)
		return false
	}
	return s.now().Sub(fetchedAt) <= time.Duration(entry.TTLSeconds)*time.Second
}

// Key derives a cache key from a tool identity, a provider and the query
// parameters that make the origin unique. Distinct origins of the same tool
// never collide because the parameter digest is part of the key.
func Key(tool, provider string, params ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(params, "\x00")))
	return fmt.Sprintf("%s/%s/%s", tool, provider, hex.EncodeToString(sum[:8]))
}
