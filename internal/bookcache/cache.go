// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package bookcache caches volume detail lookups. Entries live in an
// in-memory LRU and, when a database path is configured, in SQLite so they
// survive restarts. Concurrent lookups of one id share a single upstream call.
package bookcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/pdiddy/bookbuddy-search/internal/search"
	"github.com/pdiddy/bookbuddy-search/pkg/types"
)

const (
	defaultSize = 1000
	defaultTTL  = 24 * time.Hour
)

// Config encapsulates the settings for a Cache.
type Config struct {
	// The lookup to cache.
	Source search.DetailSource

	// SQLite database file. Empty keeps the cache in memory only.
	Path string

	// Number of entries held in memory. Defaults to 1000.
	Size int

	// How long an entry stays fresh. Defaults to 24 hours.
	TTL time.Duration

	// A clock instance for generating time-related events. If not
	// specified, the default wall-clock will be used instead.
	Clock clock.Clock

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.Source == nil {
		err = multierror.Append(err, fmt.Errorf("detail source has not been provided"))
	}
	if cfg.Size < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for cache size"))
	} else if cfg.Size == 0 {
		cfg.Size = defaultSize
	}
	if cfg.TTL < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for cache ttl"))
	} else if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}
	return err
}

type entry struct {
	book      types.Book
	fetchedAt time.Time
}

// Cache is a search.DetailSource that remembers successful lookups.
// Failed lookups are not cached.
type Cache struct {
	cfg   Config
	mem   *lru.Cache[string, entry]
	db    *sql.DB
	group singleflight.Group
}

// New creates a cache in front of cfg.Source, opening or creating the
// database when cfg.Path is set.
func New(cfg Config) (*Cache, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("book cache: config validation failed: %w", err)
	}

	mem, err := lru.New[string, entry](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}
	c := &Cache{cfg: cfg, mem: mem}

	if cfg.Path != "" {
		if c.db, err = openDB(cfg.Path); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func openDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS volumes (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			fetched_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_volumes_fetched_at ON volumes(fetched_at)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}
	return db, nil
}

// Close releases the database connection, if any.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// FetchDetail returns the cached volume when fresh, otherwise looks it up
// through the source and stores the result.
func (c *Cache) FetchDetail(ctx context.Context, id string) (types.Book, error) {
	if e, ok := c.mem.Get(id); ok && c.fresh(e) {
		return e.book, nil
	}

	v, err, _ := c.group.Do(id, func() (any, error) {
		if e, ok := c.mem.Get(id); ok && c.fresh(e) {
			return e.book, nil
		}
		if e, ok := c.loadPersisted(ctx, id); ok {
			c.mem.Add(id, e)
			return e.book, nil
		}

		b, err := c.cfg.Source.FetchDetail(ctx, id)
		if err != nil {
			return types.Book{}, err
		}
		e := entry{book: b, fetchedAt: c.cfg.Clock.Now()}
		c.mem.Add(id, e)
		c.persist(ctx, id, e)
		return b, nil
	})
	if err != nil {
		return types.Book{}, err
	}
	return v.(types.Book), nil
}

func (c *Cache) fresh(e entry) bool {
	return c.cfg.Clock.Now().Sub(e.fetchedAt) < c.cfg.TTL
}

func (c *Cache) loadPersisted(ctx context.Context, id string) (entry, bool) {
	if c.db == nil {
		return entry{}, false
	}

	var data string
	var fetchedAt int64
	err := c.db.QueryRowContext(ctx,
		`SELECT data, fetched_at FROM volumes WHERE id = ?`, id,
	).Scan(&data, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return entry{}, false
	}
	if err != nil {
		c.cfg.Logger.WithError(err).WithField("id", id).Warn("reading cached volume")
		return entry{}, false
	}

	e := entry{fetchedAt: time.Unix(0, fetchedAt)}
	if !c.fresh(e) {
		return entry{}, false
	}
	if err := json.Unmarshal([]byte(data), &e.book); err != nil {
		c.cfg.Logger.WithError(err).WithField("id", id).Warn("decoding cached volume")
		return entry{}, false
	}
	return e, true
}

func (c *Cache) persist(ctx context.Context, id string, e entry) {
	if c.db == nil {
		return
	}
	data, err := json.Marshal(e.book)
	if err != nil {
		c.cfg.Logger.WithError(err).WithField("id", id).Warn("encoding volume for cache")
		return
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO volumes (id, data, fetched_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, fetched_at = excluded.fetched_at`,
		id, string(data), e.fetchedAt.UnixNano(),
	)
	if err != nil {
		c.cfg.Logger.WithError(err).WithField("id", id).Warn("writing cached volume")
	}
}

// Prune deletes persisted entries older than the TTL and returns how many
// were removed. Memory entries expire lazily.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	if c.db == nil {
		return 0, nil
	}
	cutoff := c.cfg.Clock.Now().Add(-c.cfg.TTL).UnixNano()
	res, err := c.db.ExecContext(ctx, `DELETE FROM volumes WHERE fetched_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	c.cfg.Logger.WithField("removed", n).Info("pruned stale cached volumes")
	return n, nil
}

// Stats describes cache occupancy.
type Stats struct {
	Memory    int   `json:"memory" yaml:"memory"`
	Persisted int64 `json:"persisted" yaml:"persisted"`
	Stale     int64 `json:"stale" yaml:"stale"`
}

// Stats reports the number of entries in memory and on disk, and how many
// persisted entries are past the TTL.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Memory: c.mem.Len()}
	if c.db == nil {
		return st, nil
	}
	cutoff := c.cfg.Clock.Now().Add(-c.cfg.TTL).UnixNano()
	err := c.db.QueryRowContext(ctx,
		`SELECT count(*), coalesce(sum(CASE WHEN fetched_at <= ? THEN 1 ELSE 0 END), 0) FROM volumes`, cutoff,
	).Scan(&st.Persisted, &st.Stale)
	if err != nil {
		return Stats{}, fmt.Errorf("reading cache stats: %w", err)
	}
	return st, nil
}
