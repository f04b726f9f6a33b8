// Package cache is the local SQLite store for synced mail: headers,
// bodies, attachments, full-text body search, and new-mail notifications.
// Rows are keyed by the cache key "accountID/folder", so one database
// serves every account and folder.
package cache

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Cache wraps the SQLite database. Reads may run concurrently; writes to
// the same cache key are serialized through a per-key mutex so a sync
// batch and an optimistic flag update cannot interleave.
type Cache struct {
	db *sqlx.DB

	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// New opens (or creates) the cache database at dbPath, enables WAL mode,
// and runs any pending schema migrations.
func New(dbPath string) (*Cache, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection; keep the pool at one
	// so tests see a single database.
	if strings.Contains(dbPath, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	c := &Cache{
		db:       db,
		keyLocks: make(map[string]*sync.Mutex),
	}
	if err := c.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return c, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// lockKey acquires the write lock for one cache key and returns the
// unlock function.
func (c *Cache) lockKey(key string) func() {
	c.mu.Lock()
	l, ok := c.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		c.keyLocks[key] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (c *Cache) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := c.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = c.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := c.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
