package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type migration struct {
	Version int
	Name    string
	Up      string
}

var migrations = []migration{
	{
		Version: 1,
		Name:    "Create cache_entries",
		Up: `
			CREATE TABLE IF NOT EXISTS cache_entries (
				key TEXT PRIMARY KEY,
				status INTEGER NOT NULL,
				payload BLOB,
				sha TEXT NOT NULL DEFAULT '',
				stored_at DATETIME NOT NULL
			);
		`,
	},
	{
		Version: 2,
		Name:    "Index cache_entries by stored_at",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_cache_entries_stored_at ON cache_entries(stored_at DESC);
		`,
	},
	{
		Version: 3,
		Name:    "Drop persisted negative entries",
		Up: `
			DELETE FROM cache_entries WHERE status != 1;
		`,
	},
}

// SQLite is a Store backed by a SQLite database. Negative entries stay in
// memory.
type SQLite struct {
	db        *sql.DB
	negatives sessionNegatives
}

// DefaultSQLitePath returns the default database location,
// $XDG_CACHE_HOME/blog-mirror/cache.db.
func DefaultSQLitePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine cache directory: %w", err)
	}
	return filepath.Join(dir, "blog-mirror", "cache.db"), nil
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending migrations. If path is empty, DefaultSQLitePath is used.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		p, err := DefaultSQLitePath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cache database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &SQLite{db: db}, nil
}

// migrate applies every migration newer than the recorded version.
func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.Version, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *SQLite) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v)
	return v, err
}

func (s *SQLite) Get(ctx context.Context, key string) (Entry, bool, error) {
	if e, ok := s.negatives.get(key); ok {
		return e, true, nil
	}
	var (
		e       Entry
		payload []byte
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT status, payload, sha, stored_at FROM cache_entries WHERE key = ?", key,
	).Scan(&e.Status, &payload, &e.SHA, &e.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	if e.Status != Success {
		return Entry{}, false, nil
	}
	if len(payload) > 0 {
		e.Payload = payload
	}
	return e, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, payload []byte, sha string) error {
	s.negatives.remove(key)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, status, payload, sha, stored_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			sha = excluded.sha,
			stored_at = excluded.stored_at
	`, key, int(Success), payload, sha, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) PutNegative(_ context.Context, key string, sha string) error {
	s.negatives.put(key, sha)
	return nil
}

func (s *SQLite) Evict(ctx context.Context, key string) error {
	s.negatives.remove(key)
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to evict cache entry %s: %w", key, err)
	}
	return nil
}

func (s *SQLite) Clear(ctx context.Context) error {
	s.negatives.clear()
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM cache_entries ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	defer rows.Close()
	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.negatives.merge(keys), nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLite)(nil)
