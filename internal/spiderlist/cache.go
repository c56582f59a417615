// Package spiderlist enumerates the spiders a project's bundle defines by
// running the runner's list subcommand, with a durable per-project cache.
package spiderlist

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Cache is a durable project-to-spider-names mapping. Entries persist until
// explicitly invalidated; staleness is accepted by design between bundle
// changes and invalidation.
type Cache interface {
	// Get returns the cached names and whether an entry exists.
	Get(ctx context.Context, project string) ([]string, bool, error)

	// Set stores or replaces the entry for a project.
	Set(ctx context.Context, project string, spiders []string) error

	// Invalidate drops a project's entry. Invalidating an absent entry is
	// a no-op.
	Invalidate(ctx context.Context, project string) error
}

// SQLiteCache persists cached spider lists in the daemon database, so
// cached enumerations survive restarts.
type SQLiteCache struct {
	db *sql.DB
}

// NewSQLiteCache creates a SQLiteCache on the given database.
func NewSQLiteCache(db *sql.DB) *SQLiteCache {
	return &SQLiteCache{db: db}
}

func (c *SQLiteCache) Get(ctx context.Context, project string) ([]string, bool, error) {
	var encoded string
	err := c.db.QueryRowContext(ctx,
		"SELECT spiders FROM spider_lists WHERE project = ?", project).Scan(&encoded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read spider list cache: %w", err)
	}

	var spiders []string
	if err := json.Unmarshal([]byte(encoded), &spiders); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached spider list: %w", err)
	}
	return spiders, true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, project string, spiders []string) error {
	encoded, err := json.Marshal(spiders)
	if err != nil {
		return fmt.Errorf("failed to encode spider list: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO spider_lists (project, spiders, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (project) DO UPDATE SET
			spiders = excluded.spiders,
			updated_at = excluded.updated_at
	`, project, string(encoded), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write spider list cache: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Invalidate(ctx context.Context, project string) error {
	if _, err := c.db.ExecContext(ctx,
		"DELETE FROM spider_lists WHERE project = ?", project); err != nil {
		return fmt.Errorf("failed to invalidate spider list cache: %w", err)
	}
	return nil
}
