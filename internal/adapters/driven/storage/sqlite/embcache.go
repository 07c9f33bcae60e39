package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/kbase/internal/core/ports/driven"
)

// embeddingCache implements driven.EmbeddingCache on the embedding_cache
// table, evicting least recently accessed rows beyond capacity.
type embeddingCache struct {
	store    *Store
	capacity int

	clockMu sync.Mutex
	last    int64
}

var _ driven.EmbeddingCache = (*embeddingCache)(nil)

// now returns a strictly increasing access stamp.
func (c *embeddingCache) now() int64 {
	c.clockMu.Lock()
	defer c.clockMu.Unlock()
	t := time.Now().UnixNano()
	if t <= c.last {
		t = c.last + 1
	}
	c.last = t
	return t
}

// Get returns the cached value and refreshes its access time.
func (c *embeddingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := c.store.db.QueryRowContext(ctx,
		"SELECT value FROM embedding_cache WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}

	if _, err := c.store.db.ExecContext(ctx,
		"UPDATE embedding_cache SET accessed_at = ? WHERE key = ?", c.now(), key); err != nil {
		return nil, false, fmt.Errorf("touching cache entry: %w", err)
	}
	return value, true, nil
}

// Set stores value and prunes entries past capacity.
func (c *embeddingCache) Set(ctx context.Context, key string, value []byte) error {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO embedding_cache (key, value, accessed_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, accessed_at = excluded.accessed_at
	`, key, value, c.now())
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM embedding_cache WHERE key NOT IN (
			SELECT key FROM embedding_cache ORDER BY accessed_at DESC LIMIT ?
		)
	`, c.capacity)
	if err != nil {
		return fmt.Errorf("pruning cache: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache entry: %w", err)
	}
	return nil
}

// Purge removes every entry.
func (c *embeddingCache) Purge(ctx context.Context) error {
	if _, err := c.store.db.ExecContext(ctx, "DELETE FROM embedding_cache"); err != nil {
		return fmt.Errorf("purging cache: %w", err)
	}
	return nil
}
