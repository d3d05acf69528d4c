package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// SearchCache implements domain.SearchCache on the search_cache table.
// Expired rows are ignored on read and removed by PurgeExpired.
type SearchCache struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func (c *SearchCache) Get(ctx context.Context, key string) ([]domain.SearchResult, error) {
	var raw, expiresAt string
	err := c.db.QueryRowContext(ctx,
		`SELECT results, expires_at FROM search_cache WHERE query = ?`, key,
	).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		return nil, persistErr("searchcache.Get", err)
	}
	if !c.now().Before(parseTime(expiresAt)) {
		return nil, domain.ErrCacheMiss
	}

	var results []domain.SearchResult
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, persistErr("searchcache.Get", err)
	}
	return results, nil
}

// Set upserts the entry; the last writer wins.
func (c *SearchCache) Set(ctx context.Context, key string, results []domain.SearchResult, ttl time.Duration) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return persistErr("searchcache.Set", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO search_cache (query, results, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(query) DO UPDATE SET results = excluded.results, expires_at = excluded.expires_at`,
		key, string(raw), formatTime(c.now().Add(ttl)))
	if err != nil {
		return persistErr("searchcache.Set", err)
	}
	return nil
}

// PurgeExpired deletes expired rows and reports how many were removed.
func (c *SearchCache) PurgeExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx,
		`DELETE FROM search_cache WHERE expires_at <= ?`, formatTime(c.now()))
	if err != nil {
		return 0, persistErr("searchcache.PurgeExpired", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("searchcache.PurgeExpired", err)
	}
	if n > 0 {
		c.logger.Debug("search cache purged", "removed", n)
	}
	return int(n), nil
}

var _ domain.SearchCache = (*SearchCache)(nil)
