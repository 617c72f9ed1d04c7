package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/infra/storage"
)

// CacheRepo is a CacheStore backed by the cache_entries table.
type CacheRepo struct {
	db *DB
}

var _ storage.CacheStore = (*CacheRepo)(nil)

// NewCacheRepo creates a cache repository. The schema must be migrated.
func NewCacheRepo(db *DB) *CacheRepo {
	return &CacheRepo{db: db}
}

type cacheRow struct {
	Key      string    `db:"key"`
	Value    []byte    `db:"value"`
	StoredAt time.Time `db:"stored_at"`
	TTLMs    int64     `db:"ttl_ms"`
}

func (r cacheRow) entry() domain.CacheEntry {
	return domain.CacheEntry{
		Key:      r.Key,
		Value:    r.Value,
		StoredAt: r.StoredAt,
		TTL:      time.Duration(r.TTLMs) * time.Millisecond,
	}
}

func (r *CacheRepo) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	var row cacheRow
	err := r.db.GetContext(ctx, &row,
		`SELECT key, value, stored_at, ttl_ms FROM cache_entries WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, fmt.Errorf("get cache entry: %w", err)
	}
	return row.entry(), true, nil
}

func (r *CacheRepo) Put(ctx context.Context, entry domain.CacheEntry) error {
	if err := storage.ValidateKey(entry.Key); err != nil {
		return err
	}
	row := cacheRow{
		Key:      entry.Key,
		Value:    entry.Value,
		StoredAt: entry.StoredAt.UTC(),
		TTLMs:    entry.TTL.Milliseconds(),
	}
	if row.Value == nil {
		row.Value = []byte{}
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO cache_entries (key, value, stored_at, ttl_ms, updated_at)
		VALUES (:key, :value, :stored_at, :ttl_ms, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			stored_at = EXCLUDED.stored_at,
			ttl_ms = EXCLUDED.ttl_ms,
			updated_at = NOW()`, row)
	if err != nil {
		return fmt.Errorf("put cache entry: %w", err)
	}
	return nil
}

func (r *CacheRepo) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (r *CacheRepo) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key LIKE $1 ESCAPE '\'`, likePrefix(prefix))
	if err != nil {
		return 0, fmt.Errorf("delete cache entries by prefix: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// PurgeStale removes entries whose TTL expired more than retention ago.
func (r *CacheRepo) PurgeStale(ctx context.Context, retention time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE ttl_ms > 0
		  AND stored_at + make_interval(secs => (ttl_ms + $1) / 1000.0) < NOW()`,
		retention.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("purge stale cache entries: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// likePrefix escapes LIKE wildcards in prefix and appends %.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
