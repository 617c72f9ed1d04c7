package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/infra/storage"
	"github.com/vietddude/apiclient/internal/metrics"
)

const scanBatch = 500

// Store is a CacheStore on Redis. Entries are JSON documents under
// prefix+key. An entry with a TTL expires from Redis TTL+retention after it
// was stored, so it stays readable as stale for retention.
type Store struct {
	client    *Client
	prefix    string
	retention time.Duration
}

var _ storage.CacheStore = (*Store)(nil)

// NewStore creates a Redis cache store.
func NewStore(client *Client, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "apiclient:cache:"
	}
	return &Store{client: client, prefix: prefix, retention: retention}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func (s *Store) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	data, err := s.client.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RedisOperationsTotal.WithLabelValues("get", "miss").Inc()
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		metrics.RedisOperationsTotal.WithLabelValues("get", "error").Inc()
		return domain.CacheEntry{}, false, fmt.Errorf("get failed: %w", err)
	}

	var entry domain.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		metrics.RedisOperationsTotal.WithLabelValues("get", "error").Inc()
		return domain.CacheEntry{}, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	metrics.RedisOperationsTotal.WithLabelValues("get", "hit").Inc()
	return entry, true, nil
}

func (s *Store) Put(ctx context.Context, entry domain.CacheEntry) error {
	if err := storage.ValidateKey(entry.Key); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", entry.Key, err)
	}

	if err := s.client.rdb.Set(ctx, s.key(entry.Key), data, s.expiry(entry)).Err(); err != nil {
		metrics.RedisOperationsTotal.WithLabelValues("put", "error").Inc()
		return fmt.Errorf("set failed: %w", err)
	}
	metrics.RedisOperationsTotal.WithLabelValues("put", "ok").Inc()
	return nil
}

// expiry returns the Redis TTL for entry; 0 means no expiry.
func (s *Store) expiry(entry domain.CacheEntry) time.Duration {
	if entry.TTL <= 0 {
		return 0
	}
	if s.retention <= 0 {
		return 0
	}
	return entry.TTL + s.retention
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		metrics.RedisOperationsTotal.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("del failed: %w", err)
	}
	metrics.RedisOperationsTotal.WithLabelValues("delete", "ok").Inc()
	return nil
}

// DeleteByPrefix scans matching keys and unlinks them in batches.
func (s *Store) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	pattern := escapeGlob(s.key(prefix)) + "*"
	iter := s.client.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()

	removed := 0
	batch := make([]string, 0, scanBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.rdb.Unlink(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("unlink failed: %w", err)
		}
		removed += int(n)
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan failed: %w", err)
	}
	if err := flush(); err != nil {
		return removed, err
	}
	metrics.RedisOperationsTotal.WithLabelValues("delete_prefix", "ok").Inc()
	return removed, nil
}

// escapeGlob escapes characters MATCH treats as patterns.
func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
