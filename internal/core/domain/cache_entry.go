package domain

import "time"

// CacheEntry is a cached value. Entries are never mutated, only replaced.
type CacheEntry struct {
	Key      string        `json:"key"`
	Value    []byte        `json:"value"`
	StoredAt time.Time     `json:"stored_at"`
	TTL      time.Duration `json:"ttl"`
}

// Stale reports whether the entry is older than its TTL at now.
// A zero TTL never goes stale.
func (e CacheEntry) Stale(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.Sub(e.StoredAt) > e.TTL
}

// Age returns how long ago the entry was stored.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}
