package storage

import (
	"context"
	"errors"

	"github.com/vietddude/apiclient/internal/core/domain"
)

var (
	// ErrEmptyKey is returned when a cache key is empty
	ErrEmptyKey = errors.New("cache key is empty")
)

// CacheStore is the key-value store behind the repository. Entries are
// replaced wholesale; a store never mutates one in place.
type CacheStore interface {
	// Get returns the entry for key. ok is false when absent.
	Get(ctx context.Context, key string) (entry domain.CacheEntry, ok bool, err error)

	// Put stores entry under entry.Key, last writer wins
	Put(ctx context.Context, entry domain.CacheEntry) error

	// Delete removes one key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every key starting with prefix and returns
	// how many were removed
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}

// ValidateKey checks a key before it reaches a backend.
func ValidateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
