package memory

import (
	"container/list"
	"context"
	"strings"
	"sync"

	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/infra/storage"
)

// DefaultMaxEntries bounds a store created with a non-positive size.
const DefaultMaxEntries = 1024

// Stats are cumulative store counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
}

// MemoryStore is an in-process LRU cache store.
type MemoryStore struct {
	mu         sync.Mutex
	maxEntries int
	items      map[string]*list.Element
	order      *list.List // front = most recently used
	stats      Stats
	onEvict    func(key string)
}

var _ storage.CacheStore = (*MemoryStore)(nil)

// NewMemoryStore creates a store holding at most maxEntries entries.
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		order:      list.New(),
	}
}

// OnEvict registers a callback for LRU evictions. It runs under the store
// lock and must not call back into the store.
func (s *MemoryStore) OnEvict(fn func(key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

func (s *MemoryStore) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		s.stats.Misses++
		return domain.CacheEntry{}, false, nil
	}
	s.order.MoveToFront(el)
	s.stats.Hits++
	return cloneEntry(el.Value.(domain.CacheEntry)), true, nil
}

func (s *MemoryStore) Put(ctx context.Context, entry domain.CacheEntry) error {
	if err := storage.ValidateKey(entry.Key); err != nil {
		return err
	}
	entry = cloneEntry(entry)

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[entry.Key]; ok {
		el.Value = entry
		s.order.MoveToFront(el)
		return nil
	}

	s.items[entry.Key] = s.order.PushFront(entry)
	for len(s.items) > s.maxEntries {
		s.evictOldest()
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.order.Remove(el)
		delete(s.items, key)
	}
	return nil
}

func (s *MemoryStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, el := range s.items {
		if strings.HasPrefix(key, prefix) {
			s.order.Remove(el)
			delete(s.items, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Stats returns a snapshot of the counters.
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Size = len(s.items)
	return st
}

func (s *MemoryStore) evictOldest() {
	el := s.order.Back()
	if el == nil {
		return
	}
	key := el.Value.(domain.CacheEntry).Key
	s.order.Remove(el)
	delete(s.items, key)
	s.stats.Evictions++
	if s.onEvict != nil {
		s.onEvict(key)
	}
}

// cloneEntry copies Value so callers cannot mutate a stored entry.
func cloneEntry(e domain.CacheEntry) domain.CacheEntry {
	if e.Value != nil {
		e.Value = append([]byte(nil), e.Value...)
	}
	return e
}
