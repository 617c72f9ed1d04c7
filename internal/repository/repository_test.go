package repository

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/infra/storage/memory"
	"github.com/vietddude/apiclient/internal/pipeline"
	"github.com/vietddude/apiclient/internal/retry"
)

// fakeAPI is an in-memory REST resource store.
type fakeAPI struct {
	mu      sync.Mutex
	data    map[string]string
	calls   atomic.Int32
	gets    atomic.Int32
	status  int           // forced status, 0 = normal
	err     error         // forced transport error
	gate    chan struct{} // when set, GETs block until closed
	headers http.Header
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{data: make(map[string]string)}
}

func (f *fakeAPI) Send(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	if req.Method == http.MethodGet {
		f.gets.Add(1)
		if f.gate != nil {
			select {
			case <-f.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if f.status != 0 {
		return &domain.Response{StatusCode: f.status, Header: http.Header{}}, nil
	}

	key := strings.TrimPrefix(req.Path, "/")
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := &domain.Response{StatusCode: http.StatusOK, Header: f.headers.Clone()}
	if resp.Header == nil {
		resp.Header = http.Header{}
	}
	switch req.Method {
	case http.MethodPut:
		f.data[key] = string(req.Body)
	case http.MethodGet:
		v, ok := f.data[key]
		if !ok {
			resp.StatusCode = http.StatusNotFound
			return resp, nil
		}
		resp.Body = []byte(v)
	}
	return resp, nil
}

func (f *fakeAPI) set(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
}

type fixture struct {
	api   *fakeAPI
	store *memory.MemoryStore
	clock *clock.Mock
	repo  *Repository
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	api := newFakeAPI()
	mock := clock.NewMock()
	mock.Add(time.Hour)

	p := pipeline.New(api, pipeline.WithExecutor(retry.NewExecutor(retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Jitter:      retry.JitterNone,
	})))
	store := memory.NewMemoryStore(100)
	repo := New(p, store, Config{TTL: ttl, RefreshTimeout: 5 * time.Second}, WithClock(mock))
	t.Cleanup(func() { _ = repo.Close() })

	return &fixture{api: api, store: store, clock: mock, repo: repo}
}

func (f *fixture) seed(t *testing.T, key, value string, age time.Duration) {
	t.Helper()
	require.NoError(t, f.store.Put(context.Background(), domain.CacheEntry{
		Key:      key,
		Value:    []byte(value),
		StoredAt: f.clock.Now().Add(-age),
		TTL:      time.Minute,
	}))
}

func TestRepository_PutThenCacheFirst(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, f.repo.Put(ctx, "k", []byte("v")))
	require.Equal(t, int32(1), f.api.calls.Load())

	res, err := f.repo.Fetch(ctx, "k", CacheFirst)
	require.NoError(t, err)
	assert.Equal(t, "v", string(res.Value))
	assert.Equal(t, SourceCache, res.Source)
	assert.False(t, res.Stale)
	assert.Equal(t, int32(1), f.api.calls.Load(), "cache hit must not reach the transport")
}

func TestRepository_PutFailureDoesNotCache(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.api.status = http.StatusForbidden
	ctx := context.Background()

	err := f.repo.Put(ctx, "k", []byte("v"))
	require.Error(t, err)
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

	_, err = f.repo.Fetch(ctx, "k", CacheOnly)
	assert.Equal(t, domain.KindCacheMiss, domain.KindOf(err))
}

func TestRepository_CacheFirstStaleGoesToNetwork(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seed(t, "k", "old", 2*time.Minute)
	f.api.set("k", "new")

	res, err := f.repo.Fetch(context.Background(), "k", CacheFirst)
	require.NoError(t, err)
	assert.Equal(t, "new", string(res.Value))
	assert.Equal(t, SourceNetwork, res.Source)

	entry, ok, _ := f.store.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, "new", string(entry.Value))
	assert.Equal(t, f.clock.Now(), entry.StoredAt)
}

func TestRepository_NetworkFirst(t *testing.T) {
	t.Run("timeout falls back to stale cache", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		f.api.err = context.DeadlineExceeded
		f.seed(t, "k", "v_old", 10*time.Minute)

		res, err := f.repo.Fetch(context.Background(), "k", NetworkFirst)
		require.NoError(t, err)
		assert.Equal(t, "v_old", string(res.Value))
		assert.True(t, res.Stale)
		assert.Equal(t, SourceCache, res.Source)
	})

	t.Run("network failure without cache surfaces", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		f.api.err = errors.New("dial tcp: connection refused")

		_, err := f.repo.Fetch(context.Background(), "k", NetworkFirst)
		require.Error(t, err)
		assert.Equal(t, domain.KindNetwork, domain.KindOf(err))
	})

	t.Run("validation failure does not fall back", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		f.seed(t, "missing", "v_old", 0)

		_, err := f.repo.Fetch(context.Background(), "missing", NetworkFirst)
		require.Error(t, err)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	})

	t.Run("success writes through", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		f.api.set("k", "fresh")

		res, err := f.repo.Fetch(context.Background(), "k", NetworkFirst)
		require.NoError(t, err)
		assert.Equal(t, SourceNetwork, res.Source)
		entry, ok, _ := f.store.Get(context.Background(), "k")
		require.True(t, ok)
		assert.Equal(t, "fresh", string(entry.Value))
	})

	t.Run("cancelled is not masked", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		f.seed(t, "k", "v_old", 0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := f.repo.Fetch(ctx, "k", NetworkFirst)
		assert.Equal(t, domain.KindCancelled, domain.KindOf(err))
	})
}

func TestRepository_StaleWhileRevalidate(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seed(t, "k", "old", 30*time.Second)
	f.api.set("k", "new")
	ctx := context.Background()

	res, err := f.repo.Fetch(ctx, "k", StaleWhileRevalidate)
	require.NoError(t, err)
	assert.Equal(t, "old", string(res.Value))
	assert.False(t, res.Stale)
	assert.Equal(t, int32(0), f.api.calls.Load())

	f.clock.Add(time.Minute)
	f.api.gate = make(chan struct{})

	res, err = f.repo.Fetch(ctx, "k", StaleWhileRevalidate)
	require.NoError(t, err, "stale value is served without waiting for the network")
	assert.Equal(t, "old", string(res.Value))
	assert.True(t, res.Stale)

	close(f.api.gate)
	require.NoError(t, f.repo.Close())

	entry, ok, _ := f.store.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "new", string(entry.Value))
}

func TestRepository_BackgroundRefreshCoalesced(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seed(t, "k", "old", 5*time.Minute)
	f.api.set("k", "new")
	f.api.gate = make(chan struct{})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res, err := f.repo.Fetch(ctx, "k", StaleWhileRevalidate)
		require.NoError(t, err)
		assert.True(t, res.Stale)
	}

	time.Sleep(50 * time.Millisecond)
	close(f.api.gate)
	require.NoError(t, f.repo.Close())

	assert.Equal(t, int32(1), f.api.gets.Load())
}

func TestRepository_CacheAndNetwork(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seed(t, "k", "cached", 0)
	f.api.set("k", "remote")
	f.api.gate = make(chan struct{})
	ctx := context.Background()

	res, err := f.repo.Fetch(ctx, "k", CacheAndNetwork)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(res.Value))
	assert.Equal(t, SourceCache, res.Source)

	close(f.api.gate)
	require.NoError(t, f.repo.Close())

	entry, _, _ := f.store.Get(ctx, "k")
	assert.Equal(t, "remote", string(entry.Value))
}

func TestRepository_CacheAndNetworkMissBlocks(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.api.set("k", "remote")

	res, err := f.repo.Fetch(context.Background(), "k", CacheAndNetwork)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(res.Value))
	assert.Equal(t, SourceNetwork, res.Source)
}

func TestRepository_CacheOnlyAndNetworkOnly(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()

	_, err := f.repo.Fetch(ctx, "k", CacheOnly)
	assert.Equal(t, domain.KindCacheMiss, domain.KindOf(err))
	assert.Equal(t, int32(0), f.api.calls.Load())

	f.seed(t, "k", "cached", 0)
	f.api.set("k", "remote")

	res, err := f.repo.Fetch(ctx, "k", NetworkOnly)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(res.Value))

	res, err = f.repo.Fetch(ctx, "k", CacheOnly)
	require.NoError(t, err)
	assert.Equal(t, "remote", string(res.Value), "network only still writes through")
}

// brokenStore fails every operation.
type brokenStore struct{}

var errStoreDown = errors.New("store down")

func (brokenStore) Get(ctx context.Context, key string) (domain.CacheEntry, bool, error) {
	return domain.CacheEntry{}, false, errStoreDown
}
func (brokenStore) Put(ctx context.Context, entry domain.CacheEntry) error { return errStoreDown }
func (brokenStore) Delete(ctx context.Context, key string) error           { return errStoreDown }
func (brokenStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	return 0, errStoreDown
}

func TestRepository_StoreOutageDegradesToNetwork(t *testing.T) {
	api := newFakeAPI()
	api.set("k", "remote")
	repo := New(pipeline.New(api), brokenStore{}, Config{TTL: time.Minute})
	defer repo.Close()

	for _, policy := range []Policy{CacheFirst, StaleWhileRevalidate, CacheAndNetwork, NetworkFirst} {
		res, err := repo.Fetch(context.Background(), "k", policy)
		require.NoError(t, err, policy)
		assert.Equal(t, "remote", string(res.Value), policy)
	}

	require.NoError(t, repo.Put(context.Background(), "k", []byte("v")))

	err := repo.Invalidate(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestRepository_CacheControl(t *testing.T) {
	t.Run("no-store", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		f.api.set("k", "v")
		f.api.headers = http.Header{"Cache-Control": []string{"private, no-store"}}

		_, err := f.repo.Fetch(context.Background(), "k", CacheFirst)
		require.NoError(t, err)
		_, ok, _ := f.store.Get(context.Background(), "k")
		assert.False(t, ok)
	})

	t.Run("max-age", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		f.api.set("k", "v")
		f.api.headers = http.Header{"Cache-Control": []string{"public, max-age=600"}}

		_, err := f.repo.Fetch(context.Background(), "k", CacheFirst)
		require.NoError(t, err)
		entry, ok, _ := f.store.Get(context.Background(), "k")
		require.True(t, ok)
		assert.Equal(t, 10*time.Minute, entry.TTL)
	})

	for _, cc := range []string{"max-age=0", "no-cache", "public, no-cache, max-age=600"} {
		t.Run(cc, func(t *testing.T) {
			f := newFixture(t, time.Minute)
			ctx := context.Background()
			f.api.set("k", "v1")
			f.api.headers = http.Header{"Cache-Control": []string{cc}}

			_, err := f.repo.Fetch(ctx, "k", CacheFirst)
			require.NoError(t, err)
			entry, ok, _ := f.store.Get(ctx, "k")
			require.True(t, ok, "value is kept for offline fallback")
			assert.True(t, entry.Stale(f.clock.Now()))

			f.api.set("k", "v2")
			f.clock.Add(24 * time.Hour)
			res, err := f.repo.Fetch(ctx, "k", CacheFirst)
			require.NoError(t, err)
			assert.Equal(t, "v2", string(res.Value))
			assert.Equal(t, SourceNetwork, res.Source)
			assert.Equal(t, int32(2), f.api.gets.Load())
		})
	}

	t.Run("no-store drops previous entry", func(t *testing.T) {
		f := newFixture(t, time.Minute)
		ctx := context.Background()
		f.seed(t, "k", "old", 0)
		f.api.set("k", "new")
		f.api.headers = http.Header{"Cache-Control": []string{"no-store"}}

		res, err := f.repo.Fetch(ctx, "k", NetworkOnly)
		require.NoError(t, err)
		assert.Equal(t, "new", string(res.Value))
		_, ok, _ := f.store.Get(ctx, "k")
		assert.False(t, ok)
	})
}

func TestRepository_Invalidate(t *testing.T) {
	f := newFixture(t, time.Minute)
	ctx := context.Background()
	f.seed(t, "users/1", "a", 0)
	f.seed(t, "users/2", "b", 0)
	f.seed(t, "orders/1", "c", 0)

	require.NoError(t, f.repo.Invalidate(ctx, "orders/1"))
	n, err := f.repo.InvalidatePrefix(ctx, "users/")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, f.store.Len())
}

func TestRepository_Validation(t *testing.T) {
	f := newFixture(t, time.Minute)

	_, err := f.repo.Fetch(context.Background(), "", CacheFirst)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.repo.Fetch(context.Background(), "k", Policy("bogus"))
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestRepository_CloseStopsBackgroundWork(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.seed(t, "k", "old", 5*time.Minute)
	require.NoError(t, f.repo.Close())
	require.NoError(t, f.repo.Close())

	res, err := f.repo.Fetch(context.Background(), "k", StaleWhileRevalidate)
	require.NoError(t, err)
	assert.True(t, res.Stale)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), f.api.calls.Load())
}

func TestParsePolicy(t *testing.T) {
	tests := map[string]Policy{
		"cache_first":            CacheFirst,
		"Network-First":          NetworkFirst,
		"cache-and-network":      CacheAndNetwork,
		"swr":                    StaleWhileRevalidate,
		"stale_while_revalidate": StaleWhileRevalidate,
		"cache_only":             CacheOnly,
		" network_only ":         NetworkOnly,
	}
	for in, want := range tests {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParsePolicy("sometimes")
	assert.Error(t, err)
}

func TestPathBuilder(t *testing.T) {
	b := PathBuilder{Base: "/v1/items/"}
	get := b.FetchRequest("/42")
	assert.Equal(t, http.MethodGet, get.Method)
	assert.Equal(t, "/v1/items/42", get.Path)

	put := b.PutRequest("42", []byte("x"))
	assert.Equal(t, http.MethodPut, put.Method)
	assert.True(t, put.Idempotent)
	assert.Equal(t, []byte("x"), put.Body)
}
