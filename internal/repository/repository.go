// Package repository implements cache-aside access over the request
// pipeline with offline fallback.
//
// Fetch always returns either a value or one classified *domain.Failure.
// A cache store outage degrades to network access; it never fails a fetch
// the network can serve.
package repository

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/apiclient/internal/classify"
	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/infra/storage"
	"github.com/vietddude/apiclient/internal/metrics"
)

// Executor runs a request. *pipeline.Pipeline implements it.
type Executor interface {
	Execute(ctx context.Context, req *domain.Request) (*domain.Response, error)
}

// Result is a fetched value.
type Result struct {
	Value    []byte
	Source   Source
	Stale    bool // served from an entry past its TTL, or instead of a failed fetch
	StoredAt time.Time
}

// Config holds repository settings.
type Config struct {
	// TTL applied to written entries unless the response sets max-age.
	// Zero means entries never go stale.
	TTL time.Duration
	// RefreshTimeout bounds one background revalidation.
	RefreshTimeout time.Duration
	// DefaultPolicy is used when Fetch gets an empty policy.
	DefaultPolicy Policy
}

// Repository combines a pipeline and a cache store.
type Repository struct {
	exec    Executor
	store   storage.CacheStore
	builder RequestBuilder
	cfg     Config
	clock   clock.Clock
	log     *slog.Logger

	group singleflight.Group

	mu       sync.Mutex
	closed   bool
	wg       sync.WaitGroup
	bgCtx    context.Context
	bgCancel context.CancelFunc
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock sets the clock used for staleness.
func WithClock(c clock.Clock) Option {
	return func(r *Repository) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) { r.log = l }
}

// WithRequestBuilder sets the key to request mapping.
func WithRequestBuilder(b RequestBuilder) Option {
	return func(r *Repository) { r.builder = b }
}

// New creates a repository.
func New(exec Executor, store storage.CacheStore, cfg Config, opts ...Option) *Repository {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	if cfg.DefaultPolicy == "" {
		cfg.DefaultPolicy = CacheFirst
	}

	r := &Repository{
		exec:    exec,
		store:   store,
		builder: PathBuilder{},
		cfg:     cfg,
		clock:   clock.New(),
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.bgCtx, r.bgCancel = context.WithCancel(context.Background())
	return r
}

// Fetch returns the value for key under policy.
func (r *Repository) Fetch(ctx context.Context, key string, policy Policy) (Result, error) {
	if err := storage.ValidateKey(key); err != nil {
		return Result{}, domain.NewFailure(domain.KindValidation, "invalid key", err)
	}
	if policy == "" {
		policy = r.cfg.DefaultPolicy
	}

	switch policy {
	case CacheFirst:
		if entry, ok := r.lookup(ctx, key, policy); ok && !entry.Stale(r.clock.Now()) {
			return cached(entry, false), nil
		}
		return r.network(ctx, key, policy)

	case NetworkFirst:
		res, err := r.network(ctx, key, policy)
		if err == nil {
			return res, nil
		}
		if kind := domain.KindOf(err); kind != domain.KindNetwork && kind != domain.KindTimeout {
			return Result{}, err
		}
		entry, ok := r.lookup(ctx, key, policy)
		if !ok {
			return Result{}, err
		}
		r.log.Warn("Serving cached value after network failure",
			"key", key, "kind", domain.KindOf(err).String(), "age", entry.Age(r.clock.Now()))
		metrics.StaleServedTotal.WithLabelValues(string(policy)).Inc()
		return cached(entry, true), nil

	case CacheAndNetwork:
		entry, ok := r.lookup(ctx, key, policy)
		if !ok {
			return r.network(ctx, key, policy)
		}
		r.revalidate(key, policy)
		stale := entry.Stale(r.clock.Now())
		if stale {
			metrics.StaleServedTotal.WithLabelValues(string(policy)).Inc()
		}
		return cached(entry, stale), nil

	case StaleWhileRevalidate:
		entry, ok := r.lookup(ctx, key, policy)
		if !ok {
			return r.network(ctx, key, policy)
		}
		if !entry.Stale(r.clock.Now()) {
			return cached(entry, false), nil
		}
		r.revalidate(key, policy)
		metrics.StaleServedTotal.WithLabelValues(string(policy)).Inc()
		return cached(entry, true), nil

	case CacheOnly:
		entry, ok := r.lookup(ctx, key, policy)
		if !ok {
			return Result{}, domain.NewFailure(domain.KindCacheMiss, "no cached value for "+key, nil)
		}
		return cached(entry, entry.Stale(r.clock.Now())), nil

	case NetworkOnly:
		return r.network(ctx, key, policy)

	default:
		return Result{}, domain.NewFailure(domain.KindValidation, "unknown cache policy "+string(policy), nil)
	}
}

// Put writes value over the network and caches it only after a 2xx.
func (r *Repository) Put(ctx context.Context, key string, value []byte) error {
	if err := storage.ValidateKey(key); err != nil {
		return domain.NewFailure(domain.KindValidation, "invalid key", err)
	}

	resp, err := r.exec.Execute(ctx, r.builder.PutRequest(key, value))
	if err != nil {
		return classify.Error(err)
	}
	if resp == nil || !resp.IsSuccess() {
		return domain.NewFailure(domain.KindUnknown, "write not acknowledged", nil)
	}

	r.write(ctx, key, value, r.ttlFor(resp))
	return nil
}

// Invalidate removes the entry for key.
func (r *Repository) Invalidate(ctx context.Context, key string) error {
	if err := r.store.Delete(ctx, key); err != nil {
		return domain.NewFailure(domain.KindUnknown, "invalidate "+key, err)
	}
	return nil
}

// InvalidatePrefix removes every entry whose key starts with prefix.
func (r *Repository) InvalidatePrefix(ctx context.Context, prefix string) (int, error) {
	n, err := r.store.DeleteByPrefix(ctx, prefix)
	if err != nil {
		return n, domain.NewFailure(domain.KindUnknown, "invalidate prefix "+prefix, err)
	}
	r.log.Debug("Invalidated cache prefix", "prefix", prefix, "removed", n)
	return n, nil
}

// Close stops accepting background refreshes and waits for running ones.
// Each refresh is bounded by RefreshTimeout.
func (r *Repository) Close() error {
	return r.Shutdown(context.Background())
}

// Shutdown is Close with a deadline: refreshes still running when ctx is
// done are cancelled.
func (r *Repository) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	defer r.bgCancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.bgCancel()
		<-done
		return ctx.Err()
	}
}

func cached(entry domain.CacheEntry, stale bool) Result {
	return Result{Value: entry.Value, Source: SourceCache, Stale: stale, StoredAt: entry.StoredAt}
}

// lookup reads the store. Store errors count as a miss.
func (r *Repository) lookup(ctx context.Context, key string, policy Policy) (domain.CacheEntry, bool) {
	entry, ok, err := r.store.Get(ctx, key)
	switch {
	case err != nil:
		r.log.Warn("Cache store read failed", "key", key, "error", err)
		metrics.CacheLookupsTotal.WithLabelValues(string(policy), "error").Inc()
		return domain.CacheEntry{}, false
	case !ok:
		metrics.CacheLookupsTotal.WithLabelValues(string(policy), "miss").Inc()
	case entry.Stale(r.clock.Now()):
		metrics.CacheLookupsTotal.WithLabelValues(string(policy), "stale").Inc()
	default:
		metrics.CacheLookupsTotal.WithLabelValues(string(policy), "hit").Inc()
	}
	return entry, ok
}

// network fetches key and writes the result through.
func (r *Repository) network(ctx context.Context, key string, policy Policy) (Result, error) {
	req := r.builder.FetchRequest(key)
	req.SetExtra(domain.ExtraCachePolicy, string(policy))

	resp, err := r.exec.Execute(ctx, req)
	if err != nil {
		return Result{}, classify.Error(err)
	}
	if resp == nil {
		return Result{}, domain.NewFailure(domain.KindUnknown, "empty response", nil)
	}

	r.write(ctx, key, resp.Body, r.ttlFor(resp))
	return Result{Value: resp.Body, Source: SourceNetwork}, nil
}

// TTL markers returned by ttlFor.
const (
	ttlNoStore    time.Duration = -1 // do not cache, drop any previous entry
	ttlRevalidate time.Duration = -2 // cache, but stale on arrival
)

// revalidateTTL is the TTL of an entry that is stale on arrival. StoredAt is
// backdated past it so the entry is never served as fresh; a zero TTL would
// mean the opposite.
const revalidateTTL = time.Millisecond

func (r *Repository) write(ctx context.Context, key string, value []byte, ttl time.Duration) {
	now := r.clock.Now()
	switch ttl {
	case ttlNoStore:
		if err := r.store.Delete(ctx, key); err != nil {
			r.log.Warn("Cache store delete failed", "key", key, "error", err)
		}
		return
	case ttlRevalidate:
		ttl = revalidateTTL
		now = now.Add(-2 * revalidateTTL)
	}
	entry := domain.CacheEntry{Key: key, Value: value, StoredAt: now, TTL: ttl}
	if err := r.store.Put(ctx, entry); err != nil {
		r.log.Warn("Cache store write failed", "key", key, "error", err)
	}
}

// ttlFor honours Cache-Control on the response. no-store wins over every
// other directive; no-cache and max-age=0 store an entry that is already stale.
func (r *Repository) ttlFor(resp *domain.Response) time.Duration {
	cc := resp.Header.Get("Cache-Control")
	if cc == "" {
		return r.cfg.TTL
	}
	ttl := r.cfg.TTL
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))
		switch {
		case directive == "no-store":
			return ttlNoStore
		case directive == "no-cache":
			ttl = ttlRevalidate
		case strings.HasPrefix(directive, "max-age=") && ttl != ttlRevalidate:
			secs, err := strconv.Atoi(strings.TrimPrefix(directive, "max-age="))
			switch {
			case err != nil || secs < 0:
			case secs == 0:
				ttl = ttlRevalidate
			default:
				ttl = time.Duration(secs) * time.Second
			}
		}
	}
	return ttl
}

// revalidate refreshes key in the background. Concurrent refreshes of one
// key share a single network call.
func (r *Repository) revalidate(key string, policy Policy) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		<-r.group.DoChan(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(r.bgCtx, r.cfg.RefreshTimeout)
			defer cancel()
			if _, err := r.network(ctx, key, policy); err != nil {
				metrics.BackgroundRefreshesTotal.WithLabelValues("failure").Inc()
				r.log.Debug("Background refresh failed", "key", key, "error", err)
				return nil, err
			}
			metrics.BackgroundRefreshesTotal.WithLabelValues("success").Inc()
			return nil, nil
		})
	}()
}
