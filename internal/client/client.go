// Package client wires transport, token manager, pipeline, cache store and
// repository from configuration. This is what application layers should use.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/facebookgo/clock"

	"github.com/vietddude/apiclient/internal/auth"
	"github.com/vietddude/apiclient/internal/classify"
	"github.com/vietddude/apiclient/internal/core/config"
	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/core/worker"
	redisclient "github.com/vietddude/apiclient/internal/infra/redis"
	"github.com/vietddude/apiclient/internal/infra/storage"
	"github.com/vietddude/apiclient/internal/infra/storage/memory"
	"github.com/vietddude/apiclient/internal/infra/storage/postgres"
	"github.com/vietddude/apiclient/internal/infra/transport"
	"github.com/vietddude/apiclient/internal/metrics"
	"github.com/vietddude/apiclient/internal/observability"
	"github.com/vietddude/apiclient/internal/pipeline"
	"github.com/vietddude/apiclient/internal/repository"
	"github.com/vietddude/apiclient/internal/retry"
)

// Client is the high-level entry point.
type Client struct {
	cfg        *config.AppConfig
	http       *transport.HTTPTransport // nil when a custom transport is injected
	tokens     *auth.Manager            // nil when auth is disabled
	pipeline   *pipeline.Pipeline
	repository *repository.Repository
	store      storage.CacheStore
	purger     worker.Purger // postgres only; redis expires keys itself
	policy     repository.Policy
	log        *slog.Logger

	checks  map[string]func(ctx context.Context) error
	closers []func() error
}

type options struct {
	transport transport.Transport
	store     storage.CacheStore
	clock     clock.Clock
	logger    *slog.Logger
	observers []observability.Observer
}

// Option configures a Client.
type Option func(*options)

// WithTransport replaces the HTTP transport.
func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithStore replaces the configured cache backend.
func WithStore(s storage.CacheStore) Option {
	return func(o *options) { o.store = s }
}

// WithClock sets the clock shared by every component.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver adds an attempt observer next to the logging and metrics ones.
func WithObserver(obs observability.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// New builds a client from cfg.
func New(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*Client, error) {
	o := options{clock: clock.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	c := &Client{
		cfg:    cfg,
		log:    o.logger,
		checks: make(map[string]func(ctx context.Context) error),
	}

	policy, err := repository.ParsePolicy(cfg.Cache.Policy)
	if err != nil {
		return nil, err
	}
	c.policy = policy

	tr := o.transport
	if tr == nil {
		c.http = transport.NewHTTPTransport("default", transport.HTTPConfig{
			BaseURL:             cfg.Transport.BaseURL,
			Timeout:             cfg.Transport.Timeout,
			MaxIdleConns:        cfg.Transport.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.Transport.MaxIdleConnsPerHost,
			UserAgent:           cfg.Transport.UserAgent,
		}, o.clock)
		c.closers = append(c.closers, c.http.Close)
		tr = c.http
	}

	classifier := classify.New(classify.WithClock(o.clock), classify.WithLogger(o.logger))
	policyCfg := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Jitter:      retry.JitterStrategy(cfg.Retry.Jitter),
	}
	newExecutor := func() *retry.Executor {
		return retry.NewExecutor(policyCfg,
			retry.WithClock(o.clock),
			retry.WithClassifier(classifier),
			retry.WithLogger(o.logger),
			retry.WithOnRetry(func(ev retry.RetryEvent) {
				metrics.RetriesTotal.WithLabelValues(ev.Failure.Kind.String()).Inc()
			}),
		)
	}

	pipeOpts := []pipeline.Option{
		pipeline.WithClock(o.clock),
		pipeline.WithLogger(o.logger),
		pipeline.WithClassifier(classifier),
		pipeline.WithExecutor(newExecutor()),
		pipeline.WithObserver(observability.NewMultiObserver(append([]observability.Observer{
			observability.NewSlogObserver(o.logger),
			observability.NewMetricsObserver(),
		}, o.observers...)...)),
	}
	if len(cfg.Transport.Headers) > 0 {
		pipeOpts = append(pipeOpts, pipeline.WithOuter(pipeline.Headers(cfg.Transport.Headers)))
	}
	if cfg.Transport.RequestTimeout > 0 {
		pipeOpts = append(pipeOpts, pipeline.WithOuter(pipeline.DefaultTimeout(cfg.Transport.RequestTimeout)))
	}

	if cfg.Auth.Enabled() {
		tokens, err := c.newTokenManager(cfg.Auth, tr, o, newExecutor())
		if err != nil {
			return nil, err
		}
		c.tokens = tokens
		pipeOpts = append(pipeOpts, pipeline.WithAuthenticator(tokens))
	}
	c.pipeline = pipeline.New(tr, pipeOpts...)

	store := o.store
	if store == nil {
		store, err = c.openStore(ctx, cfg)
		if err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	c.store = store

	c.repository = repository.New(c.pipeline, store, repository.Config{
		TTL:            cfg.Cache.TTL,
		RefreshTimeout: cfg.Cache.RefreshTimeout,
		DefaultPolicy:  policy,
	},
		repository.WithClock(o.clock),
		repository.WithLogger(o.logger),
		repository.WithRequestBuilder(repository.PathBuilder{Base: cfg.Cache.ResourcePath}),
	)

	return c, nil
}

func (c *Client) newTokenManager(cfg config.AuthConfig, tr transport.Transport, o options, exec *retry.Executor) (*auth.Manager, error) {
	var refresher auth.Refresher
	if cfg.TokenURL != "" {
		refresher = auth.NewHTTPRefresher(auth.HTTPRefresherConfig{
			TokenURL:     cfg.TokenURL,
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scope:        cfg.Scope,
		}, tr, o.clock)
	}

	m := auth.NewManager(auth.Config{
		RefreshSkew:     cfg.RefreshSkew,
		RefreshTimeout:  cfg.RefreshTimeout,
		RefreshCooldown: cfg.RefreshCooldown,
	}, refresher,
		auth.WithClock(o.clock),
		auth.WithLogger(o.logger),
		auth.WithExecutor(exec),
		auth.OnStateChange(func(t auth.Transition) {
			o.logger.Info("Token state changed", "from", t.From, "to", t.To, "reason", t.Reason)
		}),
	)

	cred := domain.Credential{
		AccessToken:  cfg.AccessToken,
		RefreshToken: cfg.RefreshToken,
	}
	if cfg.ExpiresIn > 0 {
		cred.ExpiresAt = o.clock.Now().Add(cfg.ExpiresIn)
	}
	if _, err := m.Login(cred); err != nil {
		return nil, fmt.Errorf("failed to install credential: %w", err)
	}
	return m, nil
}

func (c *Client) openStore(ctx context.Context, cfg *config.AppConfig) (storage.CacheStore, error) {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, rc.Close)
		c.checks["redis"] = rc.Health
		return redisclient.NewStore(rc, cfg.Cache.KeyPrefix, cfg.Cache.Retention), nil

	case config.BackendPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		c.checks["postgres"] = db.Health

		collectCtx, stop := context.WithCancel(context.Background())
		db.StartMetricsCollector(collectCtx)
		c.closers = append(c.closers, func() error { stop(); return nil })
		repo := postgres.NewCacheRepo(db)
		c.purger = repo
		return repo, nil

	default:
		return memory.NewMemoryStore(cfg.Cache.MaxEntries), nil
	}
}

// StartWorkers launches the cache warmer and the retention pruner when
// configured. They stop when ctx is done.
func (c *Client) StartWorkers(ctx context.Context) error {
	if c.cfg.Warmer.Enabled {
		policy, err := repository.ParsePolicy(c.cfg.Warmer.Policy)
		if err != nil {
			return err
		}
		w := worker.NewWarmer(c, c.cfg.Warmer.Keys, c.cfg.Warmer.Interval, policy, c.log)
		go w.Start(ctx)
	}
	if c.purger != nil && c.cfg.Cache.Retention > 0 {
		p := worker.NewPruner(c.cfg.Cache.Retention, c.purger, c.log)
		go p.Start(ctx)
	}
	return nil
}

// Fetch reads key under policy; an empty policy uses the configured one.
func (c *Client) Fetch(ctx context.Context, key string, policy repository.Policy) (repository.Result, error) {
	if policy == "" {
		policy = c.policy
	}
	return c.repository.Fetch(ctx, key, policy)
}

// Put writes value for key through the network, then the cache.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	return c.repository.Put(ctx, key, value)
}

// Invalidate drops cached entries. A key ending in "/" or "*" is a prefix.
func (c *Client) Invalidate(ctx context.Context, keyOrPrefix string) (int, error) {
	if prefix, ok := strings.CutSuffix(keyOrPrefix, "*"); ok {
		return c.repository.InvalidatePrefix(ctx, prefix)
	}
	if strings.HasSuffix(keyOrPrefix, "/") {
		return c.repository.InvalidatePrefix(ctx, keyOrPrefix)
	}
	if err := c.repository.Invalidate(ctx, keyOrPrefix); err != nil {
		return 0, err
	}
	return 1, nil
}

// Execute sends a non-cacheable request through the pipeline.
func (c *Client) Execute(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	return c.pipeline.Execute(ctx, req)
}

// Login installs a credential. It fails when auth is disabled.
func (c *Client) Login(cred domain.Credential) (domain.Credential, error) {
	if c.tokens == nil {
		return domain.Credential{}, errors.New("auth is not configured")
	}
	return c.tokens.Login(cred)
}

// Logout discards the credential.
func (c *Client) Logout() {
	if c.tokens != nil {
		c.tokens.Logout()
	}
}

// Tokens returns the token manager, or nil when auth is disabled.
func (c *Client) Tokens() *auth.Manager {
	return c.tokens
}

// Repository returns the underlying repository.
func (c *Client) Repository() *repository.Repository {
	return c.repository
}

// Policy returns the default fetch policy.
func (c *Client) Policy() repository.Policy {
	return c.policy
}

// Close drains background work and releases connections.
func (c *Client) Close() error {
	var errs []error
	if c.repository != nil {
		errs = append(errs, c.repository.Close())
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}
