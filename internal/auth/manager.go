// Package auth owns the credential lifecycle for one authenticated scope.
//
// Refresh is single-flight: every caller that needs a new token while a
// refresh for the same generation is running waits on the same flight and
// observes the same outcome.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/apiclient/internal/classify"
	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/metrics"
	"github.com/vietddude/apiclient/internal/retry"
)

const refreshKey = "refresh"

// Refresher exchanges a refresh token for a new credential.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.Credential, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context, refreshToken string) (domain.Credential, error)

// Refresh implements Refresher.
func (f RefresherFunc) Refresh(ctx context.Context, refreshToken string) (domain.Credential, error) {
	return f(ctx, refreshToken)
}

// Config holds token manager settings.
type Config struct {
	// RefreshSkew triggers a proactive refresh when the token expires within it.
	RefreshSkew time.Duration
	// RefreshTimeout bounds one refresh flight, retries included.
	RefreshTimeout time.Duration
	// RefreshCooldown is how long a transiently failed refresh is reported
	// again for the same generation before the token endpoint is retried.
	// Negative disables it.
	RefreshCooldown time.Duration
	// HeaderName and Scheme control how the token is injected.
	HeaderName string
	Scheme     string
}

// DefaultConfig returns the default token manager settings.
func DefaultConfig() Config {
	return Config{
		RefreshSkew:     30 * time.Second,
		RefreshTimeout:  30 * time.Second,
		RefreshCooldown: 5 * time.Second,
		HeaderName:      "Authorization",
		Scheme:          "Bearer",
	}
}

// Manager is the token lifecycle manager.
type Manager struct {
	cfg       Config
	refresher Refresher
	executor  *retry.Executor
	clock     clock.Clock
	log       *slog.Logger

	mu         sync.RWMutex
	state      State
	cred       domain.Credential
	generation uint64
	onChange   []func(Transition)

	// last transient refresh failure, replayed during the cooldown
	failedGen uint64
	failedAt  time.Time
	failedErr error

	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock used for expiry checks.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithExecutor sets the retry executor used for refresh calls.
func WithExecutor(e *retry.Executor) Option {
	return func(m *Manager) { m.executor = e }
}

// OnStateChange registers a callback invoked after every transition.
// Callbacks run with the manager unlocked.
func OnStateChange(fn func(Transition)) Option {
	return func(m *Manager) { m.onChange = append(m.onChange, fn) }
}

// NewManager creates a manager in the no-credential state.
func NewManager(cfg Config, refresher Refresher, opts ...Option) *Manager {
	def := DefaultConfig()
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = def.RefreshTimeout
	}
	if cfg.RefreshCooldown == 0 {
		cfg.RefreshCooldown = def.RefreshCooldown
	}
	if cfg.RefreshSkew < 0 {
		cfg.RefreshSkew = 0
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = def.HeaderName
	}
	if cfg.Scheme == "" {
		cfg.Scheme = def.Scheme
	}

	m := &Manager{
		cfg:       cfg,
		refresher: refresher,
		clock:     clock.New(),
		log:       slog.Default(),
		state:     domain.TokenStateNone,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.executor == nil {
		m.executor = retry.NewExecutor(retry.DefaultPolicy, retry.WithClock(m.clock), retry.WithLogger(m.log))
	}
	return m
}

// Login installs a credential and returns it with its assigned generation.
func (m *Manager) Login(cred domain.Credential) (domain.Credential, error) {
	if cred.AccessToken == "" {
		return domain.Credential{}, domain.NewFailure(domain.KindValidation, "empty access token", nil)
	}

	m.mu.Lock()
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = m.clock.Now()
	}
	m.generation++
	cred.Generation = m.generation
	m.cred = cred
	t, ok := m.transitionLocked(domain.TokenStateValid, "login")
	m.mu.Unlock()

	if ok {
		m.notify(t)
	}
	m.log.Info("Logged in", "generation", cred.Generation, "expires_at", cred.ExpiresAt)
	return cred, nil
}

// Logout discards the credential. Requests waiting on a refresh fail.
func (m *Manager) Logout() {
	m.mu.Lock()
	if m.state == domain.TokenStateNone {
		m.mu.Unlock()
		return
	}
	m.cred = domain.Credential{}
	t, ok := m.transitionLocked(domain.TokenStateNone, "logout")
	m.mu.Unlock()

	if ok {
		m.notify(t)
	}
	m.log.Info("Logged out")
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current returns the live credential, if any.
func (m *Manager) Current() (domain.Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == domain.TokenStateNone || m.state == domain.TokenStateInvalid {
		return domain.Credential{}, false
	}
	return m.cred, true
}

// Attach injects the current access token into req and records the
// generation used. It waits for an in-flight refresh and refreshes
// proactively when the token expires within the skew window.
func (m *Manager) Attach(ctx context.Context, req *domain.Request) error {
	m.mu.RLock()
	state, cred := m.state, m.cred
	m.mu.RUnlock()

	switch state {
	case domain.TokenStateNone:
		return domain.NewFailure(domain.KindAuthentication, "no credential, login required", nil)
	case domain.TokenStateInvalid:
		return domain.NewFailure(domain.KindAuthentication, "session invalid, login required", nil)
	case domain.TokenStateRefreshing:
		fresh, err := m.awaitRefresh(ctx, cred.Generation)
		if err != nil {
			return err
		}
		cred = fresh
	case domain.TokenStateValid:
		now := m.clock.Now()
		if cred.ExpiresWithin(now, m.cfg.RefreshSkew) {
			fresh, err := m.refreshBeforeUse(ctx, cred, now)
			if err != nil {
				return err
			}
			cred = fresh
		}
	}

	if req.Header == nil {
		req.Header = make(map[string][]string)
	}
	req.Header.Set(m.cfg.HeaderName, m.cfg.Scheme+" "+cred.AccessToken)
	req.SetExtra(domain.ExtraGeneration, cred.Generation)
	return nil
}

func (m *Manager) refreshBeforeUse(ctx context.Context, cred domain.Credential, now time.Time) (domain.Credential, error) {
	if !cred.CanRefresh() || m.refresher == nil {
		if cred.Expired(now) {
			m.invalidate(cred.Generation, "expired without refresh token")
			return domain.Credential{}, domain.NewFailure(domain.KindAuthentication, "credential expired", nil)
		}
		return cred, nil
	}

	fresh, err := m.awaitRefresh(ctx, cred.Generation)
	if err == nil {
		return fresh, nil
	}
	// A proactive refresh that failed transiently leaves a still-valid token usable.
	if domain.KindOf(err) != domain.KindCancelled && m.State() == domain.TokenStateValid && !cred.Expired(m.clock.Now()) {
		m.log.Warn("Proactive refresh failed, using current token", "generation", cred.Generation, "error", err)
		return cred, nil
	}
	return domain.Credential{}, err
}

// ReportUnauthorized handles a 401 for a request sent with generation gen.
// A nil return means a credential newer than gen is in place.
func (m *Manager) ReportUnauthorized(ctx context.Context, gen uint64) error {
	m.mu.RLock()
	state, current := m.state, m.cred.Generation
	m.mu.RUnlock()

	switch state {
	case domain.TokenStateNone:
		return domain.NewFailure(domain.KindAuthentication, "no credential, login required", nil)
	case domain.TokenStateInvalid:
		return domain.NewFailure(domain.KindAuthentication, "session invalid, login required", nil)
	}
	if current != gen {
		m.log.Debug("Credential already advanced", "reported", gen, "current", current)
		return nil
	}

	_, err := m.awaitRefresh(ctx, gen)
	return err
}

// Recovery returns a retry.AuthRecovery bound to the generation req carries.
func (m *Manager) Recovery(req *domain.Request) retry.AuthRecovery {
	return func(ctx context.Context) error {
		gen, ok := req.Generation()
		if !ok {
			return domain.NewFailure(domain.KindAuthentication, "request carries no credential", nil)
		}
		return m.ReportUnauthorized(ctx, gen)
	}
}

// awaitRefresh triggers or joins the refresh flight. Cancelling ctx releases
// only this waiter; the flight itself runs on a detached context.
func (m *Manager) awaitRefresh(ctx context.Context, gen uint64) (domain.Credential, error) {
	ch := m.group.DoChan(refreshKey, func() (any, error) {
		return m.refresh(gen)
	})

	select {
	case <-ctx.Done():
		return domain.Credential{}, classify.Error(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return domain.Credential{}, res.Err
		}
		return res.Val.(domain.Credential), nil
	}
}

// refresh runs inside the single flight.
func (m *Manager) refresh(gen uint64) (domain.Credential, error) {
	m.mu.Lock()
	switch {
	case m.state == domain.TokenStateNone:
		m.mu.Unlock()
		return domain.Credential{}, domain.NewFailure(domain.KindAuthentication, "no credential, login required", nil)
	case m.state == domain.TokenStateInvalid:
		m.mu.Unlock()
		return domain.Credential{}, domain.NewFailure(domain.KindAuthentication, "session invalid, login required", nil)
	case m.cred.Generation != gen && m.state == domain.TokenStateValid:
		cred := m.cred
		m.mu.Unlock()
		return cred, nil
	case !m.cred.CanRefresh() || m.refresher == nil:
		t, ok := m.transitionLocked(domain.TokenStateInvalid, "no refresh token")
		m.mu.Unlock()
		if ok {
			m.notify(t)
		}
		metrics.TokenRefreshesTotal.WithLabelValues("rejected").Inc()
		return domain.Credential{}, domain.NewFailure(domain.KindAuthentication, "credential rejected and cannot be refreshed", nil)
	}
	if m.failedErr != nil && m.failedGen == m.cred.Generation && m.clock.Now().Sub(m.failedAt) < m.cfg.RefreshCooldown {
		err := m.failedErr
		m.mu.Unlock()
		metrics.TokenRefreshesTotal.WithLabelValues("cooldown").Inc()
		return domain.Credential{}, err
	}
	base := m.cred
	t, ok := m.transitionLocked(domain.TokenStateRefreshing, "refresh")
	m.mu.Unlock()
	if ok {
		m.notify(t)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RefreshTimeout)
	defer cancel()

	start := m.clock.Now()
	fresh, err := retry.Do(ctx, m.executor, func(ctx context.Context, attempt int) (domain.Credential, error) {
		return m.refresher.Refresh(ctx, base.RefreshToken)
	}, nil)

	m.mu.Lock()
	if m.state != domain.TokenStateRefreshing || m.cred.Generation != base.Generation {
		// Logout or login happened while the flight was running.
		state, cred := m.state, m.cred
		m.mu.Unlock()
		if state == domain.TokenStateValid {
			return cred, nil
		}
		return domain.Credential{}, domain.NewFailure(domain.KindAuthentication, "session ended during refresh", nil)
	}

	if err != nil {
		kind := domain.KindOf(err)
		rejected := kind == domain.KindAuthentication || kind == domain.KindAuthorization || kind == domain.KindValidation
		var t Transition
		var ok bool
		if rejected {
			t, ok = m.transitionLocked(domain.TokenStateInvalid, "refresh rejected")
			metrics.TokenRefreshesTotal.WithLabelValues("rejected").Inc()
		} else {
			t, ok = m.transitionLocked(domain.TokenStateValid, "refresh failed")
			metrics.TokenRefreshesTotal.WithLabelValues("failed").Inc()
		}
		failure := &domain.Failure{
			Kind:    domain.KindAuthentication,
			Message: fmt.Sprintf("token refresh failed (%s)", kind),
			Err:     err,
		}
		if !rejected {
			m.failedGen, m.failedAt, m.failedErr = base.Generation, m.clock.Now(), failure
		}
		m.mu.Unlock()
		if ok {
			m.notify(t)
		}
		m.log.Error("Token refresh failed", "generation", base.Generation, "rejected", rejected, "error", err)
		return domain.Credential{}, failure
	}

	if fresh.RefreshToken == "" {
		fresh.RefreshToken = base.RefreshToken
	}
	if fresh.IssuedAt.IsZero() {
		fresh.IssuedAt = m.clock.Now()
	}
	m.generation++
	fresh.Generation = m.generation
	m.cred = fresh
	t, ok = m.transitionLocked(domain.TokenStateValid, "refresh succeeded")
	m.mu.Unlock()
	if ok {
		m.notify(t)
	}

	metrics.TokenRefreshesTotal.WithLabelValues("success").Inc()
	m.log.Info("Token refreshed",
		"generation", fresh.Generation,
		"expires_at", fresh.ExpiresAt,
		"duration", m.clock.Now().Sub(start),
	)
	return fresh, nil
}

func (m *Manager) invalidate(gen uint64, reason string) {
	m.mu.Lock()
	if m.cred.Generation != gen || m.state != domain.TokenStateValid {
		m.mu.Unlock()
		return
	}
	t, ok := m.transitionLocked(domain.TokenStateInvalid, reason)
	m.mu.Unlock()
	if ok {
		m.notify(t)
	}
}

// transitionLocked moves to the target state. Caller holds m.mu.
func (m *Manager) transitionLocked(to State, reason string) (Transition, bool) {
	from := m.state
	if !CanTransition(from, to) {
		m.log.Warn("Rejected token state transition",
			"from", from, "to", to, "reason", reason, "error", ErrInvalidTransition)
		return Transition{}, false
	}
	m.state = to
	return Transition{
		From:       from,
		To:         to,
		Generation: m.cred.Generation,
		Reason:     reason,
		Timestamp:  m.clock.Now(),
	}, true
}

func (m *Manager) notify(t Transition) {
	m.log.Debug("Token state changed", "from", t.From, "to", t.To, "reason", t.Reason)
	for _, fn := range m.onChange {
		fn(t)
	}
}
