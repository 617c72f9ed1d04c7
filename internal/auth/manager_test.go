package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/retry"
)

// blockingRefresher counts calls and holds each one until released.
type blockingRefresher struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	result  func(n int32) (domain.Credential, error)
}

func newBlockingRefresher(result func(n int32) (domain.Credential, error)) *blockingRefresher {
	return &blockingRefresher{
		started: make(chan struct{}, 100),
		release: make(chan struct{}),
		result:  result,
	}
}

func (r *blockingRefresher) Refresh(ctx context.Context, refreshToken string) (domain.Credential, error) {
	n := r.calls.Add(1)
	r.started <- struct{}{}
	select {
	case <-r.release:
	case <-ctx.Done():
		return domain.Credential{}, ctx.Err()
	}
	return r.result(n)
}

func fastExecutor() *retry.Executor {
	return retry.NewExecutor(retry.Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Jitter:      retry.JitterNone,
	})
}

func login(t *testing.T, m *Manager) domain.Credential {
	t.Helper()
	cred, err := m.Login(domain.Credential{AccessToken: "old", RefreshToken: "r1"})
	require.NoError(t, err)
	return cred
}

func TestManager_AttachRequiresLogin(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)

	req := domain.NewRequest("GET", "/x", nil)
	err := m.Attach(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))
	assert.Equal(t, domain.TokenStateNone, m.State())

	cred := login(t, m)
	assert.Equal(t, uint64(1), cred.Generation)
	assert.Equal(t, domain.TokenStateValid, m.State())

	require.NoError(t, m.Attach(context.Background(), req))
	assert.Equal(t, "Bearer old", req.Header.Get("Authorization"))
	gen, ok := req.Generation()
	require.True(t, ok)
	assert.Equal(t, uint64(1), gen)
}

func TestManager_ConcurrentUnauthorizedSingleRefresh(t *testing.T) {
	r := newBlockingRefresher(func(int32) (domain.Credential, error) {
		return domain.Credential{AccessToken: "new"}, nil
	})
	m := NewManager(DefaultConfig(), r, WithExecutor(fastExecutor()))
	cred := login(t, m)

	const n = 50
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.ReportUnauthorized(context.Background(), cred.Generation)
		}(i)
	}

	<-r.started
	assert.Equal(t, domain.TokenStateRefreshing, m.State())
	close(r.release)
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load(), "exactly one refresh")
	for i, err := range errs {
		assert.NoError(t, err, "caller %d", i)
	}

	current, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "new", current.AccessToken)
	assert.Equal(t, "r1", current.RefreshToken, "refresh token carried over")
	assert.Equal(t, uint64(2), current.Generation)
}

func TestManager_RefreshRejectedFailsAllWaiters(t *testing.T) {
	r := newBlockingRefresher(func(int32) (domain.Credential, error) {
		return domain.Credential{}, domain.NewFailure(domain.KindValidation, "invalid_grant", nil)
	})
	m := NewManager(DefaultConfig(), r, WithExecutor(fastExecutor()))
	cred := login(t, m)

	const n = 50
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.ReportUnauthorized(context.Background(), cred.Generation)
		}(i)
	}

	<-r.started
	close(r.release)
	wg.Wait()

	assert.Equal(t, int32(1), r.calls.Load())
	for i, err := range errs {
		require.Error(t, err, "caller %d", i)
		assert.Equal(t, domain.KindAuthentication, domain.KindOf(err), "caller %d", i)
	}
	assert.Equal(t, domain.TokenStateInvalid, m.State())

	err := m.Attach(context.Background(), domain.NewRequest("GET", "/x", nil))
	assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))

	// Login recovers an invalid session.
	fresh, err := m.Login(domain.Credential{AccessToken: "again"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), fresh.Generation)
	assert.Equal(t, domain.TokenStateValid, m.State())
}

func TestManager_GenerationFencing(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(DefaultConfig(), RefresherFunc(func(ctx context.Context, rt string) (domain.Credential, error) {
		calls.Add(1)
		return domain.Credential{AccessToken: "new"}, nil
	}))
	cred := login(t, m)

	require.NoError(t, m.ReportUnauthorized(context.Background(), cred.Generation))
	require.Equal(t, int32(1), calls.Load())

	// A late 401 for the old generation must not refresh again.
	require.NoError(t, m.ReportUnauthorized(context.Background(), cred.Generation))
	assert.Equal(t, int32(1), calls.Load())

	current, _ := m.Current()
	assert.Equal(t, uint64(2), current.Generation)
}

func TestManager_TransientRefreshFailure(t *testing.T) {
	t.Run("retried then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		m := NewManager(DefaultConfig(), RefresherFunc(func(ctx context.Context, rt string) (domain.Credential, error) {
			if calls.Add(1) < 3 {
				return domain.Credential{}, domain.NewFailure(domain.KindNetwork, "connection reset", nil)
			}
			return domain.Credential{AccessToken: "new"}, nil
		}), WithExecutor(fastExecutor()))
		cred := login(t, m)

		require.NoError(t, m.ReportUnauthorized(context.Background(), cred.Generation))
		assert.Equal(t, int32(3), calls.Load())
		assert.Equal(t, domain.TokenStateValid, m.State())
	})

	t.Run("exhausted keeps session", func(t *testing.T) {
		m := NewManager(DefaultConfig(), RefresherFunc(func(ctx context.Context, rt string) (domain.Credential, error) {
			return domain.Credential{}, domain.NewFailure(domain.KindServerError, "bad gateway", nil)
		}), WithExecutor(fastExecutor()))
		cred := login(t, m)

		err := m.ReportUnauthorized(context.Background(), cred.Generation)
		require.Error(t, err)
		assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))
		assert.False(t, domain.NewFailure(domain.KindOf(err), "", nil).Retryable())

		var f *domain.Failure
		require.True(t, errors.As(err, &f))
		assert.Equal(t, domain.KindServerError, domain.KindOf(f.Err))

		assert.Equal(t, domain.TokenStateValid, m.State())
		current, ok := m.Current()
		require.True(t, ok)
		assert.Equal(t, cred.Generation, current.Generation)
	})
}

func TestManager_RefreshCooldown(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(time.Hour)

	var calls atomic.Int32
	var healthy atomic.Bool
	m := NewManager(DefaultConfig(), RefresherFunc(func(ctx context.Context, rt string) (domain.Credential, error) {
		calls.Add(1)
		if healthy.Load() {
			return domain.Credential{AccessToken: "new"}, nil
		}
		return domain.Credential{}, domain.NewFailure(domain.KindServerError, "bad gateway", nil)
	}), WithClock(mock), WithExecutor(retry.NewExecutor(retry.Policy{MaxAttempts: 1})))
	cred := login(t, m)

	err := m.ReportUnauthorized(context.Background(), cred.Generation)
	assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))
	require.Equal(t, int32(1), calls.Load())

	// Within the cooldown the failure is replayed without calling the endpoint.
	healthy.Store(true)
	mock.Add(time.Second)
	err = m.ReportUnauthorized(context.Background(), cred.Generation)
	assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, domain.TokenStateValid, m.State())

	mock.Add(5 * time.Second)
	require.NoError(t, m.ReportUnauthorized(context.Background(), cred.Generation))
	assert.Equal(t, int32(2), calls.Load())
	current, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, "new", current.AccessToken)
}

func TestManager_RefreshCooldownResetByLogin(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(DefaultConfig(), RefresherFunc(func(ctx context.Context, rt string) (domain.Credential, error) {
		calls.Add(1)
		return domain.Credential{}, domain.NewFailure(domain.KindNetwork, "connection reset", nil)
	}), WithExecutor(retry.NewExecutor(retry.Policy{MaxAttempts: 1})))

	cred := login(t, m)
	require.Error(t, m.ReportUnauthorized(context.Background(), cred.Generation))

	cred = login(t, m)
	require.Error(t, m.ReportUnauthorized(context.Background(), cred.Generation))
	assert.Equal(t, int32(2), calls.Load())
}

func TestManager_ProactiveRefresh(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(time.Hour)

	var calls atomic.Int32
	m := NewManager(Config{RefreshSkew: 30 * time.Second}, RefresherFunc(func(ctx context.Context, rt string) (domain.Credential, error) {
		calls.Add(1)
		return domain.Credential{AccessToken: "new", ExpiresAt: mock.Now().Add(time.Hour)}, nil
	}), WithClock(mock))

	_, err := m.Login(domain.Credential{AccessToken: "old", RefreshToken: "r1", ExpiresAt: mock.Now().Add(2 * time.Minute)})
	require.NoError(t, err)

	req := domain.NewRequest("GET", "/x", nil)
	require.NoError(t, m.Attach(context.Background(), req))
	assert.Equal(t, "Bearer old", req.Header.Get("Authorization"))
	assert.Equal(t, int32(0), calls.Load())

	mock.Add(100 * time.Second)
	req = domain.NewRequest("GET", "/x", nil)
	require.NoError(t, m.Attach(context.Background(), req))
	assert.Equal(t, "Bearer new", req.Header.Get("Authorization"))
	assert.Equal(t, int32(1), calls.Load())
	gen, _ := req.Generation()
	assert.Equal(t, uint64(2), gen)
}

func TestManager_ExpiredWithoutRefreshToken(t *testing.T) {
	mock := clock.NewMock()
	mock.Add(time.Hour)
	m := NewManager(DefaultConfig(), nil, WithClock(mock))

	_, err := m.Login(domain.Credential{AccessToken: "old", ExpiresAt: mock.Now().Add(time.Minute)})
	require.NoError(t, err)

	mock.Add(2 * time.Minute)
	err = m.Attach(context.Background(), domain.NewRequest("GET", "/x", nil))
	require.Error(t, err)
	assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))
	assert.Equal(t, domain.TokenStateInvalid, m.State())
}

func TestManager_LogoutDuringRefresh(t *testing.T) {
	r := newBlockingRefresher(func(int32) (domain.Credential, error) {
		return domain.Credential{AccessToken: "new"}, nil
	})
	m := NewManager(DefaultConfig(), r, WithExecutor(fastExecutor()))
	cred := login(t, m)

	done := make(chan error, 1)
	go func() { done <- m.ReportUnauthorized(context.Background(), cred.Generation) }()

	<-r.started
	m.Logout()
	close(r.release)

	err := <-done
	require.Error(t, err)
	assert.Equal(t, domain.KindAuthentication, domain.KindOf(err))
	assert.Equal(t, domain.TokenStateNone, m.State())
	_, ok := m.Current()
	assert.False(t, ok)
}

func TestManager_CancelWhileWaiting(t *testing.T) {
	r := newBlockingRefresher(func(int32) (domain.Credential, error) {
		return domain.Credential{AccessToken: "new"}, nil
	})
	m := NewManager(DefaultConfig(), r, WithExecutor(fastExecutor()))
	cred := login(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.ReportUnauthorized(ctx, cred.Generation) }()

	<-r.started
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, domain.KindCancelled, domain.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("waiter not released on cancel")
	}

	// The flight itself completes for everyone else.
	close(r.release)
	require.Eventually(t, func() bool {
		c, ok := m.Current()
		return ok && c.AccessToken == "new"
	}, time.Second, 5*time.Millisecond)
}

func TestManager_StateChangeCallbacks(t *testing.T) {
	var mu sync.Mutex
	var seen []Transition
	m := NewManager(DefaultConfig(), RefresherFunc(func(ctx context.Context, rt string) (domain.Credential, error) {
		return domain.Credential{AccessToken: "new"}, nil
	}), OnStateChange(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr)
	}))

	cred := login(t, m)
	require.NoError(t, m.ReportUnauthorized(context.Background(), cred.Generation))
	m.Logout()
	m.Logout()

	mu.Lock()
	defer mu.Unlock()
	var path []State
	for _, tr := range seen {
		path = append(path, tr.To)
	}
	assert.Equal(t, []State{
		domain.TokenStateValid,
		domain.TokenStateRefreshing,
		domain.TokenStateValid,
		domain.TokenStateNone,
	}, path)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{domain.TokenStateNone, domain.TokenStateValid, true},
		{domain.TokenStateNone, domain.TokenStateRefreshing, false},
		{domain.TokenStateValid, domain.TokenStateRefreshing, true},
		{domain.TokenStateRefreshing, domain.TokenStateValid, true},
		{domain.TokenStateRefreshing, domain.TokenStateInvalid, true},
		{domain.TokenStateInvalid, domain.TokenStateRefreshing, false},
		{domain.TokenStateInvalid, domain.TokenStateValid, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
