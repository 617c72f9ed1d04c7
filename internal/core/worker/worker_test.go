package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/repository"
)

type fakeFetcher struct {
	mu     sync.Mutex
	calls  []string
	policy repository.Policy
	fail   map[string]bool
}

func (f *fakeFetcher) Fetch(ctx context.Context, key string, policy repository.Policy) (repository.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	f.policy = policy
	if f.fail[key] {
		return repository.Result{}, domain.NewFailure(domain.KindNetwork, "down", nil)
	}
	return repository.Result{Value: []byte(key), Source: repository.SourceNetwork}, nil
}

func TestWarmer_Warm(t *testing.T) {
	f := &fakeFetcher{fail: map[string]bool{"b": true}}
	w := NewWarmer(f, []string{"a", "b", "c"}, 0, "", nil)

	if got := w.Warm(context.Background()); got != 2 {
		t.Errorf("Warm() = %d, want 2", got)
	}
	if len(f.calls) != 3 {
		t.Errorf("calls = %v, want 3 keys", f.calls)
	}
	if f.policy != repository.NetworkFirst {
		t.Errorf("policy = %s, want %s", f.policy, repository.NetworkFirst)
	}
}

func TestWarmer_StopsOnCancel(t *testing.T) {
	f := &fakeFetcher{}
	w := NewWarmer(f, []string{"a", "b"}, time.Hour, repository.CacheFirst, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := w.Warm(ctx); got != 0 {
		t.Errorf("Warm() on cancelled context = %d, want 0", got)
	}

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

type fakePurger struct {
	retention time.Duration
	n         int
	err       error
}

func (p *fakePurger) PurgeStale(ctx context.Context, retention time.Duration) (int, error) {
	p.retention = retention
	return p.n, p.err
}

func TestPruner_Prune(t *testing.T) {
	tests := []struct {
		name string
		p    *fakePurger
		want int
	}{
		{"deletes", &fakePurger{n: 3}, 3},
		{"store error", &fakePurger{n: 3, err: errors.New("boom")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := NewPruner(24*time.Hour, tt.p, nil)
			if got := pr.Prune(context.Background()); got != tt.want {
				t.Errorf("Prune() = %d, want %d", got, tt.want)
			}
			if tt.p.retention != 24*time.Hour {
				t.Errorf("retention = %v", tt.p.retention)
			}
		})
	}
}

func TestPruner_Interval(t *testing.T) {
	tests := []struct {
		retention time.Duration
		want      time.Duration
	}{
		{time.Minute, time.Minute},
		{2 * time.Hour, 12 * time.Minute},
		{48 * time.Hour, time.Hour},
	}
	for _, tt := range tests {
		if got := NewPruner(tt.retention, &fakePurger{}, nil).Interval(); got != tt.want {
			t.Errorf("Interval(%v) = %v, want %v", tt.retention, got, tt.want)
		}
	}
}

func TestPruner_Disabled(t *testing.T) {
	p := &fakePurger{}
	NewPruner(0, p, nil).Start(context.Background())
	if p.retention != 0 {
		t.Error("disabled pruner should not purge")
	}
}
