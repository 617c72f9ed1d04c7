package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/apiclient/internal/metrics"
	"github.com/vietddude/apiclient/internal/repository"
)

// Fetcher reads a key under a cache policy. *client.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, key string, policy repository.Policy) (repository.Result, error)
}

// Warmer keeps a fixed set of keys in the cache by fetching them on an interval.
type Warmer struct {
	fetcher  Fetcher
	keys     []string
	interval time.Duration
	policy   repository.Policy
	log      *slog.Logger
}

// NewWarmer creates a warmer. An empty policy uses network_first, so a
// failing upstream leaves the previous values in place.
func NewWarmer(fetcher Fetcher, keys []string, interval time.Duration, policy repository.Policy, logger *slog.Logger) *Warmer {
	if policy == "" {
		policy = repository.NetworkFirst
	}
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{
		fetcher:  fetcher,
		keys:     keys,
		interval: interval,
		policy:   policy,
		log:      logger,
	}
}

// Start runs the warmer loop until ctx is done.
func (w *Warmer) Start(ctx context.Context) {
	if len(w.keys) == 0 {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Warm(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Warm(ctx)
		}
	}
}

// Warm fetches every key once and returns how many succeeded.
func (w *Warmer) Warm(ctx context.Context) int {
	ok := 0
	for _, key := range w.keys {
		if ctx.Err() != nil {
			break
		}
		res, err := w.fetcher.Fetch(ctx, key, w.policy)
		if err != nil {
			metrics.WarmerRunsTotal.WithLabelValues("failed").Inc()
			w.log.Warn("[Warmer] fetch failed", "key", key, "error", err)
			continue
		}
		if res.Stale {
			metrics.WarmerRunsTotal.WithLabelValues("stale").Inc()
		} else {
			metrics.WarmerRunsTotal.WithLabelValues("success").Inc()
		}
		ok++
	}
	return ok
}
