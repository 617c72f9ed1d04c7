package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/apiclient/internal/metrics"
)

// Purger deletes cache entries that have been stale for longer than retention.
type Purger interface {
	PurgeStale(ctx context.Context, retention time.Duration) (int, error)
}

// Pruner deletes old cache entries based on retention policy.
type Pruner struct {
	retention time.Duration
	store     Purger
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker.
func NewPruner(retention time.Duration, store Purger, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		retention: retention,
		store:     store,
		log:       logger,
	}
}

// Interval is 10% of retention, clamped to [1m, 1h].
func (p *Pruner) Interval() time.Duration {
	interval := min(p.retention/10, 1*time.Hour)
	return max(interval, 1*time.Minute)
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.Interval())
	defer ticker.Stop()

	// Initial prune
	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs one pass and returns the number of deleted entries.
func (p *Pruner) Prune(ctx context.Context) int {
	n, err := p.store.PurgeStale(ctx, p.retention)
	if err != nil {
		p.log.Error("[Pruner] failed to purge stale cache entries", "error", err)
		return 0
	}
	if n > 0 {
		metrics.PrunedEntriesTotal.Add(float64(n))
		p.log.Debug("[Pruner] purged stale cache entries", "count", n)
	}
	return n
}
