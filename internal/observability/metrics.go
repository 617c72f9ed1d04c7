package observability

import (
	"context"

	"github.com/vietddude/apiclient/internal/metrics"
)

// MetricsObserver records attempts in Prometheus.
type MetricsObserver struct{}

// NewMetricsObserver creates a MetricsObserver.
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

func (MetricsObserver) OnAttempt(ctx context.Context, event AttemptEvent) {
	metrics.AttemptsTotal.WithLabelValues(event.Method, string(event.Outcome)).Inc()
	metrics.AttemptLatency.WithLabelValues(event.Method).Observe(event.Latency.Seconds())
}
