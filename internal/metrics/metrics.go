package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal tracks transport attempts per method and outcome
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_attempts_total",
			Help: "Total number of transport attempts",
		},
		[]string{"method", "outcome"},
	)

	// AttemptLatency tracks per-attempt latency
	AttemptLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "apiclient_attempt_latency_seconds",
			Help:    "Transport attempt latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// RetriesTotal tracks scheduled retries by failure kind
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_retries_total",
			Help: "Total number of retries scheduled",
		},
		[]string{"kind"},
	)

	// TokenRefreshesTotal tracks token refresh operations by result
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_token_refreshes_total",
			Help: "Total number of token refresh operations",
		},
		[]string{"result"},
	)

	// CacheLookupsTotal tracks repository cache lookups
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_cache_lookups_total",
			Help: "Total number of repository cache lookups",
		},
		[]string{"policy", "result"},
	)

	// StaleServedTotal tracks values served stale
	StaleServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_stale_served_total",
			Help: "Total number of values served from stale cache entries",
		},
		[]string{"policy"},
	)

	// BackgroundRefreshesTotal tracks background revalidations by result
	BackgroundRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_background_refreshes_total",
			Help: "Total number of background cache revalidations",
		},
		[]string{"result"},
	)

	// DBConnectionPoolUsage tracks database connection pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "apiclient_db_connection_pool_usage_percent",
			Help: "Database connection pool usage percentage",
		},
	)

	// RedisOperationsTotal tracks redis cache store operations
	RedisOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_redis_operations_total",
			Help: "Total number of redis cache store operations",
		},
		[]string{"op", "result"},
	)

	// WarmerRunsTotal tracks cache warmer passes
	WarmerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "apiclient_warmer_runs_total",
			Help: "Total number of cache warmer fetches",
		},
		[]string{"result"},
	)

	// PrunedEntriesTotal tracks cache rows removed past retention
	PrunedEntriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "apiclient_pruned_entries_total",
			Help: "Total number of expired cache entries deleted by the pruner",
		},
	)
)
