package client

import (
	"context"
	"fmt"
	"strings"

	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/infra/storage/memory"
	"github.com/vietddude/apiclient/internal/infra/transport"
)

// Status is a point-in-time view of the client.
type Status struct {
	TokenState   domain.TokenState
	Generation   uint64
	Transport    *transport.MonitorStats
	CacheStats   *memory.Stats
	Backend      string
	Dependencies map[string]error
}

// Healthy reports whether every dependency answered and the session is usable.
func (s Status) Healthy() bool {
	for _, err := range s.Dependencies {
		if err != nil {
			return false
		}
	}
	return s.TokenState != domain.TokenStateInvalid
}

// Status collects token, transport, cache and dependency state.
func (c *Client) Status(ctx context.Context) Status {
	st := Status{
		TokenState:   domain.TokenStateNone,
		Backend:      c.cfg.Cache.Backend,
		Dependencies: make(map[string]error, len(c.checks)),
	}
	if c.tokens != nil {
		st.TokenState = c.tokens.State()
		if cred, ok := c.tokens.Current(); ok {
			st.Generation = cred.Generation
		}
	}
	if c.http != nil {
		stats := c.http.Stats()
		st.Transport = &stats
	}
	if ms, ok := c.store.(*memory.MemoryStore); ok {
		stats := ms.Stats()
		st.CacheStats = &stats
	}
	for name, check := range c.checks {
		st.Dependencies[name] = check(ctx)
	}
	return st
}

// Dashboard returns a formatted status report.
func (c *Client) Dashboard(ctx context.Context) string {
	st := c.Status(ctx)
	var sb strings.Builder

	sb.WriteString("\n=== API Client Status ===\n\n")
	sb.WriteString(fmt.Sprintf("Token: %s", st.TokenState))
	if st.Generation > 0 {
		sb.WriteString(fmt.Sprintf(" (generation %d)", st.Generation))
	}
	sb.WriteString("\n")

	if st.Transport != nil {
		statusStr := map[transport.Status]string{
			transport.StatusHealthy:   "✅ HEALTHY",
			transport.StatusDegraded:  "⚠️  DEGRADED",
			transport.StatusThrottled: "🔴 THROTTLED",
			transport.StatusBlocked:   "🚫 BLOCKED",
		}[st.Transport.Status]

		sb.WriteString(fmt.Sprintf("Transport: %s\n", statusStr))
		sb.WriteString(fmt.Sprintf("  Avg Latency: %v\n", st.Transport.AverageLatency))
		sb.WriteString(fmt.Sprintf("  Error Rate: %.1f%%\n", st.Transport.ErrorRate*100))
		sb.WriteString(fmt.Sprintf("  429 Errors: %d\n", st.Transport.ThrottleCount429))
		sb.WriteString(fmt.Sprintf("  403 Errors: %d\n", st.Transport.ThrottleCount403))
		sb.WriteString(fmt.Sprintf("  Requests (1h): %d\n", st.Transport.RequestsLast1Hour))
	}

	sb.WriteString(fmt.Sprintf("Cache: %s\n", st.Backend))
	if st.CacheStats != nil {
		sb.WriteString(fmt.Sprintf("  Entries: %d  Hits: %d  Misses: %d  Evictions: %d\n",
			st.CacheStats.Size, st.CacheStats.Hits, st.CacheStats.Misses, st.CacheStats.Evictions))
	}
	for name, err := range st.Dependencies {
		if err != nil {
			sb.WriteString(fmt.Sprintf("  %s: ❌ %v\n", name, err))
		} else {
			sb.WriteString(fmt.Sprintf("  %s: ✅ ok\n", name))
		}
	}
	return sb.String()
}
