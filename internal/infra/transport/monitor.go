package transport

import (
	"strings"
	"sync"
	"time"

	"github.com/facebookgo/clock"
)

// Status represents the health state of a transport endpoint.
type Status int

const (
	StatusHealthy   Status = iota // working normally
	StatusDegraded                // slow or error-prone but working
	StatusThrottled               // rate limiting this client
	StatusBlocked                 // refusing this client (403 storm)
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MonitorStats holds monitoring statistics for a transport.
type MonitorStats struct {
	Status            Status
	AverageLatency    time.Duration
	ErrorRate         float64
	ThrottleCount429  int
	ThrottleCount403  int
	RequestsLast1Hour int
	TotalRequests     int
	LastSuccessAt     time.Time
	LastFailureAt     time.Time
}

// Monitor tracks endpoint health and rate limiting.
type Monitor struct {
	mu    sync.RWMutex
	clock clock.Clock

	recentLatencies  []time.Duration
	maxLatencyWindow int

	status429Count   int
	status403Count   int
	throttlePatterns []string
	lastThrottleTime time.Time
	retryAfter       time.Duration

	requestTimestamps []time.Time
	windowDuration    time.Duration

	successCount  int
	failureCount  int
	lastSuccessAt time.Time
	lastFailureAt time.Time

	slowResponseThreshold time.Duration
	degradedErrorRate     float64
	throttleBurst         int
}

// NewMonitor creates a monitor with default thresholds.
func NewMonitor(clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{
		clock:            clk,
		recentLatencies:  make([]time.Duration, 0, 100),
		maxLatencyWindow: 100,
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"daily request count exceeded",
			"monthly quota exceeded",
		},
		windowDuration:        time.Hour,
		slowResponseThreshold: 3 * time.Second,
		degradedErrorRate:     0.3,
		throttleBurst:         5,
	}
}

// RecordSuccess records a completed exchange with its latency.
func (m *Monitor) RecordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.successCount++
	m.lastSuccessAt = m.clock.Now()
	m.recordLatencyLocked(latency)
	m.recordTimestampLocked()
}

// RecordFailure records a transport-level failure or an error status.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failureCount++
	m.lastFailureAt = m.clock.Now()
	m.recordTimestampLocked()
}

// RecordThrottle records a 429 or 403 response with its Retry-After hint.
func (m *Monitor) RecordThrottle(statusCode int, retryAfter time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastThrottleTime = m.clock.Now()

	switch statusCode {
	case 429:
		m.status429Count++
		if retryAfter <= 0 {
			retryAfter = time.Minute
		}
		m.retryAfter = retryAfter
	case 403:
		m.status403Count++
		m.retryAfter = 10 * time.Minute
	}
}

// DetectThrottlePattern checks if a message contains throttle phrases.
func (m *Monitor) DetectThrottlePattern(message string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lower := strings.ToLower(message)
	for _, p := range m.throttlePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Status returns the current status of the endpoint.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() Status {
	now := m.clock.Now()
	inThrottleWindow := now.Sub(m.lastThrottleTime) < m.retryAfter

	if m.status403Count > m.throttleBurst && inThrottleWindow {
		return StatusBlocked
	}
	if m.status429Count > m.throttleBurst && inThrottleWindow {
		return StatusThrottled
	}
	if len(m.recentLatencies) > 10 && m.averageLatencyLocked() > m.slowResponseThreshold {
		return StatusDegraded
	}
	if total := m.successCount + m.failureCount; total >= 10 &&
		float64(m.failureCount)/float64(total) > m.degradedErrorRate {
		return StatusDegraded
	}
	return StatusHealthy
}

// RetryAfter returns the remaining throttle window.
func (m *Monitor) RetryAfter() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.retryAfter > 0 {
		if remaining := m.retryAfter - m.clock.Now().Sub(m.lastThrottleTime); remaining > 0 {
			return remaining
		}
	}
	return 0
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := MonitorStats{
		Status:            m.statusLocked(),
		AverageLatency:    m.averageLatencyLocked(),
		ThrottleCount429:  m.status429Count,
		ThrottleCount403:  m.status403Count,
		RequestsLast1Hour: m.countSinceLocked(m.clock.Now().Add(-m.windowDuration)),
		TotalRequests:     m.successCount + m.failureCount,
		LastSuccessAt:     m.lastSuccessAt,
		LastFailureAt:     m.lastFailureAt,
	}
	if stats.TotalRequests > 0 {
		stats.ErrorRate = float64(m.failureCount) / float64(stats.TotalRequests)
	}
	return stats
}

func (m *Monitor) recordLatencyLocked(latency time.Duration) {
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}
}

func (m *Monitor) recordTimestampLocked() {
	now := m.clock.Now()
	m.requestTimestamps = append(m.requestTimestamps, now)

	cutoff := now.Add(-m.windowDuration)
	i := 0
	for i < len(m.requestTimestamps) && !m.requestTimestamps[i].After(cutoff) {
		i++
	}
	m.requestTimestamps = m.requestTimestamps[i:]
}

func (m *Monitor) averageLatencyLocked() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range m.recentLatencies {
		total += l
	}
	return total / time.Duration(len(m.recentLatencies))
}

func (m *Monitor) countSinceLocked(cutoff time.Time) int {
	count := 0
	for _, t := range m.requestTimestamps {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}
