package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/vietddude/apiclient/internal/client"
	"github.com/vietddude/apiclient/internal/core/domain"
	"github.com/vietddude/apiclient/internal/infra/transport"
)

// checkInterval limits how often dependencies are pinged.
const checkInterval = 10 * time.Second

// StatusProvider reports client state. *client.Client implements it.
type StatusProvider interface {
	Status(ctx context.Context) client.Status
}

// Monitor aggregates health status from the client components.
type Monitor struct {
	provider   StatusProvider
	clock      clock.Clock
	lastCheck  time.Time
	lastReport *HealthReport
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor.
func NewMonitor(provider StatusProvider, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{provider: provider, clock: clk}
}

// CheckHealth builds a report, reusing the previous one for a few seconds.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < checkInterval {
		return *m.lastReport
	}

	st := m.provider.Status(ctx)
	components := map[string]ComponentHealth{
		"auth": authHealth(st.TokenState),
	}
	if st.Transport != nil {
		components["transport"] = transportHealth(*st.Transport)
	}
	for name, err := range st.Dependencies {
		h := ComponentHealth{Name: name, Status: StatusHealthy}
		if err != nil {
			h.Status = StatusCritical
			h.Detail = err.Error()
		}
		components[name] = h
	}

	report := HealthReport{SystemStatus: worst(components), Components: components}
	m.lastCheck = now
	m.lastReport = &report
	return report
}

func authHealth(state domain.TokenState) ComponentHealth {
	h := ComponentHealth{Name: "auth", Status: StatusHealthy, Detail: string(state)}
	if state == domain.TokenStateInvalid {
		h.Status = StatusCritical
	}
	return h
}

func transportHealth(stats transport.MonitorStats) ComponentHealth {
	h := ComponentHealth{
		Name:   "transport",
		Detail: fmt.Sprintf("%s, error rate %.1f%%", stats.Status, stats.ErrorRate*100),
	}
	switch stats.Status {
	case transport.StatusHealthy:
		h.Status = StatusHealthy
	case transport.StatusBlocked:
		h.Status = StatusCritical
	default:
		h.Status = StatusDegraded
	}
	return h
}
