package health

import (
	"context"
	"sync"
	"time"
)

// Check tests one component. Required components turn the system critical
// when they fail; optional ones only degrade it.
type Check struct {
	Name     string
	Ping     func(ctx context.Context) error
	Required bool
}

// TimeoutCounter reports the relay backlog.
type TimeoutCounter interface {
	Count(ctx context.Context) (int, error)
}

// CriticalSource exposes the most recent critical error.
type CriticalSource interface {
	Last() error
}

// Monitor aggregates health status from the endpoint components.
type Monitor struct {
	checks          []Check
	timeouts        TimeoutCounter
	critical        CriticalSource
	pendingDegraded int
	cacheFor        time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithTimeouts reports the relay backlog; more than degradedAbove pending
// timeouts degrades the system.
func WithTimeouts(counter TimeoutCounter, degradedAbove int) MonitorOption {
	return func(m *Monitor) {
		m.timeouts = counter
		m.pendingDegraded = degradedAbove
	}
}

// WithCritical degrades the system once a critical error was raised.
func WithCritical(src CriticalSource) MonitorOption {
	return func(m *Monitor) { m.critical = src }
}

// WithCacheFor sets how long a report is reused.
func WithCacheFor(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.cacheFor = d }
}

// NewMonitor creates a new health monitor.
func NewMonitor(checks []Check, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		checks:   checks,
		cacheFor: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CheckHealth runs every check.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Rate limit checks to avoid hammering the backends
	if m.lastReport != nil && time.Since(m.lastCheck) < m.cacheFor {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(m.checks)),
	}

	for _, c := range m.checks {
		h := ComponentHealth{Name: c.Name, Status: StatusHealthy}
		if err := c.Ping(ctx); err != nil {
			h.Error = err.Error()
			h.Status = StatusDegraded
			if c.Required {
				h.Status = StatusCritical
			}
		}
		report.Components[c.Name] = h
		report.SystemStatus = worst(report.SystemStatus, h.Status)
	}

	if m.timeouts != nil {
		if n, err := m.timeouts.Count(ctx); err == nil {
			report.PendingTimeouts = n
			if m.pendingDegraded > 0 && n > m.pendingDegraded {
				report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
			}
		}
	}

	if m.critical != nil {
		if err := m.critical.Last(); err != nil {
			report.LastCritical = err.Error()
			report.SystemStatus = worst(report.SystemStatus, StatusDegraded)
		}
	}

	m.lastCheck = time.Now()
	m.lastReport = &report
	return report
}

func worst(a, b SystemStatus) SystemStatus {
	rank := map[SystemStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
