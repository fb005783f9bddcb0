// Package health implements the health monitor: per-service status and
// rolling metrics fed by call records and bus events, aggregated into an
// overall verdict.
package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cogitohq/cogito/internal/events"
	"github.com/cogitohq/cogito/pkg/provider"
)

// Status is a service's current health classification.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Overall is the aggregate across all services.
type Overall string

const (
	OverallHealthy   Overall = "healthy"
	OverallDegraded  Overall = "degraded"
	OverallUnhealthy Overall = "unhealthy"
)

// Error-rate thresholds for the status classification.
const (
	degradedErrorRate = 0.25
	downErrorRate     = 0.75
	windowSize        = 50
)

// ServiceHealth is the per-service snapshot.
type ServiceHealth struct {
	Name            string        `json:"name"`
	Status          Status        `json:"status"`
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	ErrorRate       float64       `json:"error_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	TokensUsed      int64         `json:"tokens_used"`
	LastSeen        time.Time     `json:"last_seen"`
}

// Snapshot is the full monitor state.
type Snapshot struct {
	Overall      Overall                  `json:"overall"`
	Services     map[string]ServiceHealth `json:"services"`
	CacheHitRate float64                  `json:"cache_hit_rate"`
	GeneratedAt  time.Time                `json:"generated_at"`
}

// serviceState carries the rolling window behind a ServiceHealth.
type serviceState struct {
	health  ServiceHealth
	outcome []bool // sliding window, true = error
	totalRT time.Duration
	probeOK bool
	probed  bool
}

// CacheStatser supplies the cache hit rate for snapshots.
type CacheStatser interface {
	HitRate() float64
}

// Monitor implements provider.Observer and listens on the event bus.
type Monitor struct {
	mu       sync.Mutex
	services map[string]*serviceState

	bus    *events.Bus
	cache  CacheStatser
	logger *slog.Logger
}

var _ provider.Observer = (*Monitor)(nil)

// Options configures the monitor.
type Options struct {
	Bus    *events.Bus
	Cache  CacheStatser
	Logger *slog.Logger
}

// New creates a monitor and subscribes it to health events on the bus.
func New(opts Options) *Monitor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Monitor{
		services: make(map[string]*serviceState),
		bus:      opts.Bus,
		cache:    opts.Cache,
		logger:   opts.Logger,
	}
	if m.bus != nil {
		m.bus.Subscribe(events.KindHealthUpdate, m.onHealthEvent)
	}
	return m
}

// ObserveCall ingests one provider call record.
func (m *Monitor) ObserveCall(rec provider.CallRecord) {
	m.mu.Lock()
	st := m.ensureLocked(rec.Provider)

	st.health.Requests++
	st.health.TokensUsed += int64(rec.Tokens)
	st.health.LastSeen = rec.Timestamp
	st.totalRT += rec.Latency

	isErr := rec.ErrorType != ""
	if isErr {
		st.health.Errors++
	}
	st.outcome = append(st.outcome, isErr)
	if len(st.outcome) > windowSize {
		st.outcome = st.outcome[1:]
	}

	st.recomputeLocked()
	status := st.health.Status
	m.mu.Unlock()

	m.publish(rec.Provider, status)
}

// onHealthEvent ingests probe outcomes published by the dispatcher.
func (m *Monitor) onHealthEvent(ev events.Event) {
	healthy, ok := ev.Payload.(bool)
	if !ok {
		return
	}

	m.mu.Lock()
	st := m.ensureLocked(ev.Service)
	st.probed = true
	st.probeOK = healthy
	st.recomputeLocked()
	m.mu.Unlock()
}

func (m *Monitor) ensureLocked(name string) *serviceState {
	st, ok := m.services[name]
	if !ok {
		st = &serviceState{health: ServiceHealth{Name: name, Status: StatusUp}}
		m.services[name] = st
	}
	return st
}

// recomputeLocked derives status from the rolling error rate and the last
// probe. A failed probe is down regardless of request history.
func (st *serviceState) recomputeLocked() {
	errs := 0
	for _, e := range st.outcome {
		if e {
			errs++
		}
	}
	if len(st.outcome) > 0 {
		st.health.ErrorRate = float64(errs) / float64(len(st.outcome))
	}
	if st.health.Requests > 0 {
		st.health.AvgResponseTime = st.totalRT / time.Duration(st.health.Requests)
	}

	switch {
	case st.probed && !st.probeOK:
		st.health.Status = StatusDown
	case st.health.ErrorRate >= downErrorRate && len(st.outcome) >= 4:
		st.health.Status = StatusDown
	case st.health.ErrorRate >= degradedErrorRate && len(st.outcome) >= 4:
		st.health.Status = StatusDegraded
	default:
		st.health.Status = StatusUp
	}
}

func (m *Monitor) publish(service string, status Status) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Kind:    events.KindMetricsUpdate,
		Service: service,
		Payload: string(status),
	})
}

// Service returns the snapshot for one service.
func (m *Monitor) Service(name string) (ServiceHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.services[name]
	if !ok {
		return ServiceHealth{}, false
	}
	return st.health, true
}

// Snapshot returns the aggregate view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	snap := Snapshot{
		Services:    make(map[string]ServiceHealth, len(m.services)),
		GeneratedAt: time.Now(),
	}

	anyDown, anyDegraded := false, false
	for name, st := range m.services {
		snap.Services[name] = st.health
		switch st.health.Status {
		case StatusDown:
			anyDown = true
		case StatusDegraded:
			anyDegraded = true
		}
	}
	m.mu.Unlock()

	switch {
	case anyDown:
		snap.Overall = OverallUnhealthy
	case anyDegraded:
		snap.Overall = OverallDegraded
	default:
		snap.Overall = OverallHealthy
	}

	if m.cache != nil {
		snap.CacheHitRate = m.cache.HitRate()
	}
	return snap
}
