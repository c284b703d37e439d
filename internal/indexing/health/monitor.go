package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/indexing/recovery"
	"github.com/vietddude/activitywatch/internal/infra/rpc/provider"
)

const slotCacheTTL = 10 * time.Second

// Engine exposes the runtime state of the activity engine.
type Engine interface {
	State() domain.EngineState
	Accounts() []domain.WatchedAccount
	Sinks() []string
	LastError() error
}

// SlotFetcher fetches the current ledger height.
type SlotFetcher interface {
	GetSlot(ctx context.Context) (uint64, error)
}

// ProviderSource reports health for every RPC provider.
type ProviderSource interface {
	ProviderHealth() map[string]provider.HealthStatus
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	network   domain.Network
	engine    Engine
	slots     SlotFetcher
	providers ProviderSource

	mu        sync.Mutex
	lastCheck time.Time
	slot      uint64
	slotErr   error
}

// NewMonitor creates a new health monitor.
func NewMonitor(network domain.Network, engine Engine, slots SlotFetcher, providers ProviderSource) *Monitor {
	return &Monitor{
		network:   network,
		engine:    engine,
		slots:     slots,
		providers: providers,
	}
}

// CheckHealth builds a report. Engine state is always current; the slot
// query is rate limited to avoid spamming the node.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	report := HealthReport{
		SystemStatus: StatusHealthy,
		Network:      m.network,
		EngineState:  m.engine.State(),
		Accounts:     len(m.engine.Accounts()),
		Sinks:        m.engine.Sinks(),
		Providers:    m.providers.ProviderHealth(),
	}
	report.StateDetail = recovery.StateDescription(report.EngineState)
	if err := m.engine.LastError(); err != nil {
		report.LastError = err.Error()
	}

	slot, err := m.currentSlot(ctx)
	report.Slot = slot
	if err != nil {
		report.SlotError = err.Error()
	}

	report.SystemStatus = evaluate(report)
	return report
}

func (m *Monitor) currentSlot(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastCheck.IsZero() && time.Since(m.lastCheck) < slotCacheTTL {
		return m.slot, m.slotErr
	}
	m.slot, m.slotErr = m.slots.GetSlot(ctx)
	m.lastCheck = time.Now()
	return m.slot, m.slotErr
}

func evaluate(r HealthReport) SystemStatus {
	if r.EngineState == domain.EngineStateHalted {
		return StatusCritical
	}

	available := 0
	for _, p := range r.Providers {
		if p.Available {
			available++
		}
	}
	if len(r.Providers) > 0 && available == 0 {
		return StatusCritical
	}

	if r.EngineState == domain.EngineStateBackoff || r.SlotError != "" || available < len(r.Providers) {
		return StatusDegraded
	}
	return StatusHealthy
}
