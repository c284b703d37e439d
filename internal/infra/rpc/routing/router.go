// Package routing handles provider selection and failover logic.
//
// This package contains:
//   - Router: interface for provider selection and health tracking
//   - DefaultRouter: round-robin implementation with circuit breaker
//   - Retry: retry logic with exponential backoff and failover
package routing

import (
	"sync"
	"time"

	"github.com/vietddude/activitywatch/internal/infra/rpc/provider"
)

// Router handles provider selection and health tracking.
type Router interface {
	// AddProvider registers a provider for a network
	AddProvider(network string, p provider.Provider)

	// GetProviders returns the providers of a network in preference order
	GetProviders(network string) []provider.Provider

	// GetAllProviders returns all providers for a network, usable or not
	GetAllProviders(network string) []provider.Provider

	// RecordSuccess tracks successful calls
	RecordSuccess(providerName string, latency time.Duration)

	// RecordFailure tracks failed calls
	RecordFailure(providerName string, err error)
}

type providerMetrics struct {
	successCount     int
	failureCount     int
	totalLatency     time.Duration
	lastSuccessAt    time.Time
	lastFailureAt    time.Time
	consecutiveFails int
	circuitOpen      bool
}

// DefaultRouter implements round-robin provider selection with a circuit breaker.
type DefaultRouter struct {
	mu              sync.RWMutex
	networkProvider map[string][]provider.Provider
	providerHealth  map[string]*providerMetrics
	next            map[string]int

	failureThreshold int
	cooldown         time.Duration
}

// NewRouter creates a new router.
func NewRouter() *DefaultRouter {
	return &DefaultRouter{
		networkProvider:  make(map[string][]provider.Provider),
		providerHealth:   make(map[string]*providerMetrics),
		next:             make(map[string]int),
		failureThreshold: 5,
		cooldown:         30 * time.Second,
	}
}

// AddProvider registers a provider for a network.
func (r *DefaultRouter) AddProvider(network string, p provider.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.networkProvider[network] = append(r.networkProvider[network], p)
	r.providerHealth[p.GetName()] = &providerMetrics{
		lastSuccessAt: time.Now(),
	}
}

// GetProviders returns usable providers starting at the round-robin cursor.
// Providers with an open circuit are moved to the back so a fully tripped
// network still gets attempted.
func (r *DefaultRouter) GetProviders(network string) []provider.Provider {
	r.mu.Lock()
	defer r.mu.Unlock()

	providers := r.networkProvider[network]
	if len(providers) == 0 {
		return nil
	}

	start := r.next[network] % len(providers)
	r.next[network] = start + 1

	var healthy, tripped []provider.Provider
	for i := range providers {
		p := providers[(start+i)%len(providers)]
		if r.circuitOpenLocked(p.GetName()) || !p.IsAvailable() {
			tripped = append(tripped, p)
			continue
		}
		healthy = append(healthy, p)
	}
	return append(healthy, tripped...)
}

// GetAllProviders returns all providers for a network.
func (r *DefaultRouter) GetAllProviders(network string) []provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := r.networkProvider[network]
	result := make([]provider.Provider, len(providers))
	copy(result, providers)
	return result
}

func (r *DefaultRouter) circuitOpenLocked(name string) bool {
	m, ok := r.providerHealth[name]
	if !ok || !m.circuitOpen {
		return false
	}
	// Half-open after cooldown
	return time.Since(m.lastFailureAt) < r.cooldown
}

// RecordSuccess records a successful call.
func (r *DefaultRouter) RecordSuccess(providerName string, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics, ok := r.providerHealth[providerName]
	if !ok {
		return
	}

	metrics.successCount++
	metrics.totalLatency += latency
	metrics.lastSuccessAt = time.Now()
	metrics.consecutiveFails = 0
	metrics.circuitOpen = false
}

// RecordFailure records a failed call.
func (r *DefaultRouter) RecordFailure(providerName string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics, ok := r.providerHealth[providerName]
	if !ok {
		return
	}

	metrics.failureCount++
	metrics.lastFailureAt = time.Now()
	metrics.consecutiveFails++

	if metrics.consecutiveFails >= r.failureThreshold {
		metrics.circuitOpen = true
	}
}

// IsCircuitOpen reports whether the named provider is currently tripped.
func (r *DefaultRouter) IsCircuitOpen(providerName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.circuitOpenLocked(providerName)
}
