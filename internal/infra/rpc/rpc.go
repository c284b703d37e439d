// Package rpc provides a resilient JSON-RPC client for ledger nodes.
//
// This package offers robust RPC connectivity with:
//   - Multiple provider support with failover
//   - Per-call retry with exponential backoff
//   - Circuit breaking for misbehaving providers
//   - Health and throttle monitoring
//
// # Quick Start
//
//	router := rpc.NewRouter()
//	router.AddProvider("mainnet-beta", rpc.NewHTTPProvider("helius", heliusURL, 30*time.Second))
//	router.AddProvider("mainnet-beta", rpc.NewHTTPProvider("public", publicURL, 30*time.Second))
//
//	client := rpc.NewClient("mainnet-beta", router)
//	raw, err := client.Execute(ctx, rpc.NewHTTPOperation("getSlot"))
//
// # Package Structure
//
//   - provider/ - Provider implementations (HTTPProvider, monitoring)
//   - routing/  - Provider selection, circuit breaking, retry logic
//
// Most types are re-exported at the root level for convenience.
package rpc

import (
	"time"

	"github.com/vietddude/activitywatch/internal/infra/rpc/provider"
	"github.com/vietddude/activitywatch/internal/infra/rpc/routing"
)

// Provider is the core interface for RPC endpoints.
type Provider = provider.Provider

// HTTPProvider implements Provider for JSON-RPC over HTTP.
type HTTPProvider = provider.HTTPProvider

// HealthStatus represents the health state of a provider.
type HealthStatus = provider.HealthStatus

// Operation represents an RPC operation to execute.
type Operation = provider.Operation

// Router handles provider selection and health tracking.
type Router = routing.Router

// DefaultRouter implements provider selection with circuit breaker.
type DefaultRouter = routing.DefaultRouter

// RetryConfig defines retry behavior.
type RetryConfig = routing.RetryConfig

// DefaultRetryConfig provides sensible retry defaults.
var DefaultRetryConfig = routing.DefaultRetryConfig

// NewHTTPProvider creates a new HTTP-based RPC provider.
func NewHTTPProvider(name, endpoint string, timeout time.Duration) *HTTPProvider {
	return provider.NewHTTPProvider(name, endpoint, timeout)
}

// NewRouter creates a new router.
func NewRouter() *DefaultRouter {
	return routing.NewRouter()
}
