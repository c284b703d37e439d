// Package provider implements RPC provider interfaces.
//
// This package contains:
//   - Provider interface: core abstraction for RPC endpoints
//   - HTTPProvider: JSON-RPC 2.0 over HTTP implementation
//   - ProviderMonitor: health and rate tracking
package provider

import (
	"context"
	"encoding/json"
	"time"
)

// Operation represents an RPC operation to execute.
type Operation struct {
	// Name is the JSON-RPC method (e.g., "getBalance", "getTransaction")
	Name string

	// Params is the positional parameter list sent with Name.
	Params []any
}

// Provider defines the core interface for any RPC provider.
type Provider interface {
	// GetName returns provider identifier (e.g., "helius", "public")
	GetName() string

	// GetHealth returns current health metrics
	GetHealth() HealthStatus

	// IsAvailable checks if the provider is healthy enough to use
	IsAvailable() bool

	// Execute performs the operation and returns the raw "result" member
	Execute(ctx context.Context, op Operation) (json.RawMessage, error)

	// Close cleans up resources
	Close() error
}

// HealthStatus represents the health state of a provider.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
	MonitorStats  *MonitorStats `json:"monitor_stats,omitempty"`
}
