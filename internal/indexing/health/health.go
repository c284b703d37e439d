// Package health provides system health monitoring and status reporting.
package health

import (
	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/infra/rpc/provider"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus                     `json:"system_status"`
	Network      domain.Network                   `json:"network"`
	EngineState  domain.EngineState               `json:"engine_state"`
	StateDetail  string                           `json:"state_detail"`
	Accounts     int                              `json:"accounts"`
	Sinks        []string                         `json:"sinks"`
	Slot         uint64                           `json:"slot"`
	SlotError    string                           `json:"slot_error,omitempty"`
	LastError    string                           `json:"last_error,omitempty"`
	Providers    map[string]provider.HealthStatus `json:"providers"`
}
