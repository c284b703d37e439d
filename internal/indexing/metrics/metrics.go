package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TicksTotal tracks poll ticks by result (ok, failed, halted)
	TicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_ticks_total",
			Help: "Total number of poll ticks",
		},
		[]string{"network", "result"},
	)

	// TickDuration tracks how long one pass over all accounts takes
	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watcher_tick_duration_seconds",
			Help:    "Duration of a poll tick in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network"},
	)

	// EventsEmitted tracks activity events by type and balance source
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_events_emitted_total",
			Help: "Total number of activity events emitted",
		},
		[]string{"network", "type", "source"},
	)

	// DetectErrors tracks per-account detection failures absorbed inside a tick
	DetectErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_detect_errors_total",
			Help: "Total number of per-account detection errors",
		},
		[]string{"network"},
	)

	// ReconnectAttempts tracks supervisor retries after tick failures
	ReconnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_reconnect_attempts_total",
			Help: "Total number of reconnect attempts",
		},
		[]string{"network"},
	)

	// EngineState exposes the supervisor state (0 idle, 1 running, 2 backoff, 3 halted)
	EngineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watcher_engine_state",
			Help: "Current engine state",
		},
		[]string{"network"},
	)

	// WatchedAccounts tracks the registry size
	WatchedAccounts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watcher_watched_accounts",
			Help: "Number of watched accounts",
		},
		[]string{"network"},
	)

	// SinksPruned tracks broadcast sinks removed for being slow or closed
	SinksPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_sinks_pruned_total",
			Help: "Total number of broadcast sinks pruned",
		},
		[]string{"sink"},
	)

	// SinkErrors tracks events a durable sink failed to deliver
	SinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_sink_errors_total",
			Help: "Total number of events dropped by durable broadcast sinks",
		},
		[]string{"sink", "reason"},
	)

	// RPCCallsTotal tracks RPC calls per network and provider
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"network", "provider", "method"},
	)

	// RPCErrorsTotal tracks RPC errors per network and method
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watcher_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"network", "method", "error_type"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watcher_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"network", "method"},
	)

	// RPCProviderAvailable reports 1 while a provider is healthy
	RPCProviderAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watcher_rpc_provider_available",
			Help: "Provider availability (1 available, 0 unavailable)",
		},
		[]string{"network", "provider"},
	)

	// DBConnectionPoolUsage tracks the percentage of open connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watcher_db_connection_pool_usage",
			Help: "Database connection pool usage percentage",
		},
	)
)
