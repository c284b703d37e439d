package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/vietddude/activitywatch/internal/indexing/metrics"
	"github.com/vietddude/activitywatch/internal/infra/rpc/provider"
	"github.com/vietddude/activitywatch/internal/infra/rpc/routing"
)

// Client is the high-level interface for making RPC calls.
// This is what application layers should use.
type Client struct {
	router  routing.Router
	network string
	retry   routing.RetryConfig
}

// NewClient creates a new RPC client for one network.
func NewClient(network string, router routing.Router) *Client {
	return &Client{
		network: network,
		router:  router,
		retry:   routing.DefaultRetryConfig,
	}
}

// WithRetryConfig overrides the per-call retry policy.
func (c *Client) WithRetryConfig(cfg routing.RetryConfig) *Client {
	c.retry = cfg
	return c
}

// Execute runs op with retry and failover across the network's providers.
func (c *Client) Execute(ctx context.Context, op Operation) (json.RawMessage, error) {
	start := time.Now()
	result, providerName, err := routing.CallWithRetryAndFailover(ctx, c.router, c.network, op, c.retry)

	metrics.RPCLatency.WithLabelValues(c.network, op.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(c.network, op.Name, routing.ClassifyError(err).String()).Inc()
		return nil, err
	}
	metrics.RPCCallsTotal.WithLabelValues(c.network, providerName, op.Name).Inc()
	return result, nil
}

// Call is a shorthand for Execute with a plain method and params.
func (c *Client) Call(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	return c.Execute(ctx, NewHTTPOperation(method, params...))
}

// ProviderHealth returns health for every provider of the network.
func (c *Client) ProviderHealth() map[string]provider.HealthStatus {
	providers := c.router.GetAllProviders(c.network)
	health := make(map[string]provider.HealthStatus, len(providers))
	for _, p := range providers {
		health[p.GetName()] = p.GetHealth()
	}
	return health
}

// Close closes every provider of the network.
func (c *Client) Close() error {
	var firstErr error
	for _, p := range c.router.GetAllProviders(c.network) {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
