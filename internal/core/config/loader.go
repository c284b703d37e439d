package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/activitywatch/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Network == "" {
		c.Network = domain.NetworkMainnet
	}

	w := &c.Watch
	if w.PollInterval == 0 {
		w.PollInterval = 10 * time.Second
	}
	if w.SignatureLimit == 0 {
		w.SignatureLimit = 5
	}
	if w.CallTimeout == 0 {
		w.CallTimeout = 10 * time.Second
	}
	if w.ReconnectInterval == 0 {
		w.ReconnectInterval = 5 * time.Second
	}
	if w.MaxReconnectAttempts == 0 {
		w.MaxReconnectAttempts = 5
	}
	if w.Concurrency == 0 {
		w.Concurrency = 4
	}
	if w.Decimals == 0 {
		w.Decimals = domain.DefaultDecimals
	}
	if w.BalanceEpsilon == 0 {
		w.BalanceEpsilon = 0.0001
	}
	if w.SinkBuffer == 0 {
		w.SinkBuffer = 64
	}
	if w.Commitment == "" {
		w.Commitment = "confirmed"
	}

	for i := range c.Providers {
		if c.Providers[i].Timeout == 0 {
			c.Providers[i].Timeout = 30 * time.Second
		}
		if c.Providers[i].Name == "" {
			c.Providers[i].Name = fmt.Sprintf("provider-%d", i)
		}
	}
}

// Validate checks settings that have no sensible default.
func (c *AppConfig) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required")
	}
	for _, p := range c.Providers {
		if p.URL == "" {
			return fmt.Errorf("provider %s: url is required", p.Name)
		}
	}
	if c.Watch.SignatureLimit < 1 {
		return fmt.Errorf("watch.signature_limit must be positive")
	}
	return nil
}
