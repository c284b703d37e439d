package config

import (
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
	amqpbroker "github.com/vietddude/activitywatch/internal/infra/broker/amqp"
	kafkabroker "github.com/vietddude/activitywatch/internal/infra/broker/kafka"
	redisclient "github.com/vietddude/activitywatch/internal/infra/redis"
	"github.com/vietddude/activitywatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Network   domain.Network     `yaml:"network"`
	Watch     WatchConfig        `yaml:"watch"`
	Providers []ProviderConfig   `yaml:"providers"`
	Accounts  []string           `yaml:"accounts"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
	AMQP      amqpbroker.Config  `yaml:"amqp"`
	Kafka     kafkabroker.Config `yaml:"kafka"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port      int  `yaml:"port"`
	WebSocket bool `yaml:"websocket"` // enable /ws fan-out
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// WatchConfig tunes the polling engine.
type WatchConfig struct {
	PollInterval         time.Duration `yaml:"poll_interval"`
	SignatureLimit       int           `yaml:"signature_limit"`
	CallTimeout          time.Duration `yaml:"call_timeout"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	Concurrency          int           `yaml:"concurrency"`
	Decimals             int32         `yaml:"decimals"`
	BalanceEpsilon       float64       `yaml:"balance_epsilon"`
	SinkBuffer           int           `yaml:"sink_buffer"`
	Commitment           string        `yaml:"commitment"`      // processed, confirmed, finalized
	EventRetention       time.Duration `yaml:"event_retention"` // 0 keeps events forever
}

// ProviderConfig holds settings for an RPC provider.
type ProviderConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}
