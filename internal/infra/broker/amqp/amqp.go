// Package amqp publishes activity events to an AMQP compliant broker (ie RabbitMQ).
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"github.com/vietddude/activitywatch/internal/core/domain"
)

const defaultExchange = "activity"

// Config holds AMQP broker configuration. An empty URL disables the sink.
type Config struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// Enabled reports whether a broker URL is configured.
func (c Config) Enabled() bool {
	return c.URL != ""
}

// channel is the subset of *amqp.Channel used for publishing.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher is a broadcast sink publishing every event to a topic exchange.
// Routing keys have the form <network>.<type>.<address>.
type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	network  domain.Network
	reopen   func() (channel, error)
	mu       sync.Mutex
	log      *slog.Logger
}

// NewPublisher dials the broker and declares the exchange.
func NewPublisher(cfg Config, network domain.Network) (*Publisher, error) {
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = defaultExchange
	}

	conn, ch, err := connect(cfg.URL, exchange)
	if err != nil {
		return nil, err
	}

	p := newPublisher(ch, exchange, network)
	p.conn = conn
	p.reopen = func() (channel, error) {
		if p.conn != nil && !p.conn.IsClosed() {
			ch, err := openChannel(p.conn, exchange)
			if err == nil {
				return ch, nil
			}
			_ = p.conn.Close()
		}
		conn, ch, err := connect(cfg.URL, exchange)
		if err != nil {
			return nil, err
		}
		p.conn = conn
		return ch, nil
	}
	p.log.Info("Connected to amqp broker", "exchange", exchange)
	return p, nil
}

func connect(url, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to amqp broker: %w", err)
	}
	ch, err := openChannel(conn, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}

func openChannel(conn *amqp.Connection, exchange string) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return ch, nil
}

func newPublisher(ch channel, exchange string, network domain.Network) *Publisher {
	return &Publisher{
		ch:       ch,
		exchange: exchange,
		network:  network,
		log:      slog.Default().With("component", "amqp", "network", network),
	}
}

// RoutingKey returns the topic routing key of an event.
func RoutingKey(network domain.Network, event *domain.ActivityEvent) string {
	address := event.Address
	if address == "" {
		address = "engine"
	}
	return fmt.Sprintf("%s.%s.%s", network, event.Type, address)
}

func (p *Publisher) Name() string { return "amqp" }

// Durable keeps the publisher registered across broker errors.
func (p *Publisher) Durable() bool { return true }

// Send publishes event as a persistent JSON message.
func (p *Publisher) Send(ctx context.Context, event *domain.ActivityEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := amqp.Publishing{
		Headers:      amqp.Table{"x-tx-hash": event.TxHash},
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.UnixMilli(event.Timestamp),
		Body:         body,
	}

	key := RoutingKey(p.network, event)

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish(p.exchange, key, false, false, msg)
	if errors.Is(err, amqp.ErrClosed) && p.reopen != nil {
		// channel or connection went away; reopen once and retry
		ch, rerr := p.reopen()
		if rerr != nil {
			return fmt.Errorf("failed to publish event %s: %w", event.TxHash, rerr)
		}
		p.ch = ch
		p.log.Info("Reopened amqp channel")
		err = p.ch.Publish(p.exchange, key, false, false, msg)
	}
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.TxHash, err)
	}
	return nil
}

// Close terminates the channel and the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.Close(); err != nil {
		p.log.Debug("Error closing amqp channel", "error", err)
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
