// Package kafka writes activity events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/vietddude/activitywatch/internal/core/domain"
)

const defaultTopic = "account-activity"

// Config holds Kafka configuration. No brokers disables the sink.
type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether brokers are configured.
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is a broadcast sink writing each event keyed by address,
// so events of one account stay ordered within a partition.
type Producer struct {
	writer  messageWriter
	network domain.Network
}

// NewProducer creates a Kafka producer for the configured topic.
func NewProducer(cfg Config, network domain.Network) *Producer {
	topic := cfg.Topic
	if topic == "" {
		topic = defaultTopic
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		BatchSize:              100,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &Producer{writer: writer, network: network}
}

func (p *Producer) Name() string { return "kafka" }

// Durable keeps the producer registered across broker errors; the writer
// reconnects on the next write.
func (p *Producer) Durable() bool { return true }

// Send writes event and waits for the broker acknowledgement.
func (p *Producer) Send(ctx context.Context, event *domain.ActivityEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Address),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "network", Value: []byte(p.network)},
			{Key: "type", Value: []byte(event.Type)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write error: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
