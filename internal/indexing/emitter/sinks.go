package emitter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/activitywatch/internal/core/domain"
)

// HandlerSink delivers events synchronously to the handler registered for the
// event's address. Events for unregistered addresses are dropped.
type HandlerSink struct {
	source HandlerSource
	log    *slog.Logger
}

// NewHandlerSink creates a sink scoped to per-address handlers.
func NewHandlerSink(source HandlerSource) *HandlerSink {
	return &HandlerSink{
		source: source,
		log:    slog.Default().With("component", "handler_sink"),
	}
}

func (s *HandlerSink) Name() string { return "handler" }

func (s *HandlerSink) Send(ctx context.Context, event *domain.ActivityEvent) (err error) {
	h, ok := s.source.Handler(event.Address)
	if !ok {
		s.log.Debug("No handler registered, dropping event", "address", event.Address, "tx", event.TxHash)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler for %s panicked: %v", event.Address, r)
		}
	}()
	h(ctx, event)
	return nil
}

func (s *HandlerSink) Close() error { return nil }

// LogSink writes every event to the structured log.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink logging through logger, or slog.Default when nil.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{log: logger.With("component", "events")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(ctx context.Context, event *domain.ActivityEvent) error {
	attrs := []any{
		"type", event.Type,
		"address", event.Address,
		"tx", event.TxHash,
		"slot", event.BlockHeight,
		"status", event.Data.Status,
		"source", event.Data.Source,
	}
	if event.HasBalanceChange() {
		attrs = append(attrs, "change", event.Data.BalanceChange.String(), "balance", event.Data.NewBalance.String())
	}
	if event.Type == domain.EventTypeEngineHalted {
		s.log.ErrorContext(ctx, "Engine halted", append(attrs, "error", event.Data.Error)...)
		return nil
	}
	s.log.InfoContext(ctx, "Activity detected", attrs...)
	return nil
}

func (s *LogSink) Close() error { return nil }

// EventStore persists activity events.
type EventStore interface {
	SaveEvent(ctx context.Context, network domain.Network, event *domain.ActivityEvent) error
}

// StoreSink appends every event to an EventStore.
// Write failures are logged and do not unregister the sink.
type StoreSink struct {
	store   EventStore
	network domain.Network
	log     *slog.Logger
}

// NewStoreSink creates a sink persisting events of network into store.
func NewStoreSink(store EventStore, network domain.Network) *StoreSink {
	return &StoreSink{
		store:   store,
		network: network,
		log:     slog.Default().With("component", "store_sink"),
	}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Send(ctx context.Context, event *domain.ActivityEvent) error {
	if err := s.store.SaveEvent(ctx, s.network, event); err != nil {
		s.log.Error("Failed to persist event", "tx", event.TxHash, "address", event.Address, "error", err)
	}
	return nil
}

func (s *StoreSink) Close() error { return nil }
