package emitter

import (
	"context"

	"github.com/vietddude/activitywatch/internal/core/domain"
)

// Emitter defines the interface for emitting activity events
type Emitter interface {
	// Emit delivers a single event
	Emit(ctx context.Context, event *domain.ActivityEvent) error

	// Close releases every downstream consumer
	Close() error
}

// Sink is one consumer of emitted events
type Sink interface {
	// Name identifies the sink; names are unique within a dispatcher
	Name() string

	// Send delivers one event. An error marks the sink as broken unless
	// the sink is Durable.
	Send(ctx context.Context, event *domain.ActivityEvent) error

	// Close releases the sink's resources
	Close() error
}

// Durable is implemented by sinks backed by a broker that recovers on its own.
// The dispatcher never prunes a durable sink: a send error or a full queue
// drops the event and is logged instead.
type Durable interface {
	Durable() bool
}

// HandlerSource resolves the per-address handler of an event.
type HandlerSource interface {
	Handler(address string) (domain.Handler, bool)
}

// Discard is an Emitter that drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(context.Context, *domain.ActivityEvent) error { return nil }
func (discard) Close() error                                      { return nil }
