package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/indexing/metrics"
)

// ErrDispatcherClosed is returned when adding sinks to a closed dispatcher.
var ErrDispatcherClosed = errors.New("dispatcher closed")

const (
	defaultBuffer      = 64
	defaultSendTimeout = 5 * time.Second
)

// Dispatcher fans events out to the per-address handler and to broadcast sinks.
// Each broadcast sink owns a bounded queue and a goroutine; a sink whose queue
// is full or whose Send fails is pruned without affecting the others, unless
// it is Durable.
type Dispatcher struct {
	direct []Sink

	mu          sync.RWMutex
	sinks       map[string]*sinkWorker
	closed      bool
	buffer      int
	sendTimeout time.Duration
	wg          sync.WaitGroup

	log *slog.Logger
}

type sinkWorker struct {
	sink    Sink
	queue   chan *domain.ActivityEvent
	durable bool
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBuffer sets the per-sink queue length.
func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.buffer = n
		}
	}
}

// WithSendTimeout bounds a single Send to a broadcast sink.
func WithSendTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.sendTimeout = timeout
		}
	}
}

// NewDispatcher creates a dispatcher delivering to handlers resolved by source.
func NewDispatcher(source HandlerSource, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sinks:       make(map[string]*sinkWorker),
		buffer:      defaultBuffer,
		sendTimeout: defaultSendTimeout,
		log:         slog.Default().With("component", "dispatcher"),
	}
	if source != nil {
		d.direct = append(d.direct, NewHandlerSink(source))
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Emit delivers event to the address handler and every broadcast sink.
func (d *Dispatcher) Emit(ctx context.Context, event *domain.ActivityEvent) error {
	for _, s := range d.direct {
		if err := s.Send(ctx, event); err != nil {
			d.log.Warn("Direct sink failed", "sink", s.Name(), "address", event.Address, "error", err)
		}
	}
	d.Broadcast(event)
	return nil
}

// Broadcast delivers event to the broadcast sinks only.
func (d *Dispatcher) Broadcast(event *domain.ActivityEvent) {
	var full []*sinkWorker

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return
	}
	for _, w := range d.sinks {
		select {
		case w.queue <- event:
		default:
			full = append(full, w)
		}
	}
	d.mu.RUnlock()

	for _, w := range full {
		if w.durable {
			d.drop(w, event, "queue_full", nil)
			continue
		}
		d.prune(w, "queue full")
	}
}

// AddSink registers a broadcast sink. A sink with the same name is replaced.
func (d *Dispatcher) AddSink(sink Sink) error {
	w := &sinkWorker{
		sink:  sink,
		queue: make(chan *domain.ActivityEvent, d.buffer),
	}
	if ds, ok := sink.(Durable); ok {
		w.durable = ds.Durable()
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	old := d.sinks[sink.Name()]
	if old != nil {
		delete(d.sinks, sink.Name())
		close(old.queue)
	}
	d.sinks[sink.Name()] = w
	d.wg.Add(1)
	d.mu.Unlock()

	go d.run(w)
	d.log.Debug("Sink added", "sink", sink.Name())
	return nil
}

// RemoveSink unregisters and closes the named sink.
func (d *Dispatcher) RemoveSink(name string) bool {
	d.mu.Lock()
	w, ok := d.sinks[name]
	if ok {
		delete(d.sinks, name)
		close(w.queue)
	}
	d.mu.Unlock()
	return ok
}

// Sinks returns the names of the registered broadcast sinks.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.sinks))
	for name := range d.sinks {
		names = append(names, name)
	}
	return names
}

// Close stops accepting events, drains the queues and closes every sink.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for name, w := range d.sinks {
		delete(d.sinks, name)
		close(w.queue)
	}
	d.mu.Unlock()

	d.wg.Wait()

	var errs []error
	for _, s := range d.direct {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) run(w *sinkWorker) {
	defer d.wg.Done()
	defer func() {
		if err := w.sink.Close(); err != nil {
			d.log.Debug("Sink close failed", "sink", w.sink.Name(), "error", err)
		}
	}()

	broken := false
	for event := range w.queue {
		if broken {
			continue
		}
		if err := d.send(w.sink, event); err != nil {
			if w.durable {
				d.drop(w, event, "send", err)
				continue
			}
			broken = true
			d.prune(w, err.Error())
		}
	}
}

func (d *Dispatcher) send(s Sink, event *domain.ActivityEvent) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return s.Send(ctx, event)
}

// prune removes w if it is still the registered worker for its name.
func (d *Dispatcher) prune(w *sinkWorker, reason string) {
	name := w.sink.Name()

	d.mu.Lock()
	if d.sinks[name] != w {
		d.mu.Unlock()
		return
	}
	delete(d.sinks, name)
	close(w.queue)
	d.mu.Unlock()

	metrics.SinksPruned.WithLabelValues(sinkKind(name)).Inc()
	d.log.Warn("Pruned broadcast sink", "sink", name, "reason", reason)
}

// drop records an event a durable sink could not take.
func (d *Dispatcher) drop(w *sinkWorker, event *domain.ActivityEvent, reason string, err error) {
	name := w.sink.Name()
	metrics.SinkErrors.WithLabelValues(sinkKind(name), reason).Inc()
	d.log.Warn("Durable sink dropped event",
		"sink", name, "reason", reason, "address", event.Address, "tx", event.TxHash, "error", err)
}

// sinkKind keeps the metric label bounded for per-connection sink names like "ws:<id>".
func sinkKind(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == ':' {
			return name[:i]
		}
	}
	return name
}
