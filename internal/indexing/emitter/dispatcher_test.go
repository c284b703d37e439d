package emitter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
)

type mockSource struct {
	handlers map[string]domain.Handler
}

func (m *mockSource) Handler(address string) (domain.Handler, bool) {
	h, ok := m.handlers[address]
	return h, ok
}

// MockSink records events and can be told to fail or block.
type MockSink struct {
	name    string
	mu      sync.Mutex
	events  []*domain.ActivityEvent
	err     error
	block   chan struct{}
	closed  chan struct{}
	closeMu sync.Once
}

func newMockSink(name string) *MockSink {
	return &MockSink{name: name, closed: make(chan struct{})}
}

func (m *MockSink) Name() string { return m.name }

func (m *MockSink) Send(ctx context.Context, event *domain.ActivityEvent) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockSink) Close() error {
	m.closeMu.Do(func() { close(m.closed) })
	return nil
}

func (m *MockSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

// flakySink is a durable sink that fails its first failN sends.
type flakySink struct {
	*MockSink
	failN int
	calls int
}

func (f *flakySink) Durable() bool { return true }

func (f *flakySink) Send(ctx context.Context, event *domain.ActivityEvent) error {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.failN
	f.mu.Unlock()
	if fail {
		return errors.New("leader not available")
	}
	return f.MockSink.Send(ctx, event)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testEvent(address string) *domain.ActivityEvent {
	return &domain.ActivityEvent{
		Type:    domain.EventTypeTransactions,
		Address: address,
		TxHash:  "sig-" + address,
	}
}

func TestDispatcher_DeliversToAddressHandlerOnly(t *testing.T) {
	var gotA, gotB int
	src := &mockSource{handlers: map[string]domain.Handler{
		"A": func(ctx context.Context, e *domain.ActivityEvent) { gotA++ },
		"B": func(ctx context.Context, e *domain.ActivityEvent) { gotB++ },
	}}
	d := NewDispatcher(src)
	defer d.Close()

	if err := d.Emit(context.Background(), testEvent("A")); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if err := d.Emit(context.Background(), testEvent("C")); err != nil {
		t.Fatalf("Emit for unregistered address failed: %v", err)
	}

	if gotA != 1 || gotB != 0 {
		t.Errorf("expected A=1 B=0, got A=%d B=%d", gotA, gotB)
	}
}

func TestDispatcher_HandlerPanicIsContained(t *testing.T) {
	src := &mockSource{handlers: map[string]domain.Handler{
		"A": func(ctx context.Context, e *domain.ActivityEvent) { panic("boom") },
	}}
	d := NewDispatcher(src)
	defer d.Close()

	sink := newMockSink("log")
	if err := d.AddSink(sink); err != nil {
		t.Fatalf("AddSink failed: %v", err)
	}

	if err := d.Emit(context.Background(), testEvent("A")); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	waitFor(t, func() bool { return sink.count() == 1 })
}

func TestDispatcher_BroadcastReachesAllSinks(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	s1, s2 := newMockSink("one"), newMockSink("two")
	_ = d.AddSink(s1)
	_ = d.AddSink(s2)

	for i := 0; i < 3; i++ {
		_ = d.Emit(context.Background(), testEvent("A"))
	}

	waitFor(t, func() bool { return s1.count() == 3 && s2.count() == 3 })
}

func TestDispatcher_FailingSinkIsPruned(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	bad := newMockSink("ws:bad")
	bad.err = errors.New("connection closed")
	good := newMockSink("good")
	_ = d.AddSink(bad)
	_ = d.AddSink(good)

	_ = d.Emit(context.Background(), testEvent("A"))

	waitFor(t, func() bool { return len(d.Sinks()) == 1 })
	select {
	case <-bad.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("pruned sink was not closed")
	}

	_ = d.Emit(context.Background(), testEvent("A"))
	waitFor(t, func() bool { return good.count() == 2 })
}

func TestDispatcher_SlowSinkIsPrunedWhenQueueFills(t *testing.T) {
	d := NewDispatcher(nil, WithBuffer(1))

	slow := newMockSink("slow")
	slow.block = make(chan struct{})
	fast := newMockSink("fast")
	_ = d.AddSink(slow)
	_ = d.AddSink(fast)

	// first event is taken by the worker and blocks, the second fills the
	// queue, the third overflows it
	for i := 0; i < 5; i++ {
		_ = d.Emit(context.Background(), testEvent("A"))
		time.Sleep(10 * time.Millisecond)
	}

	waitFor(t, func() bool {
		names := d.Sinks()
		return len(names) == 1 && names[0] == "fast"
	})
	waitFor(t, func() bool { return fast.count() == 5 })

	close(slow.block)
	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestDispatcher_DurableSinkSurvivesSendError(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	broker := &flakySink{MockSink: newMockSink("kafka"), failN: 1}
	_ = d.AddSink(broker)

	for i := 0; i < 4; i++ {
		_ = d.Emit(context.Background(), testEvent("A"))
	}

	waitFor(t, func() bool { return broker.count() == 3 })
	if names := d.Sinks(); len(names) != 1 || names[0] != "kafka" {
		t.Errorf("durable sink must stay registered, got %v", names)
	}
	select {
	case <-broker.closed:
		t.Error("durable sink was closed")
	default:
	}
}

func TestDispatcher_DurableSinkDropsWhenQueueFills(t *testing.T) {
	d := NewDispatcher(nil, WithBuffer(1))

	broker := &flakySink{MockSink: newMockSink("amqp")}
	broker.block = make(chan struct{})
	_ = d.AddSink(broker)

	for i := 0; i < 5; i++ {
		_ = d.Emit(context.Background(), testEvent("A"))
		time.Sleep(10 * time.Millisecond)
	}
	if names := d.Sinks(); len(names) != 1 {
		t.Fatalf("durable sink must not be pruned on overflow, got %v", names)
	}

	close(broker.block)
	waitFor(t, func() bool { return broker.count() == 2 })

	_ = d.Emit(context.Background(), testEvent("B"))
	waitFor(t, func() bool { return broker.count() == 3 })

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestDispatcher_AddSinkReplacesSameName(t *testing.T) {
	d := NewDispatcher(nil)
	defer d.Close()

	first, second := newMockSink("ws"), newMockSink("ws")
	_ = d.AddSink(first)
	_ = d.AddSink(second)

	if n := len(d.Sinks()); n != 1 {
		t.Fatalf("expected 1 sink, got %d", n)
	}
	select {
	case <-first.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("replaced sink was not closed")
	}

	_ = d.Emit(context.Background(), testEvent("A"))
	waitFor(t, func() bool { return second.count() == 1 })
	if first.count() != 0 {
		t.Errorf("replaced sink received %d events", first.count())
	}
}

func TestDispatcher_CloseDrainsAndRejects(t *testing.T) {
	d := NewDispatcher(nil)
	sink := newMockSink("one")
	_ = d.AddSink(sink)

	_ = d.Emit(context.Background(), testEvent("A"))
	_ = d.Emit(context.Background(), testEvent("B"))

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if sink.count() != 2 {
		t.Errorf("expected queued events delivered before close, got %d", sink.count())
	}
	if err := d.AddSink(newMockSink("late")); !errors.Is(err, ErrDispatcherClosed) {
		t.Errorf("expected ErrDispatcherClosed, got %v", err)
	}
	if err := d.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestSinkKind(t *testing.T) {
	if got := sinkKind("ws:1234"); got != "ws" {
		t.Errorf("expected ws, got %s", got)
	}
	if got := sinkKind("amqp"); got != "amqp" {
		t.Errorf("expected amqp, got %s", got)
	}
}
