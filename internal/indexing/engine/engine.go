// Package engine wires the registry, detector, scheduler, supervisor and
// dispatcher into the account activity engine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/indexing/balance"
	"github.com/vietddude/activitywatch/internal/indexing/detector"
	"github.com/vietddude/activitywatch/internal/indexing/emitter"
	"github.com/vietddude/activitywatch/internal/indexing/metrics"
	"github.com/vietddude/activitywatch/internal/indexing/recovery"
	"github.com/vietddude/activitywatch/internal/indexing/registry"
	"github.com/vietddude/activitywatch/internal/indexing/scheduler"
	"github.com/vietddude/activitywatch/internal/infra/chain"
)

// ErrEngineStopped is returned when subscribing to a stopped engine.
var ErrEngineStopped = errors.New("engine stopped")

const forgetTimeout = 2 * time.Second

// Config holds engine configuration.
type Config struct {
	Network              domain.Network
	PollInterval         time.Duration
	SignatureLimit       int
	CallTimeout          time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	Concurrency          int
	Decimals             int32
	Epsilon              decimal.Decimal
	SinkBuffer           int
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	tracker balance.Tracker
	onHalt  func(err error)
	wait    recovery.WaitFunc
}

// WithBalanceTracker replaces the in-memory balance tracker.
func WithBalanceTracker(t balance.Tracker) Option {
	return func(o *options) { o.tracker = t }
}

// WithOnHalt registers a callback fired when the engine halts.
func WithOnHalt(fn func(err error)) Option {
	return func(o *options) { o.onHalt = fn }
}

// WithWait replaces the supervisor's backoff wait.
func WithWait(wait recovery.WaitFunc) Option {
	return func(o *options) { o.wait = wait }
}

// Engine polls watched accounts and fans activity out to handlers and sinks.
type Engine struct {
	cfg        Config
	validator  chain.AddressValidator
	registry   *registry.Registry
	tracker    balance.Tracker
	dispatcher *emitter.Dispatcher
	detector   *detector.Detector
	supervisor *recovery.Supervisor
	scheduler  *scheduler.Scheduler
	onHalt     func(err error)

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool

	log *slog.Logger
}

// New creates an idle engine for one network.
func New(cfg Config, adapter chain.Adapter, opts ...Option) *Engine {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.tracker == nil {
		o.tracker = balance.NewMemoryTracker()
	}

	e := &Engine{
		cfg:       cfg,
		validator: adapter,
		registry:  registry.New(cfg.Network),
		tracker:   o.tracker,
		onHalt:    o.onHalt,
		log:       slog.Default().With("component", "engine", "network", cfg.Network),
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())

	e.dispatcher = emitter.NewDispatcher(e.registry, emitter.WithBuffer(cfg.SinkBuffer))
	e.detector = detector.New(detector.Config{
		Network:        cfg.Network,
		SignatureLimit: cfg.SignatureLimit,
		Decimals:       cfg.Decimals,
		Epsilon:        cfg.Epsilon,
		CallTimeout:    cfg.CallTimeout,
	}, adapter, e.registry, e.tracker, e.dispatcher)
	e.supervisor = recovery.NewSupervisor(string(cfg.Network), &recovery.FixedInterval{
		Interval:    cfg.ReconnectInterval,
		MaxAttempts: cfg.MaxReconnectAttempts,
	}, e.halt)
	if o.wait != nil {
		e.supervisor.SetWait(o.wait)
	}
	e.scheduler = scheduler.New(scheduler.Config{
		Network:     cfg.Network,
		Interval:    cfg.PollInterval,
		Concurrency: cfg.Concurrency,
	}, e.registry, e.detector, e.supervisor)

	e.registry.SetListener(e)
	metrics.WatchedAccounts.WithLabelValues(string(cfg.Network)).Set(0)
	return e
}

// Subscribe starts watching address. Events for it are delivered to handler,
// which may be nil when only broadcast sinks are of interest.
func (e *Engine) Subscribe(address string, handler domain.Handler) (*registry.Subscription, error) {
	if err := e.validator.ValidateAddress(address); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, ErrEngineStopped
	}
	return e.registry.Add(address, handler), nil
}

// Unsubscribe stops watching address. Unknown addresses are ignored.
func (e *Engine) Unsubscribe(address string) bool {
	return e.registry.Remove(address)
}

// Tick runs one supervised poll immediately, outside the schedule.
func (e *Engine) Tick(ctx context.Context) error {
	return e.supervisor.Execute(ctx, e.scheduler.Tick)
}

// Restart leaves the halted state and resumes polling if accounts are watched.
func (e *Engine) Restart() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return ErrEngineStopped
	}

	e.supervisor.Reset()
	if !e.registry.IsEmpty() {
		e.scheduler.Start(e.ctx)
	}
	e.log.Info("Engine restarted", "accounts", e.registry.Len())
	return nil
}

// Stop releases every subscription, stops polling and closes all sinks.
// Stop is idempotent; a stopped engine cannot be reused.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	removed := e.registry.Clear()
	e.scheduler.Stop()
	e.cancel()
	e.scheduler.Wait()

	if err := e.dispatcher.Close(); err != nil {
		return fmt.Errorf("close dispatcher: %w", err)
	}
	e.log.Info("Engine stopped", "released", len(removed))
	return nil
}

// State returns the current engine state.
func (e *Engine) State() domain.EngineState {
	switch s := e.supervisor.State(); s {
	case domain.EngineStateHalted, domain.EngineStateBackoff:
		return s
	}
	if !e.scheduler.Running() {
		return domain.EngineStateIdle
	}
	return domain.EngineStateRunning
}

// LastError returns the most recent tick failure, if any.
func (e *Engine) LastError() error {
	return e.supervisor.LastError()
}

// Accounts returns a snapshot of the watched accounts.
func (e *Engine) Accounts() []domain.WatchedAccount {
	return e.registry.Accounts()
}

// Detect runs a single unsupervised detection for address.
func (e *Engine) Detect(ctx context.Context, address string) (*domain.ActivityEvent, error) {
	return e.detector.Detect(ctx, address)
}

// AddSink registers a broadcast sink.
func (e *Engine) AddSink(s emitter.Sink) error {
	return e.dispatcher.AddSink(s)
}

// RemoveSink unregisters a broadcast sink by name.
func (e *Engine) RemoveSink(name string) bool {
	return e.dispatcher.RemoveSink(name)
}

// Sinks returns the names of the registered broadcast sinks.
func (e *Engine) Sinks() []string {
	return e.dispatcher.Sinks()
}

// OnActive starts polling unless the engine is halted.
func (e *Engine) OnActive() {
	if e.supervisor.State() == domain.EngineStateHalted {
		e.log.Warn("Account added while halted, restart required")
		return
	}
	e.scheduler.Start(e.ctx)
}

// OnIdle stops polling once the last account is gone.
func (e *Engine) OnIdle() {
	e.scheduler.Stop()
}

// OnAdded counts a newly watched account.
func (e *Engine) OnAdded(address string) {
	metrics.WatchedAccounts.WithLabelValues(string(e.cfg.Network)).Inc()
	e.log.Info("Watching account", "address", address)
}

// OnRemoved forgets the balance of an account that is no longer watched.
// Balances survive Stop so a restarted engine resumes from them.
func (e *Engine) OnRemoved(address string) {
	metrics.WatchedAccounts.WithLabelValues(string(e.cfg.Network)).Dec()
	e.log.Info("Stopped watching account", "address", address)

	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped || e.registry.Contains(address) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), forgetTimeout)
	defer cancel()
	if err := e.tracker.Forget(ctx, address); err != nil {
		e.log.Warn("Failed to forget balance", "address", address, "error", err)
	}
}

func (e *Engine) halt(err error) {
	e.scheduler.Stop()

	e.dispatcher.Broadcast(&domain.ActivityEvent{
		Type:      domain.EventTypeEngineHalted,
		Timestamp: time.Now().UnixMilli(),
		Data: domain.ActivityData{
			Status: domain.TxStatusFailed,
			Source: domain.BalanceSourceUnknown,
			Error:  err.Error(),
		},
	})

	e.log.Error("Engine halted", "error", err)
	if e.onHalt != nil {
		e.onHalt(err)
	}
}
