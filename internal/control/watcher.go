package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vietddude/activitywatch/internal/core/config"
	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/core/worker"
	"github.com/vietddude/activitywatch/internal/indexing/balance"
	"github.com/vietddude/activitywatch/internal/indexing/detector"
	"github.com/vietddude/activitywatch/internal/indexing/emitter"
	"github.com/vietddude/activitywatch/internal/indexing/engine"
	"github.com/vietddude/activitywatch/internal/indexing/health"
	"github.com/vietddude/activitywatch/internal/indexing/metrics"
	"github.com/vietddude/activitywatch/internal/indexing/registry"
	amqpbroker "github.com/vietddude/activitywatch/internal/infra/broker/amqp"
	kafkabroker "github.com/vietddude/activitywatch/internal/infra/broker/kafka"
	"github.com/vietddude/activitywatch/internal/infra/chain/solana"
	redisclient "github.com/vietddude/activitywatch/internal/infra/redis"
	"github.com/vietddude/activitywatch/internal/infra/rpc"
	"github.com/vietddude/activitywatch/internal/infra/storage"
	"github.com/vietddude/activitywatch/internal/infra/storage/memory"
	"github.com/vietddude/activitywatch/internal/infra/storage/postgres"
	"github.com/vietddude/activitywatch/internal/infra/ws"
)

const metricsInterval = 10 * time.Second

// Watcher is the main application struct that manages the engine lifecycle.
type Watcher struct {
	cfg          *config.AppConfig
	network      domain.Network
	client       *rpc.Client
	adapter      *solana.Adapter
	engine       *engine.Engine
	accounts     storage.AccountRepository
	events       storage.EventRepository
	pruner       *worker.Pruner
	healthMon    *health.Monitor
	healthServer *health.Server
	db           *postgres.DB
	redisClient  *redisclient.Client
	detectOnly   bool
	log          *slog.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// Option configures a Watcher.
type Option func(*Watcher)

// DetectOnly builds a watcher for one-off checks: in-memory storage and
// balances, and no broadcast sinks.
func DetectOnly() Option {
	return func(w *Watcher) { w.detectOnly = true }
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
func NewWatcher(cfg *config.AppConfig, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		cfg:     cfg,
		network: cfg.Network,
		log:     slog.Default().With("component", "watcher", "network", cfg.Network),
	}
	for _, opt := range opts {
		opt(w)
	}

	// 1. Storage
	if err := w.initStorage(); err != nil {
		return nil, err
	}

	// 2. RPC transport and ledger adapter
	router := rpc.NewRouter()
	for _, p := range cfg.Providers {
		router.AddProvider(string(cfg.Network), rpc.NewHTTPProvider(p.Name, p.URL, p.Timeout))
	}
	w.client = rpc.NewClient(string(cfg.Network), router)
	w.adapter = solana.NewAdapter(cfg.Network, w.client, cfg.Watch.Commitment)

	// 3. Balance tracker
	var tracker balance.Tracker = balance.NewMemoryTracker()
	if cfg.Redis.Enabled() && !w.detectOnly {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			w.log.Warn("Failed to connect to Redis, using in-memory balances", "error", err)
		} else {
			w.redisClient = client
			tracker = redisclient.NewBalanceTracker(client, cfg.Network, cfg.Redis.BalanceTTL)
			w.log.Info("Using Redis balance tracker")
		}
	}

	// 4. Engine
	watch := cfg.Watch
	w.engine = engine.New(engine.Config{
		Network:              cfg.Network,
		PollInterval:         watch.PollInterval,
		SignatureLimit:       watch.SignatureLimit,
		CallTimeout:          watch.CallTimeout,
		ReconnectInterval:    watch.ReconnectInterval,
		MaxReconnectAttempts: watch.MaxReconnectAttempts,
		Concurrency:          watch.Concurrency,
		Decimals:             watch.Decimals,
		Epsilon:              decimal.NewFromFloat(watch.BalanceEpsilon),
		SinkBuffer:           watch.SinkBuffer,
	}, w.adapter,
		engine.WithBalanceTracker(tracker),
		engine.WithOnHalt(func(err error) {
			w.log.Error("Polling halted, restart required", "error", err)
		}),
	)

	// 5. Broadcast sinks
	if !w.detectOnly {
		if err := w.initSinks(); err != nil {
			w.closeResources()
			return nil, err
		}
	}

	// 6. Health monitor and HTTP API
	var wsHandler http.Handler
	if cfg.Server.WebSocket {
		wsHandler = ws.NewHub(w.engine)
	}
	w.healthMon = health.NewMonitor(cfg.Network, w.engine, w.adapter, w.client)
	w.healthServer = health.NewServer(w.healthMon, w, wsHandler, cfg.Server.Port)

	w.pruner = worker.NewPruner(cfg.Network, watch.EventRetention, w.events)

	return w, nil
}

func (w *Watcher) initStorage() error {
	if !w.cfg.Database.Enabled() || w.detectOnly {
		store := memory.NewMemoryStorage()
		w.accounts = memory.NewAccountRepo(store)
		w.events = memory.NewEventRepo(store)
		w.log.Info("Using Memory storage")
		return nil
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, w.cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to migrate db: %w", err)
	}

	w.db = db
	w.accounts = postgres.NewAccountRepo(db)
	w.events = postgres.NewEventRepo(db)
	w.log.Info("Using PostgreSQL storage")
	return nil
}

func (w *Watcher) initSinks() error {
	sinks := []emitter.Sink{
		emitter.NewLogSink(slog.Default()),
		emitter.NewStoreSink(w.events, w.network),
	}

	if w.cfg.AMQP.Enabled() {
		pub, err := amqpbroker.NewPublisher(w.cfg.AMQP, w.network)
		if err != nil {
			return fmt.Errorf("failed to init amqp publisher: %w", err)
		}
		sinks = append(sinks, pub)
	}
	if w.cfg.Kafka.Enabled() {
		sinks = append(sinks, kafkabroker.NewProducer(w.cfg.Kafka, w.network))
	}

	for _, s := range sinks {
		if err := w.engine.AddSink(s); err != nil {
			return err
		}
		w.log.Info("Sink registered", "sink", s.Name())
	}
	return nil
}

// Start subscribes the configured and persisted accounts and starts the
// background components. Polling begins with the first subscription.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	for _, addr := range w.cfg.Accounts {
		if _, err := w.engine.Subscribe(addr, nil); err != nil {
			return fmt.Errorf("watch %s: %w", addr, err)
		}
	}

	persisted, err := w.accounts.List(ctx, w.network)
	if err != nil {
		w.log.Warn("Failed to load persisted accounts", "error", err)
	}
	for _, acc := range persisted {
		if _, err := w.engine.Subscribe(acc.Address, nil); err != nil {
			w.log.Warn("Skipping persisted account", "address", acc.Address, "error", err)
		}
	}
	w.log.Info("Loaded watch list", "static", len(w.cfg.Accounts), "persisted", len(persisted))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("Health server failed", "error", err)
		}
	}()

	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.pruner.Start(ctx)
	}()
	go func() {
		defer w.wg.Done()
		w.runMetricsUpdater(ctx)
	}()

	return nil
}

// Stop stops the engine, the HTTP server and closes every connection.
func (w *Watcher) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() {
		w.log.Info("Stopping Watcher...")
		if w.cancel != nil {
			w.cancel()
		}

		var errs []error
		if err := w.engine.Stop(); err != nil {
			errs = append(errs, err)
		}
		if err := w.healthServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
		w.wg.Wait()
		if err := w.closeResources(); err != nil {
			errs = append(errs, err)
		}
		w.stopErr = errors.Join(errs...)
	})
	return w.stopErr
}

func (w *Watcher) closeResources() error {
	var errs []error
	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	if err := w.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close rpc client: %w", err))
	}
	return errors.Join(errs...)
}

// Engine exposes the running engine.
func (w *Watcher) Engine() *engine.Engine {
	return w.engine
}

// Check runs one detection pass for address and returns the event without
// delivering it. The engine, its sinks and the stores are left untouched.
func (w *Watcher) Check(ctx context.Context, address string) (*domain.ActivityEvent, error) {
	if err := w.adapter.ValidateAddress(address); err != nil {
		return nil, err
	}

	reg := registry.New(w.network)
	reg.Add(address, nil)

	watch := w.cfg.Watch
	det := detector.New(detector.Config{
		Network:        w.network,
		SignatureLimit: watch.SignatureLimit,
		Decimals:       watch.Decimals,
		Epsilon:        decimal.NewFromFloat(watch.BalanceEpsilon),
		CallTimeout:    watch.CallTimeout,
	}, w.adapter, reg, balance.NewMemoryTracker(), emitter.Discard)
	return det.Detect(ctx, address)
}

// ListAccounts returns the watched accounts with their persisted labels.
func (w *Watcher) ListAccounts(ctx context.Context) ([]domain.WatchedAccount, error) {
	stored, err := w.accounts.List(ctx, w.network)
	if err != nil {
		return nil, err
	}
	labels := make(map[string]string, len(stored))
	for _, acc := range stored {
		labels[acc.Address] = acc.Label
	}

	accounts := w.engine.Accounts()
	for i := range accounts {
		accounts[i].Label = labels[accounts[i].Address]
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts, nil
}

// Watch subscribes address and persists it so it is watched after a restart.
func (w *Watcher) Watch(ctx context.Context, address, label string) error {
	if _, err := w.engine.Subscribe(address, nil); err != nil {
		return err
	}
	return w.accounts.Save(ctx, &domain.WatchedAccount{
		Address:   address,
		Network:   w.network,
		Label:     label,
		CreatedAt: time.Now(),
	})
}

// Unwatch stops watching address and drops it from the persisted list.
func (w *Watcher) Unwatch(ctx context.Context, address string) error {
	if !w.engine.Unsubscribe(address) {
		if _, err := w.accounts.Get(ctx, w.network, address); err != nil {
			return err
		}
	}
	return w.accounts.Delete(ctx, w.network, address)
}

// Events returns the stored events of address, newest first.
func (w *Watcher) Events(ctx context.Context, address string, limit int) ([]*domain.ActivityEvent, error) {
	return w.events.ListByAddress(ctx, w.network, address, limit)
}

func (w *Watcher) runMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.updateProviderMetrics()
		}
	}
}

func (w *Watcher) updateProviderMetrics() {
	for name, status := range w.client.ProviderHealth() {
		v := 0.0
		if status.Available {
			v = 1
		}
		metrics.RPCProviderAvailable.WithLabelValues(string(w.network), name).Set(v)
	}
}
