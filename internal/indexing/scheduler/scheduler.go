// Package scheduler drives the fixed-interval poll over all watched accounts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/indexing/metrics"
	"golang.org/x/sync/errgroup"
)

// Detector polls a single account.
type Detector interface {
	Detect(ctx context.Context, address string) (*domain.ActivityEvent, error)
}

// Addresses lists the accounts to poll on a tick.
type Addresses interface {
	Addresses() []string
}

// Runner executes a tick, possibly retrying it. It returns
// domain.ErrMaxReconnectExceeded when no further ticks may run.
type Runner interface {
	Execute(ctx context.Context, tick func(ctx context.Context) error) error
}

// Config holds scheduler configuration.
type Config struct {
	Network     domain.Network
	Interval    time.Duration
	Concurrency int
}

// Scheduler owns a single ticker and runs one tick per period while started.
type Scheduler struct {
	cfg      Config
	accounts Addresses
	detector Detector
	runner   Runner

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}

	tickMu sync.Mutex
	log    *slog.Logger
}

// New creates a stopped scheduler.
func New(cfg Config, accounts Addresses, detector Detector, runner Runner) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scheduler{
		cfg:      cfg,
		accounts: accounts,
		detector: detector,
		runner:   runner,
		log:      slog.Default().With("component", "scheduler", "network", cfg.Network),
	}
}

// Start launches the ticker. It returns false if the scheduler is already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return false
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop = stop
	s.done = done

	go s.loop(ctx, stop, done)
	s.log.Info("Scheduler started", "interval", s.cfg.Interval)
	return true
}

// Stop cancels the ticker. It does not wait for an in-flight tick; use Wait for that.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return false
	}
	close(s.stop)
	s.stop = nil
	s.log.Info("Scheduler stopped")
	return true
}

// Wait blocks until the most recently started loop has exited.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether the ticker is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop != nil
}

func (s *Scheduler) loop(parent context.Context, stop, done chan struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.release(stop)
			return
		case <-ticker.C:
			err := s.runner.Execute(ctx, s.Tick)
			if errors.Is(err, domain.ErrMaxReconnectExceeded) {
				s.release(stop)
				return
			}
		}
	}
}

// release clears the running state if stop still belongs to it.
func (s *Scheduler) release(stop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == stop {
		close(s.stop)
		s.stop = nil
	}
}

// Tick polls every registered account once. Per-account errors are absorbed
// unless they indicate the node is unusable: a call timeout, or every account
// failing with a transient error.
func (s *Scheduler) Tick(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	network := string(s.cfg.Network)
	start := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues(network).Observe(time.Since(start).Seconds())
	}()

	addresses := s.accounts.Addresses()
	if len(addresses) == 0 {
		metrics.TicksTotal.WithLabelValues(network, "ok").Inc()
		return nil
	}

	errs := make([]error, len(addresses))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, addr := range addresses {
		g.Go(func() error {
			_, errs[i] = s.detector.Detect(ctx, addr)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.classify(addresses, errs); err != nil {
		metrics.TicksTotal.WithLabelValues(network, "failed").Inc()
		return err
	}
	metrics.TicksTotal.WithLabelValues(network, "ok").Inc()
	return nil
}

func (s *Scheduler) classify(addresses []string, errs []error) error {
	failed, transient := 0, 0
	var timeout, last error
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		last = err
		metrics.DetectErrors.WithLabelValues(string(s.cfg.Network)).Inc()
		s.log.Warn("Detection failed", "address", addresses[i], "error", err)

		if errors.Is(err, context.DeadlineExceeded) && timeout == nil {
			timeout = err
		}
		if errors.Is(err, domain.ErrRPCTransient) {
			transient++
		}
	}

	if timeout != nil {
		return fmt.Errorf("node call timed out: %w", timeout)
	}
	if transient == len(addresses) {
		return fmt.Errorf("all %d accounts failed: %w", failed, last)
	}
	return nil
}
