// Package recovery supervises scheduled ticks and decides when the engine gives up.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/indexing/metrics"
)

const maxHistory = 10

// WaitFunc blocks for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

// HaltFunc is called once each time the supervisor enters HALTED.
type HaltFunc func(err error)

// Supervisor runs ticks and moves between RUNNING, BACKOFF(n) and HALTED.
// After a failed tick it waits the strategy delay and retries; once the
// consecutive failure count reaches the strategy limit it halts and stays
// halted until Reset.
type Supervisor struct {
	mu       sync.Mutex
	execMu   sync.Mutex
	state    State
	attempt  int
	lastErr  error
	history  []Transition
	strategy RetryStrategy
	wait     WaitFunc
	onHalt   HaltFunc
	network  string
	log      *slog.Logger
}

// NewSupervisor creates a supervisor in the RUNNING state.
func NewSupervisor(network string, strategy RetryStrategy, onHalt HaltFunc) *Supervisor {
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	s := &Supervisor{
		state:    domain.EngineStateRunning,
		strategy: strategy,
		wait:     Sleep,
		onHalt:   onHalt,
		network:  network,
		log:      slog.Default().With("component", "supervisor", "network", network),
	}
	metrics.EngineState.WithLabelValues(network).Set(StateValue(s.state))
	return s
}

// SetWait replaces the wait function, e.g. with a fake clock in tests.
func (s *Supervisor) SetWait(wait WaitFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wait = wait
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs tick, retrying it on failure according to the strategy.
// It returns nil once a tick succeeds, domain.ErrMaxReconnectExceeded when
// the supervisor is or becomes halted, or ctx.Err() when ctx is done.
func (s *Supervisor) Execute(ctx context.Context, tick func(ctx context.Context) error) error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	if s.State() == domain.EngineStateHalted {
		return domain.ErrMaxReconnectExceeded
	}

	for {
		err := tick(ctx)
		if err == nil {
			s.succeed()
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt, haltErr := s.fail(err)
		if haltErr != nil {
			return haltErr
		}

		delay := s.strategy.GetDelay(attempt)
		s.log.Warn("Tick failed, backing off",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)

		if err := s.waitFn()(ctx, delay); err != nil {
			return err
		}
		metrics.ReconnectAttempts.WithLabelValues(s.network).Inc()
	}
}

func (s *Supervisor) succeed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.EngineStateRunning {
		return
	}
	s.log.Info("Tick recovered", "after_attempts", s.attempt)
	s.attempt = 0
	s.lastErr = nil
	s.transitionLocked(domain.EngineStateRunning, "tick succeeded")
}

// fail records a failed tick. It returns the failure count and, when the
// supervisor halted, the error reported to the halt callback.
func (s *Supervisor) fail(err error) (int, error) {
	s.mu.Lock()
	s.attempt++
	s.lastErr = err
	attempt := s.attempt

	if s.strategy.ShouldRetry(attempt) {
		s.transitionLocked(domain.EngineStateBackoff, err.Error())
		s.mu.Unlock()
		return attempt, nil
	}

	if s.state == domain.EngineStateRunning {
		s.transitionLocked(domain.EngineStateBackoff, err.Error())
	}
	s.transitionLocked(domain.EngineStateHalted, err.Error())
	onHalt := s.onHalt
	s.mu.Unlock()

	haltErr := fmt.Errorf("%w after %d attempts: %w", domain.ErrMaxReconnectExceeded, attempt, err)
	s.log.Error("Reconnect attempts exhausted, halting", "attempts", attempt, "error", err)
	if onHalt != nil {
		onHalt(haltErr)
	}
	return attempt, haltErr
}

// transitionLocked must be called with s.mu held.
func (s *Supervisor) transitionLocked(to State, reason string) {
	if !CanTransition(s.state, to) {
		s.log.Error("Rejected state transition", "from", s.state, "to", to, "error", ErrInvalidTransition)
		return
	}
	s.history = append(s.history, Transition{
		From:      s.state,
		To:        to,
		Attempt:   s.attempt,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	s.state = to
	metrics.EngineState.WithLabelValues(s.network).Set(StateValue(to))
}

// Reset leaves HALTED (or BACKOFF) and clears the failure count.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempt = 0
	s.lastErr = nil
	if s.state != domain.EngineStateRunning {
		s.transitionLocked(domain.EngineStateRunning, "reset")
	}
}

// State returns the current supervisor state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempt returns the number of consecutive failed ticks.
func (s *Supervisor) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// LastError returns the error of the most recent failed tick, if any.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// History returns the most recent state transitions, oldest first.
func (s *Supervisor) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transition, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Supervisor) waitFn() WaitFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wait
}
