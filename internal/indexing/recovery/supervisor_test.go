package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
)

type waitRecorder struct {
	calls []time.Duration
}

func (w *waitRecorder) wait(ctx context.Context, d time.Duration) error {
	w.calls = append(w.calls, d)
	return ctx.Err()
}

func newTestSupervisor(max int, onHalt HaltFunc) (*Supervisor, *waitRecorder) {
	s := NewSupervisor("test", &FixedInterval{Interval: 5 * time.Second, MaxAttempts: max}, onHalt)
	w := &waitRecorder{}
	s.SetWait(w.wait)
	return s, w
}

func TestSupervisor_SuccessStaysRunning(t *testing.T) {
	s, w := newTestSupervisor(3, nil)

	calls := 0
	err := s.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if calls != 1 || len(w.calls) != 0 {
		t.Errorf("expected 1 tick and no waits, got %d ticks %d waits", calls, len(w.calls))
	}
	if s.State() != domain.EngineStateRunning {
		t.Errorf("expected running, got %s", s.State())
	}
}

func TestSupervisor_RecoversAndResetsAttempts(t *testing.T) {
	s, w := newTestSupervisor(3, nil)

	calls := 0
	err := s.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls <= 2 {
			return domain.ErrRPCTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 ticks, got %d", calls)
	}
	if len(w.calls) != 2 {
		t.Errorf("expected 2 waits, got %d", len(w.calls))
	}
	for _, d := range w.calls {
		if d != 5*time.Second {
			t.Errorf("expected fixed 5s interval, got %v", d)
		}
	}
	if s.State() != domain.EngineStateRunning || s.Attempt() != 0 {
		t.Errorf("expected running with attempt 0, got %s/%d", s.State(), s.Attempt())
	}

	hist := s.History()
	if len(hist) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(hist))
	}
	if hist[0].To != domain.EngineStateBackoff || hist[1].To != domain.EngineStateBackoff || hist[2].To != domain.EngineStateRunning {
		t.Errorf("unexpected transitions: %+v", hist)
	}
}

func TestSupervisor_HaltsAfterMaxAttempts(t *testing.T) {
	var haltErr error
	halts := 0
	s, w := newTestSupervisor(3, func(err error) {
		halts++
		haltErr = err
	})

	calls := 0
	tickErr := errors.New("node unreachable")
	err := s.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return tickErr
	})

	if !errors.Is(err, domain.ErrMaxReconnectExceeded) {
		t.Fatalf("expected ErrMaxReconnectExceeded, got %v", err)
	}
	if !errors.Is(err, tickErr) {
		t.Errorf("expected last tick error to be wrapped, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected exactly 3 ticks, got %d", calls)
	}
	if len(w.calls) != 2 {
		t.Errorf("expected 2 waits between 3 ticks, got %d", len(w.calls))
	}
	if halts != 1 || !errors.Is(haltErr, domain.ErrMaxReconnectExceeded) {
		t.Errorf("expected one halt callback with ErrMaxReconnectExceeded, got %d %v", halts, haltErr)
	}
	if s.State() != domain.EngineStateHalted {
		t.Errorf("expected halted, got %s", s.State())
	}

	// halted supervisor runs no further ticks
	err = s.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, domain.ErrMaxReconnectExceeded) || calls != 3 {
		t.Errorf("expected halted supervisor to refuse ticks, got err=%v calls=%d", err, calls)
	}
	if halts != 1 {
		t.Errorf("halt callback fired again: %d", halts)
	}
}

func TestSupervisor_ResetLeavesHalted(t *testing.T) {
	s, _ := newTestSupervisor(1, nil)

	_ = s.Execute(context.Background(), func(ctx context.Context) error { return domain.ErrRPCTransient })
	if s.State() != domain.EngineStateHalted {
		t.Fatalf("expected halted, got %s", s.State())
	}

	s.Reset()
	if s.State() != domain.EngineStateRunning || s.Attempt() != 0 {
		t.Fatalf("expected running after reset, got %s/%d", s.State(), s.Attempt())
	}

	if err := s.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("expected tick after reset, got %v", err)
	}
}

func TestSupervisor_CancelDuringBackoff(t *testing.T) {
	s := NewSupervisor("test", &FixedInterval{Interval: time.Hour, MaxAttempts: 5}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Execute(ctx, func(ctx context.Context) error { return domain.ErrRPCTransient })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancel")
	}
	if s.State() == domain.EngineStateHalted {
		t.Error("cancel must not halt the supervisor")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{domain.EngineStateRunning, domain.EngineStateBackoff, true},
		{domain.EngineStateRunning, domain.EngineStateHalted, false},
		{domain.EngineStateBackoff, domain.EngineStateBackoff, true},
		{domain.EngineStateBackoff, domain.EngineStateHalted, true},
		{domain.EngineStateHalted, domain.EngineStateBackoff, false},
		{domain.EngineStateHalted, domain.EngineStateRunning, true},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}
