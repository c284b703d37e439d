package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/activitywatch/internal/infra/rpc/provider"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		expect ErrorAction
	}{
		{errors.New("429 Too Many Requests"), ActionFailover},
		{errors.New("project rate limit exceeded"), ActionFailover},
		{errors.New("quota exceeded"), ActionFailover},
		{errors.New("403 Forbidden"), ActionFailover},
		{errors.New("rpc error -32005: Node is behind by 42 slots"), ActionFailover},
		{errors.New("Invalid JSON-RPC request -32600"), ActionFatal},
		{errors.New("Method not found -32601"), ActionFatal},
		{errors.New("rpc error -32602: Invalid param: WrongSize"), ActionFatal},
		{fmt.Errorf("rpc call: %w", context.DeadlineExceeded), ActionFatal},
		{errors.New("connection reset by peer"), ActionRetry},
		{errors.New("500 Internal Server Error"), ActionRetry},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expect {
			t.Errorf("ClassifyError(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

type mockProvider struct {
	name      string
	failures  int
	err       error
	callCount int
}

func (m *mockProvider) GetName() string                  { return m.name }
func (m *mockProvider) GetHealth() provider.HealthStatus { return provider.HealthStatus{} }
func (m *mockProvider) IsAvailable() bool                { return true }
func (m *mockProvider) Close() error                     { return nil }
func (m *mockProvider) Execute(ctx context.Context, op provider.Operation) (json.RawMessage, error) {
	m.callCount++
	if m.failures < 0 || m.callCount <= m.failures {
		return nil, m.err
	}
	return json.RawMessage(`"ok"`), nil
}

var fastRetry = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    time.Millisecond,
	MaxDelay:        time.Millisecond,
	BackoffMultiple: 2,
}

func TestCallWithRetry_RecoversFromTransient(t *testing.T) {
	p := &mockProvider{name: "a", failures: 2, err: errors.New("connection reset by peer")}

	res, err := CallWithRetry(context.Background(), p, provider.Operation{Name: "getSlot"}, fastRetry)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res) != `"ok"` {
		t.Errorf("unexpected result %s", res)
	}
	if p.callCount != 3 {
		t.Errorf("expected 3 calls, got %d", p.callCount)
	}
}

func TestCallWithRetry_FatalStopsImmediately(t *testing.T) {
	p := &mockProvider{name: "a", failures: -1, err: errors.New("rpc error -32602: bad")}

	if _, err := CallWithRetry(context.Background(), p, provider.Operation{Name: "getSlot"}, fastRetry); err == nil {
		t.Fatal("expected error")
	}
	if p.callCount != 1 {
		t.Errorf("expected 1 call, got %d", p.callCount)
	}
}

func TestCallWithRetryAndFailover(t *testing.T) {
	primary := &mockProvider{name: "primary", failures: -1, err: errors.New("connection refused")}
	secondary := &mockProvider{name: "secondary"}

	router := NewRouter()
	router.AddProvider("devnet", primary)
	router.AddProvider("devnet", secondary)

	res, used, err := CallWithRetryAndFailover(context.Background(), router, "devnet", provider.Operation{Name: "getSlot"}, fastRetry)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if used != "secondary" || string(res) != `"ok"` {
		t.Errorf("unexpected result %s from %s", res, used)
	}
	if primary.callCount != fastRetry.MaxAttempts {
		t.Errorf("primary expected %d attempts, got %d", fastRetry.MaxAttempts, primary.callCount)
	}
	if secondary.callCount != 1 {
		t.Errorf("secondary expected 1 call, got %d", secondary.callCount)
	}
}

func TestRouter_CircuitBreakerDemotesProvider(t *testing.T) {
	a := &mockProvider{name: "a"}
	b := &mockProvider{name: "b"}

	router := NewRouter()
	router.AddProvider("devnet", a)
	router.AddProvider("devnet", b)

	for i := 0; i < 5; i++ {
		router.RecordFailure("a", errors.New("boom"))
	}
	if !router.IsCircuitOpen("a") {
		t.Fatal("expected circuit to open after 5 failures")
	}

	for i := 0; i < 4; i++ {
		ps := router.GetProviders("devnet")
		if ps[0].GetName() != "b" {
			t.Fatalf("expected tripped provider to be tried last, got %s first", ps[0].GetName())
		}
		if len(ps) != 2 {
			t.Fatalf("expected tripped provider to remain as last resort")
		}
	}

	router.RecordSuccess("a", time.Millisecond)
	if router.IsCircuitOpen("a") {
		t.Error("expected success to close the circuit")
	}
}
