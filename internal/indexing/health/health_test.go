package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/infra/rpc/provider"
)

// =============================================================================
// Mocks
// =============================================================================

type stubEngine struct {
	state    domain.EngineState
	accounts []domain.WatchedAccount
	lastErr  error
}

func (s *stubEngine) State() domain.EngineState         { return s.state }
func (s *stubEngine) Accounts() []domain.WatchedAccount { return s.accounts }
func (s *stubEngine) Sinks() []string                   { return []string{"log"} }
func (s *stubEngine) LastError() error                  { return s.lastErr }

type stubSlots struct {
	slot  uint64
	err   error
	calls int
}

func (s *stubSlots) GetSlot(ctx context.Context) (uint64, error) {
	s.calls++
	return s.slot, s.err
}

type stubProviders map[string]provider.HealthStatus

func (s stubProviders) ProviderHealth() map[string]provider.HealthStatus { return s }

type stubAccounts struct {
	watched map[string]string
	events  []*domain.ActivityEvent
}

func (s *stubAccounts) ListAccounts(ctx context.Context) ([]domain.WatchedAccount, error) {
	var out []domain.WatchedAccount
	for addr, label := range s.watched {
		out = append(out, domain.WatchedAccount{Address: addr, Label: label})
	}
	return out, nil
}

func (s *stubAccounts) Watch(ctx context.Context, address, label string) error {
	if strings.HasPrefix(address, "bad") {
		return fmt.Errorf("%w: %s", domain.ErrInvalidAddress, address)
	}
	s.watched[address] = label
	return nil
}

func (s *stubAccounts) Unwatch(ctx context.Context, address string) error {
	delete(s.watched, address)
	return nil
}

func (s *stubAccounts) Events(ctx context.Context, address string, limit int) ([]*domain.ActivityEvent, error) {
	if address == "boom" {
		return nil, errors.New("db down")
	}
	if limit < len(s.events) {
		return s.events[:limit], nil
	}
	return s.events, nil
}

// =============================================================================
// Tests
// =============================================================================

func healthyProviders() stubProviders {
	return stubProviders{"primary": {Available: true}}
}

func TestMonitor_Statuses(t *testing.T) {
	tests := []struct {
		name      string
		state     domain.EngineState
		slotErr   error
		providers stubProviders
		want      SystemStatus
	}{
		{"running", domain.EngineStateRunning, nil, healthyProviders(), StatusHealthy},
		{"idle", domain.EngineStateIdle, nil, healthyProviders(), StatusHealthy},
		{"backoff", domain.EngineStateBackoff, nil, healthyProviders(), StatusDegraded},
		{"halted", domain.EngineStateHalted, nil, healthyProviders(), StatusCritical},
		{"slot error", domain.EngineStateRunning, errors.New("timeout"), healthyProviders(), StatusDegraded},
		{"one provider down", domain.EngineStateRunning, nil, stubProviders{"a": {Available: true}, "b": {}}, StatusDegraded},
		{"all providers down", domain.EngineStateRunning, nil, stubProviders{"a": {}}, StatusCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(domain.NetworkDevnet, &stubEngine{state: tt.state}, &stubSlots{slot: 10, err: tt.slotErr}, tt.providers)
			report := m.CheckHealth(context.Background())
			if report.SystemStatus != tt.want {
				t.Errorf("expected %s, got %s", tt.want, report.SystemStatus)
			}
		})
	}
}

func TestMonitor_CachesSlot(t *testing.T) {
	slots := &stubSlots{slot: 42}
	engine := &stubEngine{state: domain.EngineStateRunning}
	m := NewMonitor(domain.NetworkDevnet, engine, slots, healthyProviders())

	m.CheckHealth(context.Background())
	engine.state = domain.EngineStateHalted
	report := m.CheckHealth(context.Background())

	if slots.calls != 1 {
		t.Errorf("expected slot fetched once, got %d", slots.calls)
	}
	if report.Slot != 42 {
		t.Errorf("expected cached slot 42, got %d", report.Slot)
	}
	if report.SystemStatus != StatusCritical {
		t.Errorf("engine state must not be cached, got %s", report.SystemStatus)
	}
}

func newTestServer(state domain.EngineState) (*Server, *stubAccounts) {
	accounts := &stubAccounts{
		watched: map[string]string{},
		events:  []*domain.ActivityEvent{{TxHash: "s2"}, {TxHash: "s1"}},
	}
	m := NewMonitor(domain.NetworkDevnet, &stubEngine{state: state, lastErr: errors.New("last")}, &stubSlots{slot: 1}, healthyProviders())
	return NewServer(m, accounts, nil, 0), accounts
}

func TestServer_Health(t *testing.T) {
	s, _ := newTestServer(domain.EngineStateHalted)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when halted, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health/detailed", nil))
	var report HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid detailed report: %v", err)
	}
	if report.EngineState != domain.EngineStateHalted || report.LastError != "last" {
		t.Errorf("unexpected report: %+v", report)
	}
	if !strings.HasPrefix(report.StateDetail, "Halted") {
		t.Errorf("expected halted state detail, got %q", report.StateDetail)
	}
}

func TestServer_Accounts(t *testing.T) {
	s, accounts := newTestServer(domain.EngineStateRunning)
	h := s.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("PUT", "/accounts/Addr1", strings.NewReader(`{"label":"hot"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if accounts.watched["Addr1"] != "hot" {
		t.Errorf("expected Addr1 watched with label, got %v", accounts.watched)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("PUT", "/accounts/badAddr", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid address, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/accounts", nil))
	var listed []domain.WatchedAccount
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil || len(listed) != 1 {
		t.Errorf("expected 1 listed account, got %v (%v)", listed, err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/accounts/Addr1/events?limit=1", nil))
	var events []domain.ActivityEvent
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil || len(events) != 1 || events[0].TxHash != "s2" {
		t.Errorf("expected newest event only, got %v (%v)", events, err)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/accounts/Addr1/events?limit=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/accounts/boom/events", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 on store failure, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("DELETE", "/accounts/Addr1", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if _, ok := accounts.watched["Addr1"]; ok {
		t.Error("expected Addr1 unwatched")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/accounts/Addr1", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", rec.Code)
	}
}
