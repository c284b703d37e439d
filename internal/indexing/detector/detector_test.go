package detector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/indexing/balance"
)

const addr = "So11111111111111111111111111111111111111112"

// MockLedger answers node queries from canned values.
type MockLedger struct {
	mu         sync.Mutex
	sigs       []domain.SignatureInfo
	sigErr     error
	detail     *domain.TransactionDetail
	detailErr  error
	balance    uint64
	balanceErr error

	sigCalls     int
	detailCalls  int
	balanceCalls int
}

func (m *MockLedger) GetBalance(ctx context.Context, address string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCalls++
	return m.balance, m.balanceErr
}

func (m *MockLedger) GetRecentSignatures(ctx context.Context, address string, limit int) ([]domain.SignatureInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sigCalls++
	return m.sigs, m.sigErr
}

func (m *MockLedger) GetTransactionDetail(ctx context.Context, sig string) (*domain.TransactionDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailCalls++
	if m.detailErr != nil {
		return nil, m.detailErr
	}
	if m.detail == nil {
		return nil, domain.ErrTransactionNotFound
	}
	return m.detail, nil
}

// MockState mimics the registry's dedup state.
type MockState struct {
	last    map[string]string
	removed bool
}

func newMockState() *MockState {
	return &MockState{last: make(map[string]string)}
}

func (m *MockState) LastSignature(address string) string { return m.last[address] }

func (m *MockState) MarkProcessed(address, sig string) bool {
	if m.removed {
		return false
	}
	m.last[address] = sig
	return true
}

// MockEmitter records emitted events.
type MockEmitter struct {
	events []*domain.ActivityEvent
}

func (m *MockEmitter) Emit(ctx context.Context, event *domain.ActivityEvent) error {
	m.events = append(m.events, event)
	return nil
}

func (m *MockEmitter) Close() error { return nil }

func int64Ptr(v int64) *int64 { return &v }

func newTestDetector(ledger *MockLedger, decimals int32) (*Detector, *MockState, *balance.MemoryTracker, *MockEmitter) {
	state := newMockState()
	tracker := balance.NewMemoryTracker()
	em := &MockEmitter{}
	d := New(Config{
		Network:        domain.NetworkDevnet,
		SignatureLimit: 5,
		Decimals:       decimals,
		CallTimeout:    time.Second,
	}, ledger, state, tracker, em)
	d.now = func() time.Time { return time.UnixMilli(1_700_000_000_123) }
	return d, state, tracker, em
}

func assertDecimal(t *testing.T, name string, got decimal.Decimal, want int64) {
	t.Helper()
	if !got.Equal(decimal.NewFromInt(want)) {
		t.Errorf("%s: expected %d, got %s", name, want, got)
	}
}

func TestDetect_PreciseScenario(t *testing.T) {
	ledger := &MockLedger{
		sigs: []domain.SignatureInfo{
			{Signature: "sigX", Slot: 100, BlockTime: int64Ptr(1_700_000_000)},
			{Signature: "sigW", Slot: 99},
		},
		detail: &domain.TransactionDetail{
			Signature:    "sigX",
			Slot:         100,
			Fee:          1,
			AccountKeys:  []string{"payer", addr},
			PreBalances:  []uint64{10, 5},
			PostBalances: []uint64{9, 3},
		},
	}
	d, state, tracker, em := newTestDetector(ledger, 0)

	event, err := d.Detect(context.Background(), addr)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if event == nil {
		t.Fatal("expected an event")
	}

	if event.Type != domain.EventTypeTransactions || event.TxHash != "sigX" || event.Address != addr {
		t.Errorf("unexpected event identity: %+v", event)
	}
	if event.BlockHeight != 100 {
		t.Errorf("expected blockHeight 100, got %d", event.BlockHeight)
	}
	if event.Timestamp != 1_700_000_000_000 {
		t.Errorf("expected timestamp in ms, got %d", event.Timestamp)
	}
	assertDecimal(t, "balanceChange", event.Data.BalanceChange, -2)
	assertDecimal(t, "amount", event.Data.Amount, 2)
	assertDecimal(t, "fee", event.Data.Fee, 1)
	assertDecimal(t, "previousBalance", *event.Data.PreviousBalance, 5)
	assertDecimal(t, "newBalance", *event.Data.NewBalance, 3)
	if event.Data.Source != domain.BalanceSourcePrecise {
		t.Errorf("expected precise source, got %s", event.Data.Source)
	}
	if event.Data.Status != domain.TxStatusSuccess {
		t.Errorf("expected success status, got %s", event.Data.Status)
	}
	if !event.Data.PreviousBalance.Add(event.Data.BalanceChange).Equal(*event.Data.NewBalance) {
		t.Error("previousBalance + balanceChange != newBalance")
	}

	if state.last[addr] != "sigX" {
		t.Errorf("expected last signature sigX, got %q", state.last[addr])
	}
	if b, ok, _ := tracker.Get(context.Background(), addr); !ok || !b.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected tracked balance 3, got %s (known=%v)", b, ok)
	}
	if len(em.events) != 1 {
		t.Fatalf("expected 1 emitted event, got %d", len(em.events))
	}
	if ledger.balanceCalls != 0 {
		t.Errorf("precise tier should not query balance, got %d calls", ledger.balanceCalls)
	}
}

func TestDetect_RepeatIsIdempotent(t *testing.T) {
	ledger := &MockLedger{
		sigs: []domain.SignatureInfo{{Signature: "sigX", Slot: 100}},
		detail: &domain.TransactionDetail{
			AccountKeys:  []string{addr},
			PreBalances:  []uint64{5},
			PostBalances: []uint64{3},
		},
	}
	d, _, _, em := newTestDetector(ledger, 0)

	if _, err := d.Detect(context.Background(), addr); err != nil {
		t.Fatalf("first Detect failed: %v", err)
	}
	event, err := d.Detect(context.Background(), addr)
	if err != nil {
		t.Fatalf("second Detect failed: %v", err)
	}
	if event != nil {
		t.Errorf("expected no event on repeat, got %+v", event)
	}
	if len(em.events) != 1 {
		t.Errorf("expected exactly 1 event, got %d", len(em.events))
	}
	if ledger.detailCalls != 1 {
		t.Errorf("expected detail fetched once, got %d", ledger.detailCalls)
	}
}

func TestDetect_EmptySignatures(t *testing.T) {
	d, state, _, em := newTestDetector(&MockLedger{}, 0)

	event, err := d.Detect(context.Background(), addr)
	if err != nil || event != nil {
		t.Fatalf("expected nil event and nil error, got %v, %v", event, err)
	}
	if len(em.events) != 0 || state.last[addr] != "" {
		t.Error("empty signature list must not emit or update state")
	}
}

func TestDetect_SignatureErrorPropagates(t *testing.T) {
	ledger := &MockLedger{sigErr: domain.ErrRPCTransient}
	d, _, _, em := newTestDetector(ledger, 0)

	_, err := d.Detect(context.Background(), addr)
	if !errors.Is(err, domain.ErrRPCTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if len(em.events) != 0 {
		t.Error("no event expected on signature failure")
	}
}

func TestDetect_EstimatedFallback(t *testing.T) {
	ledger := &MockLedger{
		sigs:    []domain.SignatureInfo{{Signature: "sigY", Slot: 7}},
		balance: 12,
	}
	d, _, tracker, _ := newTestDetector(ledger, 0)
	_ = tracker.Set(context.Background(), addr, decimal.NewFromInt(10))

	event, err := d.Detect(context.Background(), addr)
	if err != nil || event == nil {
		t.Fatalf("expected event, got %v, %v", event, err)
	}
	if event.Data.Source != domain.BalanceSourceEstimated {
		t.Fatalf("expected estimated source, got %s", event.Data.Source)
	}
	assertDecimal(t, "balanceChange", event.Data.BalanceChange, 2)
	assertDecimal(t, "previousBalance", *event.Data.PreviousBalance, 10)
	assertDecimal(t, "newBalance", *event.Data.NewBalance, 12)
	assertDecimal(t, "fee", event.Data.Fee, 0)
	if event.Timestamp != 1_700_000_000_123 {
		t.Errorf("expected timestamp from clock, got %d", event.Timestamp)
	}
	if b, _, _ := tracker.Get(context.Background(), addr); !b.Equal(decimal.NewFromInt(12)) {
		t.Errorf("expected tracked balance 12, got %s", b)
	}
}

func TestDetect_EstimatedWhenAddressAbsentFromKeys(t *testing.T) {
	ledger := &MockLedger{
		sigs: []domain.SignatureInfo{{Signature: "sigY"}},
		detail: &domain.TransactionDetail{
			AccountKeys:  []string{"someone-else"},
			PreBalances:  []uint64{1},
			PostBalances: []uint64{2},
		},
		balance: 4,
	}
	d, _, tracker, _ := newTestDetector(ledger, 0)
	_ = tracker.Set(context.Background(), addr, decimal.NewFromInt(1))

	event, _ := d.Detect(context.Background(), addr)
	if event == nil || event.Data.Source != domain.BalanceSourceEstimated {
		t.Fatalf("expected estimated event, got %+v", event)
	}
	assertDecimal(t, "balanceChange", event.Data.BalanceChange, 3)
}

func TestDetect_ThresholdSuppressesTinyChange(t *testing.T) {
	ledger := &MockLedger{
		sigs:    []domain.SignatureInfo{{Signature: "sigZ"}},
		balance: 1_000_050_000, // 1.00005 at 9 decimals
	}
	d, _, tracker, _ := newTestDetector(ledger, 9)
	_ = tracker.Set(context.Background(), addr, decimal.NewFromInt(1))

	event, err := d.Detect(context.Background(), addr)
	if err != nil || event == nil {
		t.Fatalf("expected event, got %v, %v", event, err)
	}
	if event.HasBalanceChange() {
		t.Errorf("expected suppressed change, got %+v", event.Data)
	}
	if !event.Data.BalanceChange.IsZero() {
		t.Errorf("expected zero change, got %s", event.Data.BalanceChange)
	}
	if event.Data.Source != domain.BalanceSourceUnknown {
		t.Errorf("expected unknown source, got %s", event.Data.Source)
	}
	b, _, _ := tracker.Get(context.Background(), addr)
	if !b.Equal(decimal.RequireFromString("1.00005")) {
		t.Errorf("expected tracked balance 1.00005, got %s", b)
	}
}

func TestDetect_FirstObservationHasNoEstimate(t *testing.T) {
	ledger := &MockLedger{
		sigs:    []domain.SignatureInfo{{Signature: "sigA"}},
		balance: 42,
	}
	d, _, tracker, _ := newTestDetector(ledger, 0)

	event, _ := d.Detect(context.Background(), addr)
	if event == nil {
		t.Fatal("expected event")
	}
	if event.HasBalanceChange() || event.Data.Source != domain.BalanceSourceUnknown {
		t.Errorf("expected unknown change on first observation, got %+v", event.Data)
	}
	if b, ok, _ := tracker.Get(context.Background(), addr); !ok || !b.Equal(decimal.NewFromInt(42)) {
		t.Errorf("expected current balance recorded, got %s (known=%v)", b, ok)
	}
}

func TestDetect_UnknownWhenAllQueriesFail(t *testing.T) {
	ledger := &MockLedger{
		sigs:       []domain.SignatureInfo{{Signature: "sigB", Err: map[string]any{"InstructionError": []any{0, "Custom"}}}},
		detailErr:  domain.ErrRPCTransient,
		balanceErr: domain.ErrRPCTransient,
	}
	d, state, tracker, em := newTestDetector(ledger, 0)

	event, err := d.Detect(context.Background(), addr)
	if err != nil || event == nil {
		t.Fatalf("expected event, got %v, %v", event, err)
	}
	if event.Data.Source != domain.BalanceSourceUnknown || event.HasBalanceChange() {
		t.Errorf("expected unknown source without balances, got %+v", event.Data)
	}
	if event.Data.Status != domain.TxStatusFailed {
		t.Errorf("expected failed status, got %s", event.Data.Status)
	}
	if state.last[addr] != "sigB" {
		t.Error("signature must be marked processed even when amounts are unknown")
	}
	if _, ok, _ := tracker.Get(context.Background(), addr); ok {
		t.Error("no balance should be recorded")
	}
	if len(em.events) != 1 {
		t.Errorf("expected 1 event, got %d", len(em.events))
	}
}

func TestDetect_DetailErrorMarksFailed(t *testing.T) {
	ledger := &MockLedger{
		sigs: []domain.SignatureInfo{{Signature: "sigC"}},
		detail: &domain.TransactionDetail{
			Slot:         55,
			BlockTime:    int64Ptr(1_600_000_000),
			AccountKeys:  []string{addr},
			PreBalances:  []uint64{10},
			PostBalances: []uint64{9},
			Err:          "InsufficientFunds",
		},
	}
	d, _, _, _ := newTestDetector(ledger, 0)

	event, _ := d.Detect(context.Background(), addr)
	if event == nil {
		t.Fatal("expected event")
	}
	if event.Data.Status != domain.TxStatusFailed {
		t.Errorf("expected failed status, got %s", event.Data.Status)
	}
	if event.Timestamp != 1_600_000_000_000 {
		t.Errorf("expected timestamp from detail, got %d", event.Timestamp)
	}
	if event.BlockHeight != 55 {
		t.Errorf("expected blockHeight from detail, got %d", event.BlockHeight)
	}
}

func TestDetect_DropsEventForRemovedAddress(t *testing.T) {
	ledger := &MockLedger{
		sigs:    []domain.SignatureInfo{{Signature: "sigD"}},
		balance: 5,
	}
	d, state, tracker, em := newTestDetector(ledger, 0)
	state.removed = true

	event, err := d.Detect(context.Background(), addr)
	if err != nil || event != nil {
		t.Fatalf("expected dropped event, got %v, %v", event, err)
	}
	if len(em.events) != 0 {
		t.Error("event for removed address must not be emitted")
	}
	if _, ok, _ := tracker.Get(context.Background(), addr); ok {
		t.Error("balance of removed address must not be recorded")
	}
}

func TestDetect_DisplayUnits(t *testing.T) {
	ledger := &MockLedger{
		sigs: []domain.SignatureInfo{{Signature: "sigE"}},
		detail: &domain.TransactionDetail{
			Fee:          5000,
			AccountKeys:  []string{addr},
			PreBalances:  []uint64{2_000_000_000},
			PostBalances: []uint64{1_499_995_000},
		},
	}
	d, _, _, _ := newTestDetector(ledger, 9)

	event, _ := d.Detect(context.Background(), addr)
	if event == nil {
		t.Fatal("expected event")
	}
	if got := event.Data.BalanceChange.String(); got != "-0.500005" {
		t.Errorf("expected -0.500005, got %s", got)
	}
	if got := event.Data.Fee.String(); got != "0.000005" {
		t.Errorf("expected fee 0.000005, got %s", got)
	}
}
