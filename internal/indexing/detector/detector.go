// Package detector turns one poll of an account into at most one activity event.
package detector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/indexing/balance"
	"github.com/vietddude/activitywatch/internal/indexing/emitter"
	"github.com/vietddude/activitywatch/internal/indexing/metrics"
	"github.com/vietddude/activitywatch/internal/infra/chain"
)

// DefaultEpsilon is the smallest estimated balance change reported, in display units.
var DefaultEpsilon = decimal.New(1, -4)

// State exposes the per-address dedup state kept by the registry.
type State interface {
	LastSignature(address string) string
	MarkProcessed(address, sig string) bool
}

// Config holds detector configuration.
type Config struct {
	Network        domain.Network
	SignatureLimit int
	Decimals       int32
	Epsilon        decimal.Decimal
	CallTimeout    time.Duration
}

// Detector samples one account per call and reports what is new since the last sample.
type Detector struct {
	cfg     Config
	ledger  chain.Ledger
	state   State
	tracker balance.Tracker
	emitter emitter.Emitter
	now     func() time.Time
	log     *slog.Logger
}

// New creates a detector.
func New(cfg Config, ledger chain.Ledger, state State, tracker balance.Tracker, em emitter.Emitter) *Detector {
	if cfg.SignatureLimit <= 0 {
		cfg.SignatureLimit = 5
	}
	if cfg.Epsilon.IsZero() {
		cfg.Epsilon = DefaultEpsilon
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if tracker == nil {
		tracker = balance.NewMemoryTracker()
	}
	return &Detector{
		cfg:     cfg,
		ledger:  ledger,
		state:   state,
		tracker: tracker,
		emitter: em,
		now:     time.Now,
		log:     slog.Default().With("component", "detector", "network", cfg.Network),
	}
}

// Detect polls address once. It returns the emitted event, or nil when
// nothing new was observed. Only a failure to list signatures is returned as
// an error; detail and balance failures degrade the event instead.
func (d *Detector) Detect(ctx context.Context, address string) (*domain.ActivityEvent, error) {
	sigs, err := d.recentSignatures(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("get signatures for %s: %w", address, err)
	}
	if len(sigs) == 0 {
		return nil, nil
	}

	latest := sigs[0]
	if latest.Signature == d.state.LastSignature(address) {
		return nil, nil
	}

	event := d.provisional(address, latest)

	observed, ok := d.applyDetail(ctx, event, latest)
	if !ok {
		observed, ok = d.applyEstimate(ctx, event)
	}

	if !d.state.MarkProcessed(address, latest.Signature) {
		d.log.Debug("Address unsubscribed during detection, dropping event", "address", address, "tx", latest.Signature)
		return nil, nil
	}
	if ok {
		if err := d.tracker.Set(ctx, address, observed); err != nil {
			d.log.Warn("Failed to record balance", "address", address, "error", err)
		}
	}

	metrics.EventsEmitted.WithLabelValues(string(d.cfg.Network), string(event.Type), string(event.Data.Source)).Inc()
	if err := d.emitter.Emit(ctx, event); err != nil {
		d.log.Error("Failed to emit event", "address", address, "tx", event.TxHash, "error", err)
	}
	return event, nil
}

func (d *Detector) recentSignatures(ctx context.Context, address string) ([]domain.SignatureInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	return d.ledger.GetRecentSignatures(ctx, address, d.cfg.SignatureLimit)
}

func (d *Detector) provisional(address string, sig domain.SignatureInfo) *domain.ActivityEvent {
	ts := d.now().UnixMilli()
	if sig.BlockTime != nil {
		ts = *sig.BlockTime * 1000
	}
	status := domain.TxStatusSuccess
	if sig.Failed() {
		status = domain.TxStatusFailed
	}
	return &domain.ActivityEvent{
		Type:        domain.EventTypeTransactions,
		Address:     address,
		Timestamp:   ts,
		TxHash:      sig.Signature,
		BlockHeight: sig.Slot,
		Data: domain.ActivityData{
			Amount:        decimal.Zero,
			Fee:           decimal.Zero,
			BalanceChange: decimal.Zero,
			Status:        status,
			Source:        domain.BalanceSourceUnknown,
		},
	}
}

// applyDetail fills event from the transaction's pre/post balances.
// It returns the post balance and true when the precise tier applied.
func (d *Detector) applyDetail(ctx context.Context, event *domain.ActivityEvent, sig domain.SignatureInfo) (decimal.Decimal, bool) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	detail, err := d.ledger.GetTransactionDetail(callCtx, sig.Signature)
	if err != nil {
		if !errors.Is(err, domain.ErrTransactionNotFound) {
			d.log.Warn("Transaction detail failed, estimating", "address", event.Address, "tx", sig.Signature, "error", err)
		}
		return decimal.Zero, false
	}

	idx := detail.AccountIndex(event.Address)
	if idx < 0 {
		d.log.Debug("Address absent from transaction keys, estimating", "address", event.Address, "tx", sig.Signature)
		return decimal.Zero, false
	}

	pre := d.toDisplay(detail.PreBalances[idx])
	post := d.toDisplay(detail.PostBalances[idx])
	change := post.Sub(pre)

	event.Data.BalanceChange = change
	event.Data.Amount = change.Abs()
	event.Data.Fee = d.toDisplay(detail.Fee)
	event.Data.PreviousBalance = &pre
	event.Data.NewBalance = &post
	event.Data.Source = domain.BalanceSourcePrecise

	if sig.BlockTime == nil && detail.BlockTime != nil {
		event.Timestamp = *detail.BlockTime * 1000
	}
	if event.BlockHeight == 0 {
		event.BlockHeight = detail.Slot
	}
	if detail.Err != nil {
		event.Data.Status = domain.TxStatusFailed
	}
	return post, true
}

// applyEstimate derives the change from the current balance and the last
// known one. It returns the current balance and true when the node answered.
func (d *Detector) applyEstimate(ctx context.Context, event *domain.ActivityEvent) (decimal.Decimal, bool) {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()

	raw, err := d.ledger.GetBalance(callCtx, event.Address)
	if err != nil {
		d.log.Warn("Balance query failed, change unknown", "address", event.Address, "tx", event.TxHash, "error", err)
		return decimal.Zero, false
	}
	current := d.toDisplay(raw)

	last, known, err := d.tracker.Get(ctx, event.Address)
	if err != nil {
		d.log.Warn("Failed to read last balance", "address", event.Address, "error", err)
		known = false
	}
	if !known {
		return current, true
	}

	change := current.Sub(last)
	if change.Abs().LessThanOrEqual(d.cfg.Epsilon) {
		return current, true
	}

	event.Data.BalanceChange = change
	event.Data.Amount = change.Abs()
	event.Data.PreviousBalance = &last
	event.Data.NewBalance = &current
	event.Data.Source = domain.BalanceSourceEstimated
	return current, true
}

func (d *Detector) toDisplay(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -d.cfg.Decimals)
}
