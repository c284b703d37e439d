// Package balance tracks the last known balance of watched accounts.
// The tracked values are a fallback signal only; the node's answer always wins.
package balance

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Tracker stores the last observed balance per address in display units.
type Tracker interface {
	// Get returns the last known balance and whether one is recorded
	Get(ctx context.Context, address string) (decimal.Decimal, bool, error)

	// Set records the latest observed balance
	Set(ctx context.Context, address string, balance decimal.Decimal) error

	// Forget drops the balance of an unwatched address
	Forget(ctx context.Context, address string) error
}

// MemoryTracker implements Tracker using an in-memory map.
type MemoryTracker struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
}

// NewMemoryTracker creates an empty in-memory tracker.
func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		balances: make(map[string]decimal.Decimal),
	}
}

func (t *MemoryTracker) Get(_ context.Context, address string) (decimal.Decimal, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.balances[address]
	return b, ok, nil
}

func (t *MemoryTracker) Set(_ context.Context, address string, balance decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[address] = balance
	return nil
}

func (t *MemoryTracker) Forget(_ context.Context, address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.balances, address)
	return nil
}
