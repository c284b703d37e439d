package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/vietddude/activitywatch/internal/core/domain"
)

// BalanceTracker keeps the last observed balance of each account in Redis,
// so the estimated fallback survives a restart.
type BalanceTracker struct {
	rdb     *redis.Client
	network domain.Network
	ttl     time.Duration
}

// NewBalanceTracker creates a Redis-backed balance tracker.
// A zero ttl keeps balances until the account is unwatched.
func NewBalanceTracker(client *Client, network domain.Network, ttl time.Duration) *BalanceTracker {
	return &BalanceTracker{
		rdb:     client.rdb,
		network: network,
		ttl:     ttl,
	}
}

func balanceKey(network domain.Network, address string) string {
	return fmt.Sprintf("balance:%s:%s", network, address)
}

// Get returns the cached balance of address.
func (t *BalanceTracker) Get(ctx context.Context, address string) (decimal.Decimal, bool, error) {
	val, err := t.rdb.Get(ctx, balanceKey(t.network, address)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("get balance: %w", err)
	}
	return parseBalance(val)
}

// Set caches the balance of address.
func (t *BalanceTracker) Set(ctx context.Context, address string, balance decimal.Decimal) error {
	if err := t.rdb.Set(ctx, balanceKey(t.network, address), balance.String(), t.ttl).Err(); err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

// Forget removes the cached balance of address.
func (t *BalanceTracker) Forget(ctx context.Context, address string) error {
	if err := t.rdb.Del(ctx, balanceKey(t.network, address)).Err(); err != nil {
		return fmt.Errorf("delete balance: %w", err)
	}
	return nil
}

func parseBalance(val string) (decimal.Decimal, bool, error) {
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("invalid cached balance %q: %w", val, err)
	}
	return d, true, nil
}
