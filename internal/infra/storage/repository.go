package storage

import (
	"context"
	"time"

	"github.com/vietddude/activitywatch/internal/core/domain"
)

// AccountRepository persists the watch list so it survives restarts.
type AccountRepository interface {
	// Save inserts or updates a watched account
	Save(ctx context.Context, account *domain.WatchedAccount) error

	// Delete removes an account; deleting an unknown account is not an error
	Delete(ctx context.Context, network domain.Network, address string) error

	// Get retrieves an account, or domain.ErrAccountNotFound
	Get(ctx context.Context, network domain.Network, address string) (*domain.WatchedAccount, error)

	// List returns every account of a network, oldest first
	List(ctx context.Context, network domain.Network) ([]*domain.WatchedAccount, error)
}

// EventRepository handles activity event storage
type EventRepository interface {
	// SaveEvent appends an event; repeated activity events for the same
	// transaction are ignored
	SaveEvent(ctx context.Context, network domain.Network, event *domain.ActivityEvent) error

	// ListByAddress returns the most recent events of an address, newest first
	ListByAddress(ctx context.Context, network domain.Network, address string, limit int) ([]*domain.ActivityEvent, error)

	// DeleteEventsOlderThan removes events whose timestamp precedes before
	DeleteEventsOlderThan(ctx context.Context, network domain.Network, before time.Time) (int64, error)
}
