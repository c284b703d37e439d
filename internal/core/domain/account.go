package domain

import (
	"context"
	"time"
)

// Handler receives activity events for a single watched account.
type Handler func(ctx context.Context, event *ActivityEvent)

// WatchedAccount represents a monitored ledger account.
type WatchedAccount struct {
	Address       string    `json:"address"                 db:"address"`
	Network       Network   `json:"network"                 db:"network"`
	Label         string    `json:"label,omitempty"         db:"label"`
	LastSignature string    `json:"lastSignature,omitempty" db:"-"`
	CreatedAt     time.Time `json:"createdAt"               db:"created_at"`
}
