package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vietddude/activitywatch/internal/core/domain"
)

// EventRepo implements storage.EventRepository using PostgreSQL.
type EventRepo struct {
	db *DB
}

// NewEventRepo creates a new PostgreSQL event repository.
func NewEventRepo(db *DB) *EventRepo {
	return &EventRepo{db: db}
}

// eventRow is the activity_events row shape.
type eventRow struct {
	Network         string              `db:"network"`
	Type            string              `db:"type"`
	Address         string              `db:"address"`
	TxHash          string              `db:"tx_hash"`
	BlockHeight     int64               `db:"block_height"`
	TimestampMs     int64               `db:"timestamp_ms"`
	Amount          decimal.Decimal     `db:"amount"`
	Fee             decimal.Decimal     `db:"fee"`
	BalanceChange   decimal.Decimal     `db:"balance_change"`
	PreviousBalance decimal.NullDecimal `db:"previous_balance"`
	NewBalance      decimal.NullDecimal `db:"new_balance"`
	Status          string              `db:"status"`
	Source          string              `db:"source"`
	Error           string              `db:"error"`
}

func toRow(network domain.Network, e *domain.ActivityEvent) eventRow {
	row := eventRow{
		Network:       string(network),
		Type:          string(e.Type),
		Address:       e.Address,
		TxHash:        e.TxHash,
		BlockHeight:   int64(e.BlockHeight),
		TimestampMs:   e.Timestamp,
		Amount:        e.Data.Amount,
		Fee:           e.Data.Fee,
		BalanceChange: e.Data.BalanceChange,
		Status:        string(e.Data.Status),
		Source:        string(e.Data.Source),
		Error:         e.Data.Error,
	}
	if e.Data.PreviousBalance != nil {
		row.PreviousBalance = decimal.NewNullDecimal(*e.Data.PreviousBalance)
	}
	if e.Data.NewBalance != nil {
		row.NewBalance = decimal.NewNullDecimal(*e.Data.NewBalance)
	}
	return row
}

func (r eventRow) toDomain() *domain.ActivityEvent {
	e := &domain.ActivityEvent{
		Type:        domain.EventType(r.Type),
		Address:     r.Address,
		Timestamp:   r.TimestampMs,
		TxHash:      r.TxHash,
		BlockHeight: uint64(r.BlockHeight),
		Data: domain.ActivityData{
			Amount:        r.Amount,
			Fee:           r.Fee,
			BalanceChange: r.BalanceChange,
			Status:        domain.TxStatus(r.Status),
			Source:        domain.BalanceSource(r.Source),
			Error:         r.Error,
		},
	}
	if r.PreviousBalance.Valid {
		prev := r.PreviousBalance.Decimal
		e.Data.PreviousBalance = &prev
	}
	if r.NewBalance.Valid {
		next := r.NewBalance.Decimal
		e.Data.NewBalance = &next
	}
	return e
}

const insertEvent = `
INSERT INTO activity_events (
    network, type, address, tx_hash, block_height, timestamp_ms,
    amount, fee, balance_change, previous_balance, new_balance,
    status, source, error
) VALUES (
    :network, :type, :address, :tx_hash, :block_height, :timestamp_ms,
    :amount, :fee, :balance_change, :previous_balance, :new_balance,
    :status, :source, :error
)
ON CONFLICT (network, address, tx_hash) WHERE type = 'transactions' DO NOTHING`

// SaveEvent appends an event to the log.
func (r *EventRepo) SaveEvent(ctx context.Context, network domain.Network, event *domain.ActivityEvent) error {
	if _, err := r.db.NamedExecContext(ctx, insertEvent, toRow(network, event)); err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// ListByAddress returns the newest events of an address.
func (r *EventRepo) ListByAddress(
	ctx context.Context,
	network domain.Network,
	address string,
	limit int,
) ([]*domain.ActivityEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	err := r.db.SelectContext(ctx, &rows, `
SELECT network, type, address, tx_hash, block_height, timestamp_ms,
       amount, fee, balance_change, previous_balance, new_balance,
       status, source, error
FROM activity_events
WHERE network = $1 AND address = $2
ORDER BY id DESC
LIMIT $3`, network, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	events := make([]*domain.ActivityEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, row.toDomain())
	}
	return events, nil
}

// DeleteEventsOlderThan removes events older than before.
func (r *EventRepo) DeleteEventsOlderThan(ctx context.Context, network domain.Network, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM activity_events WHERE network = $1 AND timestamp_ms < $2`,
		network, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return res.RowsAffected()
}
