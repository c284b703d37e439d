package domain

import (
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventTypeTransactions EventType = "transactions"
	EventTypeEngineHalted EventType = "engine_halted"
)

// BalanceSource records which fallback tier produced the balance data.
type BalanceSource string

const (
	BalanceSourcePrecise   BalanceSource = "precise"
	BalanceSourceEstimated BalanceSource = "estimated"
	BalanceSourceUnknown   BalanceSource = "unknown"
)

// ActivityEvent is the normalized record of new activity on an account.
type ActivityEvent struct {
	Type        EventType    `json:"type"`
	Address     string       `json:"address"`
	Timestamp   int64        `json:"timestamp"`
	TxHash      string       `json:"txHash"`
	BlockHeight uint64       `json:"blockHeight"`
	Data        ActivityData `json:"data"`
}

// ActivityData carries the amounts of an ActivityEvent in display units.
// PreviousBalance and NewBalance are nil when the change is unknown.
type ActivityData struct {
	Amount          decimal.Decimal  `json:"amount"`
	Fee             decimal.Decimal  `json:"fee"`
	BalanceChange   decimal.Decimal  `json:"balanceChange"`
	PreviousBalance *decimal.Decimal `json:"previousBalance"`
	NewBalance      *decimal.Decimal `json:"newBalance"`
	Status          TxStatus         `json:"status"`
	Source          BalanceSource    `json:"source"`
	Error           string           `json:"error,omitempty"`
}

// HasBalanceChange reports whether the event carries a known balance delta.
func (e *ActivityEvent) HasBalanceChange() bool {
	return e.Data.PreviousBalance != nil && e.Data.NewBalance != nil
}
