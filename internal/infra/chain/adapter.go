package chain

import (
	"context"
	"encoding/json"

	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/infra/rpc"
)

// RPCClient executes JSON-RPC operations against a node.
type RPCClient interface {
	Execute(ctx context.Context, op rpc.Operation) (json.RawMessage, error)
}

// Ledger is the request/response query contract of a ledger node.
type Ledger interface {
	// GetBalance returns the current balance of address in native units
	GetBalance(ctx context.Context, address string) (uint64, error)

	// GetRecentSignatures returns up to limit signatures, most recent first
	GetRecentSignatures(ctx context.Context, address string, limit int) ([]domain.SignatureInfo, error)

	// GetTransactionDetail returns the detail of a transaction,
	// or domain.ErrTransactionNotFound when the node has none
	GetTransactionDetail(ctx context.Context, signature string) (*domain.TransactionDetail, error)
}

// AddressValidator checks the syntax of account identifiers.
type AddressValidator interface {
	ValidateAddress(address string) error
}

// Adapter defines the chain-level boundary between the watcher and a network.
type Adapter interface {
	Ledger
	AddressValidator

	// GetSlot returns the current ledger height, used for health checks
	GetSlot(ctx context.Context) (uint64, error)

	// Network returns the network identifier
	Network() domain.Network
}
