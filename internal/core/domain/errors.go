package domain

import "errors"

var (
	// ErrInvalidAddress is returned when an account identifier is malformed.
	ErrInvalidAddress = errors.New("invalid account address")

	// ErrRPCTransient marks node timeouts and unreachable-node failures.
	ErrRPCTransient = errors.New("transient rpc error")

	// ErrTransactionNotFound is returned when the node has no detail for a signature.
	ErrTransactionNotFound = errors.New("transaction detail unavailable")

	// ErrMaxReconnectExceeded is reported when the engine halts after repeated tick failures.
	ErrMaxReconnectExceeded = errors.New("max reconnect attempts exceeded")

	// ErrAccountNotFound is returned by account stores for unknown addresses.
	ErrAccountNotFound = errors.New("account not found")
)
