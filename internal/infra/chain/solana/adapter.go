package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/vietddude/activitywatch/internal/core/domain"
	"github.com/vietddude/activitywatch/internal/infra/chain"
	"github.com/vietddude/activitywatch/internal/infra/rpc"
)

const signatureLength = 64

// Adapter implements chain.Adapter on top of the Solana JSON-RPC API.
type Adapter struct {
	network    domain.Network
	client     chain.RPCClient
	commitment string
	log        *slog.Logger
}

var _ chain.Adapter = (*Adapter)(nil)

// NewAdapter creates an adapter querying with the given commitment level.
func NewAdapter(network domain.Network, client chain.RPCClient, commitment string) *Adapter {
	if commitment == "" {
		commitment = "confirmed"
	}
	return &Adapter{
		network:    network,
		client:     client,
		commitment: commitment,
		log:        slog.Default().With("component", "solana", "network", network),
	}
}

// Network returns the network identifier.
func (a *Adapter) Network() domain.Network {
	return a.network
}

// ValidateAddress checks that address is a base58 encoded 32-byte public key.
func (a *Adapter) ValidateAddress(address string) error {
	return ValidateAddress(address)
}

// ValidateAddress checks that address is a base58 encoded 32-byte public key.
func ValidateAddress(address string) error {
	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return fmt.Errorf("%w: %q: %v", domain.ErrInvalidAddress, address, err)
	}
	return nil
}

// ValidateSignature checks that sig is a base58 encoded 64-byte signature.
func ValidateSignature(sig string) error {
	raw, err := base58.Decode(sig)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if len(raw) != signatureLength {
		return fmt.Errorf("signature has %d bytes, want %d", len(raw), signatureLength)
	}
	return nil
}

func (a *Adapter) GetSlot(ctx context.Context) (uint64, error) {
	op := rpc.NewHTTPOperation("getSlot", map[string]any{"commitment": a.commitment})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return 0, fmt.Errorf("getSlot failed: %w", err)
	}

	var slot uint64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, fmt.Errorf("invalid getSlot response: %w", err)
	}
	return slot, nil
}

func (a *Adapter) GetBalance(ctx context.Context, address string) (uint64, error) {
	op := rpc.NewHTTPOperation("getBalance", address, map[string]any{"commitment": a.commitment})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return 0, fmt.Errorf("getBalance failed: %w", err)
	}

	var resp struct {
		Value *uint64 `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return 0, fmt.Errorf("invalid getBalance response: %w", err)
	}
	if resp.Value == nil {
		return 0, fmt.Errorf("invalid getBalance response: missing value")
	}
	return *resp.Value, nil
}

func (a *Adapter) GetRecentSignatures(
	ctx context.Context,
	address string,
	limit int,
) ([]domain.SignatureInfo, error) {
	op := rpc.NewHTTPOperation("getSignaturesForAddress", address, map[string]any{
		"limit":      limit,
		"commitment": a.commitment,
	})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("getSignaturesForAddress failed: %w", err)
	}

	var entries []domain.SignatureInfo
	if err := json.Unmarshal(result, &entries); err != nil {
		return nil, fmt.Errorf("invalid getSignaturesForAddress response: %w", err)
	}

	sigs := entries[:0]
	for _, e := range entries {
		if err := ValidateSignature(e.Signature); err != nil {
			a.log.Warn("Skipping malformed signature", "address", address, "signature", e.Signature, "error", err)
			continue
		}
		sigs = append(sigs, e)
	}
	return sigs, nil
}

func (a *Adapter) GetTransactionDetail(ctx context.Context, signature string) (*domain.TransactionDetail, error) {
	op := rpc.NewHTTPOperation("getTransaction", signature, map[string]any{
		"encoding":                       "json",
		"commitment":                     a.detailCommitment(),
		"maxSupportedTransactionVersion": 0,
	})
	result, err := a.client.Execute(ctx, op)
	if err != nil {
		return nil, fmt.Errorf("getTransaction failed: %w", err)
	}
	if len(result) == 0 || bytes.Equal(bytes.TrimSpace(result), []byte("null")) {
		return nil, domain.ErrTransactionNotFound
	}

	var raw rawTransaction
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("invalid getTransaction response: %w", err)
	}
	if raw.Meta == nil {
		// Without meta there are no balances to derive a delta from
		return nil, domain.ErrTransactionNotFound
	}

	return raw.toDomain(signature), nil
}

// getTransaction rejects the processed commitment level.
func (a *Adapter) detailCommitment() string {
	if a.commitment == "processed" {
		return "confirmed"
	}
	return a.commitment
}
