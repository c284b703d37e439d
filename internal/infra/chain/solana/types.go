package solana

import (
	"encoding/json"
	"fmt"

	"github.com/vietddude/activitywatch/internal/core/domain"
)

type rawTransaction struct {
	Slot        uint64   `json:"slot"`
	BlockTime   *int64   `json:"blockTime"`
	Meta        *rawMeta `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []accountKey `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

type rawMeta struct {
	Err             any      `json:"err"`
	Fee             uint64   `json:"fee"`
	PreBalances     []uint64 `json:"preBalances"`
	PostBalances    []uint64 `json:"postBalances"`
	LoadedAddresses *struct {
		Writable []string `json:"writable"`
		Readonly []string `json:"readonly"`
	} `json:"loadedAddresses"`
}

// accountKey accepts both the plain string form ("json" encoding) and the
// object form ("jsonParsed" encoding).
type accountKey string

func (k *accountKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = accountKey(s)
		return nil
	}
	var obj struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("account key: %w", err)
	}
	*k = accountKey(obj.Pubkey)
	return nil
}

// toDomain flattens static keys followed by loaded writable and readonly
// addresses, which is the order balances are reported in for v0 messages.
func (t *rawTransaction) toDomain(signature string) *domain.TransactionDetail {
	keys := make([]string, 0, len(t.Transaction.Message.AccountKeys))
	for _, k := range t.Transaction.Message.AccountKeys {
		keys = append(keys, string(k))
	}
	if la := t.Meta.LoadedAddresses; la != nil {
		keys = append(keys, la.Writable...)
		keys = append(keys, la.Readonly...)
	}

	return &domain.TransactionDetail{
		Signature:    signature,
		Slot:         t.Slot,
		BlockTime:    t.BlockTime,
		Fee:          t.Meta.Fee,
		PreBalances:  t.Meta.PreBalances,
		PostBalances: t.Meta.PostBalances,
		AccountKeys:  keys,
		Err:          t.Meta.Err,
	}
}
