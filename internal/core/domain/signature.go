package domain

// SignatureInfo is one entry of an account's recent signature list.
type SignatureInfo struct {
	Signature          string `json:"signature"`
	Slot               uint64 `json:"slot"`
	BlockTime          *int64 `json:"blockTime"`
	Err                any    `json:"err"`
	ConfirmationStatus string `json:"confirmationStatus,omitempty"`
	Memo               string `json:"memo,omitempty"`
}

// Failed reports whether the ledger marked the transaction as failed.
func (s SignatureInfo) Failed() bool {
	return s.Err != nil
}

// TransactionDetail holds the balance-relevant parts of a confirmed transaction.
type TransactionDetail struct {
	Signature    string
	Slot         uint64
	BlockTime    *int64
	Fee          uint64
	PreBalances  []uint64
	PostBalances []uint64
	AccountKeys  []string
	Err          any
}

// AccountIndex returns the position of address among the account keys, or -1.
// The index is only usable when both balance arrays cover it.
func (d *TransactionDetail) AccountIndex(address string) int {
	for i, key := range d.AccountKeys {
		if key != address {
			continue
		}
		if i >= len(d.PreBalances) || i >= len(d.PostBalances) {
			return -1
		}
		return i
	}
	return -1
}

type TxStatus string

const (
	TxStatusSuccess TxStatus = "success"
	TxStatusFailed  TxStatus = "failed"
)
