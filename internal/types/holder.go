package types

import (
	"math/big"
)

// HolderBalance represents one owner's token balance in raw base units.
// An owner may hold several token accounts; callers sum those before use.
type HolderBalance struct {
	Owner   string   `json:"owner"`
	Balance *big.Int `json:"balance"`
}

// NewHolderBalance creates a HolderBalance from a uint64 amount.
func NewHolderBalance(owner string, amount uint64) HolderBalance {
	return HolderBalance{
		Owner:   owner,
		Balance: new(big.Int).SetUint64(amount),
	}
}

// IsZero reports whether the balance is missing or zero.
func (h HolderBalance) IsZero() bool {
	return h.Balance == nil || h.Balance.Sign() == 0
}

// TotalBalance sums the balances of the given holders.
func TotalBalance(holders []HolderBalance) *big.Int {
	total := new(big.Int)
	for _, h := range holders {
		if h.Balance != nil {
			total.Add(total, h.Balance)
		}
	}
	return total
}
