package payout

import (
	"math/big"
	"sort"

	"github.com/djkazic/creatorsplit/internal/types"
)

// Aggregate sums raw token-account balances per owner and returns one entry
// per owner, sorted by owner address. Owners whose balances sum to zero are
// kept so callers can count them; Compute never pays them.
func Aggregate(raw []types.HolderBalance) []types.HolderBalance {
	totals := make(map[string]*big.Int, len(raw))
	for _, h := range raw {
		if h.Owner == "" {
			continue
		}
		existing, ok := totals[h.Owner]
		if !ok {
			existing = new(big.Int)
			totals[h.Owner] = existing
		}
		if h.Balance != nil {
			existing.Add(existing, h.Balance)
		}
	}

	result := make([]types.HolderBalance, 0, len(totals))
	for owner, balance := range totals {
		result = append(result, types.HolderBalance{Owner: owner, Balance: balance})
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Owner < result[j].Owner
	})
	return result
}

// Eligible returns holders that are not blacklisted and hold a positive
// balance, along with their total supply. Blacklist matching ignores case.
func Eligible(holders []types.HolderBalance, blacklist map[string]struct{}) ([]types.HolderBalance, *big.Int) {
	blacklist = types.NormalizeBlacklist(blacklist)
	eligible := make([]types.HolderBalance, 0, len(holders))
	total := new(big.Int)
	for _, h := range holders {
		if h.IsZero() || h.Balance.Sign() < 0 {
			continue
		}
		if IsBlacklisted(blacklist, h.Owner) {
			continue
		}
		eligible = append(eligible, h)
		total.Add(total, h.Balance)
	}
	return eligible, total
}
