package types

import (
	"fmt"
	"math/big"
	"strings"
)

// PayoutEntry represents a single lamport transfer in a payout plan.
type PayoutEntry struct {
	Owner    string `json:"owner"`
	Lamports uint64 `json:"lamports"`
}

// PayoutPlan is the ordered set of transfers computed for one cycle.
// Sum(Entries) + Leftover always equals Distributable.
type PayoutPlan struct {
	Distributable uint64        `json:"distributable"`
	Entries       []PayoutEntry `json:"entries"`
	Leftover      uint64        `json:"leftover"`

	// Snapshot figures the plan was computed from.
	TotalTokens     *big.Int `json:"total_tokens"`
	EligibleHolders int      `json:"eligible_holders"`
	DustExcluded    int      `json:"dust_excluded"`
}

// Total returns the sum of all entry amounts.
func (p *PayoutPlan) Total() uint64 {
	var total uint64
	for _, e := range p.Entries {
		total += e.Lamports
	}
	return total
}

// NormalizeBlacklist returns a copy of blacklist with lower-cased keys.
func NormalizeBlacklist(blacklist map[string]struct{}) map[string]struct{} {
	set := make(map[string]struct{}, len(blacklist))
	for addr := range blacklist {
		set[strings.ToLower(addr)] = struct{}{}
	}
	return set
}

// Check verifies the plan's conservation, ordering, dust and blacklist invariants.
// Blacklist matching ignores case.
func (p *PayoutPlan) Check(blacklist map[string]struct{}, dustThreshold uint64) error {
	blacklist = NormalizeBlacklist(blacklist)
	sum := new(big.Int).SetUint64(p.Leftover)
	for i, e := range p.Entries {
		if e.Lamports < dustThreshold {
			return fmt.Errorf("entry %d (%s): share %d below dust threshold %d", i, e.Owner, e.Lamports, dustThreshold)
		}
		if _, ok := blacklist[strings.ToLower(e.Owner)]; ok {
			return fmt.Errorf("entry %d (%s): owner is blacklisted", i, e.Owner)
		}
		if i > 0 && p.Entries[i-1].Owner >= e.Owner {
			return fmt.Errorf("entry %d (%s): not in ascending owner order", i, e.Owner)
		}
		sum.Add(sum, new(big.Int).SetUint64(e.Lamports))
	}
	if !sum.IsUint64() || sum.Uint64() != p.Distributable {
		return fmt.Errorf("shares + leftover = %s, want %d", sum, p.Distributable)
	}
	return nil
}
