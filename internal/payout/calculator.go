package payout

import (
	"errors"
	"math/big"
	"strings"

	"github.com/djkazic/creatorsplit/internal/types"
)

// DefaultDustThreshold is the smallest share, in lamports, worth a transfer.
const DefaultDustThreshold uint64 = 5000

// ErrEmptyDistribution is returned when no eligible holder has a positive
// balance. It ends a cycle early and is not a failure.
var ErrEmptyDistribution = errors.New("nothing to distribute: no eligible holders")

// IsBlacklisted reports whether owner is in the lower-cased blacklist. Use
// types.NormalizeBlacklist on sets of unknown case.
func IsBlacklisted(blacklist map[string]struct{}, owner string) bool {
	if len(blacklist) == 0 {
		return false
	}
	_, ok := blacklist[strings.ToLower(owner)]
	return ok
}

// Compute splits distributable lamports across holders in proportion to
// their balances.
//
// Blacklisted owners are removed before the total supply is taken. Each
// share is floor(distributable * balance / total), computed in big.Int.
// Shares below dustThreshold are dropped and fall to the leftover, as does
// the truncation remainder. Entries are ordered by owner address, so the
// same input always yields the same plan.
func Compute(holders []types.HolderBalance, blacklist map[string]struct{}, distributable, dustThreshold uint64) (*types.PayoutPlan, error) {
	eligible, totalTokens := Eligible(holders, blacklist)
	if len(eligible) == 0 || totalTokens.Sign() == 0 {
		return nil, ErrEmptyDistribution
	}

	// Aggregate also fixes the owner order of the entries.
	eligible = Aggregate(eligible)

	plan := &types.PayoutPlan{
		Distributable:   distributable,
		Entries:         make([]types.PayoutEntry, 0, len(eligible)),
		TotalTokens:     totalTokens,
		EligibleHolders: len(eligible),
	}

	amount := new(big.Int).SetUint64(distributable)
	share := new(big.Int)
	var distributed uint64
	for _, h := range eligible {
		// share = distributable * balance / totalTokens
		share.Mul(amount, h.Balance)
		share.Quo(share, totalTokens)

		// share <= distributable, so it always fits.
		lamports := share.Uint64()
		if lamports < dustThreshold || lamports == 0 {
			plan.DustExcluded++
			continue
		}
		plan.Entries = append(plan.Entries, types.PayoutEntry{
			Owner:    h.Owner,
			Lamports: lamports,
		})
		distributed += lamports
	}

	plan.Leftover = distributable - distributed

	return plan, nil
}
