package txbuild

import (
	"context"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/djkazic/creatorsplit/internal/ledger"
	"github.com/djkazic/creatorsplit/internal/metrics"
	"github.com/djkazic/creatorsplit/internal/types"
)

// Priority fee bounds, in micro-lamports per compute unit.
const (
	DefaultPriorityFee uint64 = 20
	MinPriorityFee     uint64 = 5
	MaxPriorityFee     uint64 = 100
)

// Compute budget defaults.
const (
	ComputeUnitHeadroom     uint32 = 10_000
	DefaultComputeUnits     uint32 = 200_000
	DefaultComputeUnitLimit        = DefaultComputeUnits + ComputeUnitHeadroom
	// MaxComputeUnitLimit is the per-transaction cap enforced by the runtime.
	MaxComputeUnitLimit uint32 = 1_400_000
)

// PriorityFee picks a bid from recent fee samples: one unit above the 75th
// percentile, clamped to [MinPriorityFee, MaxPriorityFee]. An empty sample
// gives DefaultPriorityFee.
func PriorityFee(samples []uint64) uint64 {
	if len(samples) == 0 {
		return DefaultPriorityFee
	}
	sorted := append([]uint64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	fee := sorted[len(sorted)*3/4]
	if fee < MaxPriorityFee {
		fee++
	}
	return clamp(fee, MinPriorityFee, MaxPriorityFee)
}

func clamp(v, lo, hi uint64) uint64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ComputeUnitLimit adds headroom to a simulated consumption and caps it at
// the runtime maximum.
func ComputeUnitLimit(consumed uint64) uint32 {
	limit := consumed + uint64(ComputeUnitHeadroom)
	if limit > uint64(MaxComputeUnitLimit) {
		return MaxComputeUnitLimit
	}
	return uint32(limit)
}

// Builder wraps domain instructions with a priority fee and compute budget.
// It never submits.
type Builder struct {
	client ledger.Client
	logger *zap.Logger
}

// NewBuilder creates a transaction builder.
func NewBuilder(client ledger.Client, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{
		client: client,
		logger: logger.Named("txbuild"),
	}
}

// Build returns a transaction carrying SetComputeUnitPrice,
// SetComputeUnitLimit and then ixs, paid for by payer. Fee and simulation
// failures fall back to defaults and never fail the build.
func (b *Builder) Build(ctx context.Context, payer solana.PublicKey, ixs []solana.Instruction) (*ledger.Transaction, types.FeeEstimate, error) {
	est := types.FeeEstimate{
		MicroLamportsPerUnit: b.priorityFee(ctx),
		ComputeUnitLimit:     b.computeUnitLimit(ctx, payer, ixs),
	}

	priceIx, err := ledger.NewComputeUnitPriceInstruction(est.MicroLamportsPerUnit)
	if err != nil {
		return nil, est, fmt.Errorf("build transaction: %w", err)
	}
	limitIx, err := ledger.NewComputeUnitLimitInstruction(est.ComputeUnitLimit)
	if err != nil {
		return nil, est, fmt.Errorf("build transaction: %w", err)
	}

	all := make([]solana.Instruction, 0, len(ixs)+2)
	all = append(all, priceIx, limitIx)
	all = append(all, ixs...)

	metrics.PriorityFee.Set(float64(est.MicroLamportsPerUnit))
	b.logger.Debug("built transaction",
		zap.Int("instructions", len(ixs)),
		zap.Uint64("micro_lamports_per_unit", est.MicroLamportsPerUnit),
		zap.Uint32("compute_unit_limit", est.ComputeUnitLimit),
	)

	return &ledger.Transaction{FeePayer: payer, Instructions: all}, est, nil
}

func (b *Builder) priorityFee(ctx context.Context) uint64 {
	samples, err := b.client.RecentPriorityFees(ctx)
	if err != nil {
		b.logger.Warn("priority fee query failed, using default",
			zap.Uint64("fee", DefaultPriorityFee),
			zap.Error(err),
		)
		return DefaultPriorityFee
	}
	return PriorityFee(samples)
}

func (b *Builder) computeUnitLimit(ctx context.Context, payer solana.PublicKey, ixs []solana.Instruction) uint32 {
	consumed, err := b.client.Simulate(ctx, payer, ixs)
	if err != nil || consumed == 0 {
		b.logger.Warn("simulation failed, using default compute limit",
			zap.Uint32("limit", DefaultComputeUnitLimit),
			zap.Error(err),
		)
		return DefaultComputeUnitLimit
	}
	return ComputeUnitLimit(consumed)
}
