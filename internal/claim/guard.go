package claim

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/djkazic/creatorsplit/internal/ledger"
	"github.com/djkazic/creatorsplit/internal/metrics"
	"github.com/djkazic/creatorsplit/internal/store"
	"github.com/djkazic/creatorsplit/internal/txbuild"
	"github.com/djkazic/creatorsplit/internal/types"
	"github.com/djkazic/creatorsplit/pkg/util"
)

// State is a step of the per-cycle claim state machine.
type State string

const (
	StateCheckBalance      State = "check_balance"
	StateClaimSubmitted    State = "claim_submitted"
	StateDuplicateDetected State = "duplicate_detected"
	StateRecorded          State = "recorded"
	StateDistribute        State = "distribute"
	StateSkipped           State = "skipped"
	StateDistributed       State = "distributed"
)

// ErrDuplicateClaim reports that the claim signature is already the recorded
// one, so this cycle is replaying state a previous run already handled.
var ErrDuplicateClaim = errors.New("claim signature already recorded")

// ClaimError reports a claim that could not be built or submitted. No funds
// moved as a result of this cycle.
type ClaimError struct {
	Err error
}

func (e *ClaimError) Error() string {
	return "claim failed: " + e.Err.Error()
}

func (e *ClaimError) Unwrap() error {
	return e.Err
}

// Decision is the result of the balance check.
type Decision struct {
	State        State
	Vault        solana.PublicKey
	VaultBalance uint64
	Threshold    uint64
}

// Outcome is the result of a claim attempt.
type Outcome struct {
	State     State
	Signature string
	Claimed   uint64
	Previous  *types.ClaimRecord
	Fee       types.FeeEstimate
	// LogErr is set when the claim was recorded but its audit entry was not.
	LogErr error
}

// Config configures a Guard.
type Config struct {
	Client    ledger.Client
	Builder   *txbuild.Builder
	Store     store.Store
	ProgramID solana.PublicKey
	Mint      solana.PublicKey
	Threshold uint64
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

// Guard decides whether a cycle claims and keeps a claim from being
// distributed twice.
type Guard struct {
	client    ledger.Client
	builder   *txbuild.Builder
	store     store.Store
	programID solana.PublicKey
	vault     solana.PublicKey
	threshold uint64
	clock     clockwork.Clock
	logger    *zap.Logger
}

// NewGuard creates a Guard and derives the reward vault address.
func NewGuard(cfg Config) (*Guard, error) {
	vault, err := ledger.RewardVault(cfg.ProgramID, cfg.Mint)
	if err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Builder == nil {
		cfg.Builder = txbuild.NewBuilder(cfg.Client, cfg.Logger)
	}
	return &Guard{
		client:    cfg.Client,
		builder:   cfg.Builder,
		store:     cfg.Store,
		programID: cfg.ProgramID,
		vault:     vault,
		threshold: cfg.Threshold,
		clock:     cfg.Clock,
		logger:    cfg.Logger.Named("claim"),
	}, nil
}

// Vault returns the reward vault whose balance gates the claim.
func (g *Guard) Vault() solana.PublicKey {
	return g.vault
}

// Check reads the unclaimed vault balance. Below the threshold the decision
// is StateSkipped and nothing is written.
func (g *Guard) Check(ctx context.Context) (Decision, error) {
	d := Decision{State: StateCheckBalance, Vault: g.vault, Threshold: g.threshold}

	balance, err := g.client.GetBalance(ctx, g.vault)
	if err != nil {
		d.State = StateSkipped
		return d, fmt.Errorf("read reward vault balance: %w", err)
	}
	d.VaultBalance = balance

	g.logger.Info("checked reward vault",
		zap.String("vault", g.vault.String()),
		zap.Uint64("unclaimed", balance),
		zap.String("unclaimed_sol", util.FormatSOL(balance)),
		zap.Uint64("threshold", g.threshold),
	)

	if balance < g.threshold {
		d.State = StateSkipped
		g.logger.Info("unclaimed balance below threshold, skipping")
		return d, nil
	}
	if balance == 0 {
		g.logger.Info("reward vault empty, nothing to claim this cycle")
	}
	d.State = StateClaimSubmitted
	return d, nil
}

// Claim submits the claim instruction and records its signature. claimed is
// the vault balance observed by Check.
//
// The returned state is StateDistribute only if the claim was accepted and
// recorded against the previous record by compare-and-swap. A repeated
// signature yields StateSkipped with ErrDuplicateClaim. A submit failure
// yields StateSkipped with a ClaimError. A failed or lost swap yields
// StateSkipped with a store.PersistenceError, since the claim landed but the
// bookkeeping did not.
func (g *Guard) Claim(ctx context.Context, claimed uint64) (Outcome, error) {
	out := Outcome{State: StateSkipped, Claimed: claimed}
	payer := g.client.Payer()

	ix, err := ledger.NewClaimInstruction(g.programID, payer)
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues("failed").Inc()
		return out, &ClaimError{Err: err}
	}
	tx, fee, err := g.builder.Build(ctx, payer, []solana.Instruction{ix})
	out.Fee = fee
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues("failed").Inc()
		return out, &ClaimError{Err: err}
	}

	sig, err := g.client.Submit(ctx, tx)
	if err != nil {
		result := "failed"
		if ledger.IsOutcomeUnknown(err) {
			result = "unknown"
		}
		metrics.ClaimsTotal.WithLabelValues(result).Inc()
		g.logger.Error("claim submission failed", zap.Uint64("unclaimed", claimed), zap.Error(err))
		return out, &ClaimError{Err: err}
	}
	out.Signature = sig
	g.logger.Info("claim submitted", zap.String("signature", sig), zap.String("short", util.ShortSig(sig)))

	// The claim is on chain now. Record it even if ctx has ended.
	writeCtx, cancel := store.DetachedContext(ctx)
	defer cancel()

	prev, err := g.store.LastClaim(writeCtx)
	if err != nil {
		metrics.ClaimsTotal.WithLabelValues("unrecorded").Inc()
		metrics.PersistenceErrors.Inc()
		g.logger.Error("claim submitted but previous record unreadable, withholding distribution",
			zap.String("signature", sig), zap.Uint64("lamports", claimed), zap.Error(err))
		return out, &store.PersistenceError{Op: "read claim record", Signature: sig, Err: err}
	}
	out.Previous = prev

	prevSig := ""
	if prev != nil {
		prevSig = prev.Signature
	}
	if prevSig == sig {
		metrics.ClaimsTotal.WithLabelValues("duplicate").Inc()
		g.logger.Info("claim signature already recorded, skipping distribution", zap.String("signature", sig))
		return out, ErrDuplicateClaim
	}

	rec := types.ClaimRecord{Signature: sig, ClaimedLamports: claimed, Timestamp: g.clock.Now()}
	if err := g.store.RecordClaim(writeCtx, prevSig, rec); err != nil {
		metrics.ClaimsTotal.WithLabelValues("unrecorded").Inc()
		metrics.PersistenceErrors.Inc()
		g.logger.Error("claim submitted but not recorded, withholding distribution",
			zap.String("signature", sig),
			zap.String("previous", prevSig),
			zap.Uint64("lamports", claimed),
			zap.Error(err),
		)
		return out, &store.PersistenceError{Op: "record claim", Signature: sig, Err: err}
	}
	metrics.ClaimsTotal.WithLabelValues("recorded").Inc()

	entry := types.DisbursementLogEntry{
		Kind:            types.LogKindClaim,
		Signature:       sig,
		Timestamp:       rec.Timestamp,
		ClaimedLamports: claimed,
	}
	if _, err := g.store.AppendLog(writeCtx, entry); err != nil {
		out.LogErr = &store.PersistenceError{Op: "append claim log", Signature: sig, Err: err}
		metrics.PersistenceErrors.Inc()
		g.logger.Error("claim recorded but audit entry failed",
			zap.String("signature", sig), zap.Uint64("lamports", claimed), zap.Error(err))
	}

	out.State = StateDistribute
	return out, nil
}
