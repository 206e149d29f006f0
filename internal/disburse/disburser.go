package disburse

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

const (
	// MaxInstructions is the number of transfers packed into one transaction.
	MaxInstructions = 20
	// MaxBatches caps the transactions submitted in one run. Holders past the
	// cap are paid from a fresh snapshot next cycle.
	MaxBatches = 500
)

// Status is the outcome of one batch submission.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusFailed    Status = "failed"
	StatusUnknown   Status = "unknown"
)

// BatchOutcome records what happened to one batch.
type BatchOutcome struct {
	Index      int
	Status     Status
	Signature  string
	Recipients []types.Recipient
	Lamports   uint64
	Fee        types.FeeEstimate
	Err        error
}

// Result summarizes a disbursement run.
type Result struct {
	Batches []BatchOutcome

	// TotalSent counts lamports in accepted batches only.
	TotalSent uint64
	// Leftover is Distributable - TotalSent. It includes the plan's own
	// leftover, unsent shares and shares in failed or unknown batches.
	Leftover uint64
	// UnknownLamports were in batches whose outcome is unknown. They may
	// have landed.
	UnknownLamports uint64

	Recipients int
	// Deferred entries were never submitted: past the batch cap or after a
	// halt.
	Deferred int
	// Skipped entries had an owner that is not a valid address.
	Skipped int
	// Halted is set when an unknown outcome stopped the run.
	Halted bool

	PersistenceErrors []error
}

// Accepted returns the number of batches the endpoint accepted.
func (r *Result) Accepted() int {
	n := 0
	for _, b := range r.Batches {
		if b.Status == StatusSubmitted {
			n++
		}
	}
	return n
}

// Config configures a Disburser.
type Config struct {
	Client          ledger.Client
	Builder         *txbuild.Builder
	Store           store.Store
	Clock           clockwork.Clock
	Logger          *zap.Logger
	MaxInstructions int
	MaxBatches      int
}

// Disburser submits a payout plan as batched transfer transactions.
type Disburser struct {
	client          ledger.Client
	builder         *txbuild.Builder
	store           store.Store
	clock           clockwork.Clock
	logger          *zap.Logger
	maxInstructions int
	maxBatches      int
}

// New creates a Disburser.
func New(cfg Config) *Disburser {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Builder == nil {
		cfg.Builder = txbuild.NewBuilder(cfg.Client, cfg.Logger)
	}
	if cfg.MaxInstructions <= 0 {
		cfg.MaxInstructions = MaxInstructions
	}
	if cfg.MaxBatches <= 0 {
		cfg.MaxBatches = MaxBatches
	}
	return &Disburser{
		client:          cfg.Client,
		builder:         cfg.Builder,
		store:           cfg.Store,
		clock:           cfg.Clock,
		logger:          cfg.Logger.Named("disburse"),
		maxInstructions: cfg.MaxInstructions,
		maxBatches:      cfg.MaxBatches,
	}
}

type transfer struct {
	entry types.PayoutEntry
	ix    solana.Instruction
}

// Disburse submits plan in order, MaxInstructions transfers per transaction,
// logging each accepted batch before the next is built. Each batch is
// submitted at most once. A rejected batch is skipped; an unknown outcome
// stops the run. The returned error is non-nil only if the plan is unusable
// or ctx ends the run early; the Result is valid either way.
func (d *Disburser) Disburse(ctx context.Context, plan *types.PayoutPlan) (*Result, error) {
	if plan == nil {
		return nil, errors.New("nil payout plan")
	}
	res := &Result{Leftover: plan.Distributable}
	payer := d.client.Payer()

	transfers := make([]transfer, 0, len(plan.Entries))
	for _, e := range plan.Entries {
		to, err := solana.PublicKeyFromBase58(e.Owner)
		if err != nil {
			res.Skipped++
			d.logger.Warn("skipping holder with invalid address",
				zap.String("owner", e.Owner),
				zap.Uint64("lamports", e.Lamports),
				zap.Error(err),
			)
			continue
		}
		ix, err := ledger.NewTransferInstruction(payer, to, e.Lamports)
		if err != nil {
			res.Skipped++
			d.logger.Warn("skipping holder", zap.String("owner", e.Owner), zap.Error(err))
			continue
		}
		transfers = append(transfers, transfer{entry: e, ix: ix})
	}

	d.logger.Info("starting distribution",
		zap.Int("holders", len(transfers)),
		zap.Uint64("distributable", plan.Distributable),
		zap.String("distributable_sol", util.FormatSOL(plan.Distributable)),
	)

	var runErr error
	for start := 0; start < len(transfers); start += d.maxInstructions {
		end := min(start+d.maxInstructions, len(transfers))
		index := len(res.Batches)

		if index >= d.maxBatches {
			res.Deferred = len(transfers) - start
			d.logger.Info("batch cap reached, remaining holders wait for next cycle",
				zap.Int("max_batches", d.maxBatches),
				zap.Int("deferred", res.Deferred),
			)
			break
		}
		if err := ctx.Err(); err != nil {
			res.Deferred = len(transfers) - start
			runErr = fmt.Errorf("disbursement interrupted: %w", err)
			break
		}

		outcome := d.sendBatch(ctx, index, payer, transfers[start:end], res)
		res.Batches = append(res.Batches, outcome)

		if outcome.Status == StatusUnknown {
			res.Halted = true
			res.Deferred = len(transfers) - end
			d.logger.Error("halting distribution after unknown submission outcome",
				zap.Int("batch", index),
				zap.Int("deferred", res.Deferred),
			)
			break
		}
	}

	res.Leftover = plan.Distributable - res.TotalSent
	if res.Leftover > 0 {
		d.logger.Info("leftover retained by payer",
			zap.Uint64("lamports", res.Leftover),
			zap.String("sol", util.FormatSOL(res.Leftover)),
		)
	}
	return res, runErr
}

func (d *Disburser) sendBatch(ctx context.Context, index int, payer solana.PublicKey, batch []transfer, res *Result) BatchOutcome {
	ixs := make([]solana.Instruction, len(batch))
	outcome := BatchOutcome{
		Index:      index,
		Recipients: make([]types.Recipient, len(batch)),
	}
	for i, t := range batch {
		ixs[i] = t.ix
		outcome.Recipients[i] = types.Recipient{Owner: t.entry.Owner, LamportsSent: t.entry.Lamports}
		outcome.Lamports += t.entry.Lamports
	}

	d.logger.Debug("sending batch", zap.Int("batch", index), zap.Int("recipients", len(batch)))

	tx, fee, err := d.builder.Build(ctx, payer, ixs)
	outcome.Fee = fee
	if err != nil {
		outcome.Status = StatusFailed
		outcome.Err = err
		metrics.BatchesTotal.WithLabelValues(string(StatusFailed)).Inc()
		d.logger.Warn("batch build failed", zap.Int("batch", index), zap.Error(err))
		return outcome
	}

	sig, err := d.client.Submit(ctx, tx)
	switch {
	case ledger.IsOutcomeUnknown(err):
		outcome.Status = StatusUnknown
		outcome.Err = err
		res.UnknownLamports += outcome.Lamports
		metrics.BatchesTotal.WithLabelValues(string(StatusUnknown)).Inc()
		d.logger.Error("batch outcome unknown, reconcile manually",
			zap.Int("batch", index),
			zap.Uint64("lamports", outcome.Lamports),
			zap.Any("recipients", outcome.Recipients),
			zap.Error(err),
		)
		return outcome
	case err != nil:
		outcome.Status = StatusFailed
		outcome.Err = err
		metrics.BatchesTotal.WithLabelValues(string(StatusFailed)).Inc()
		d.logger.Warn("batch rejected",
			zap.Int("batch", index),
			zap.Uint64("lamports", outcome.Lamports),
			zap.Error(err),
		)
		return outcome
	}

	outcome.Status = StatusSubmitted
	outcome.Signature = sig
	res.TotalSent += outcome.Lamports
	res.Recipients += len(batch)
	metrics.BatchesTotal.WithLabelValues(string(StatusSubmitted)).Inc()
	metrics.LamportsDistributed.Add(float64(outcome.Lamports))
	d.logger.Info("batch submitted",
		zap.Int("batch", index),
		zap.String("signature", sig),
		zap.Int("recipients", len(batch)),
		zap.Uint64("lamports", outcome.Lamports),
	)

	d.record(ctx, outcome, res)
	return outcome
}

// record appends the audit entry for an accepted batch. The transfer has
// already happened, so a failure is collected rather than returned.
func (d *Disburser) record(ctx context.Context, outcome BatchOutcome, res *Result) {
	entry := types.DisbursementLogEntry{
		Kind:       types.LogKindDisbursement,
		Signature:  outcome.Signature,
		Timestamp:  d.clock.Now(),
		Recipients: outcome.Recipients,
	}
	writeCtx, cancel := store.DetachedContext(ctx)
	defer cancel()
	inserted, err := d.store.AppendLog(writeCtx, entry)
	if err != nil {
		perr := &store.PersistenceError{Op: "append disbursement log", Signature: outcome.Signature, Err: err}
		res.PersistenceErrors = append(res.PersistenceErrors, perr)
		metrics.PersistenceErrors.Inc()
		d.logger.Error("failed to log submitted batch",
			zap.String("signature", outcome.Signature),
			zap.Uint64("lamports", outcome.Lamports),
			zap.Any("recipients", outcome.Recipients),
			zap.Error(err),
		)
		return
	}
	if !inserted {
		d.logger.Warn("batch signature already logged", zap.String("signature", outcome.Signature))
	}
}
