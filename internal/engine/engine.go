package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/djkazic/creatorsplit/internal/claim"
	"github.com/djkazic/creatorsplit/internal/das"
	"github.com/djkazic/creatorsplit/internal/disburse"
	"github.com/djkazic/creatorsplit/internal/ledger"
	"github.com/djkazic/creatorsplit/internal/lock"
	"github.com/djkazic/creatorsplit/internal/metrics"
	"github.com/djkazic/creatorsplit/internal/payout"
	"github.com/djkazic/creatorsplit/internal/store"
	"github.com/djkazic/creatorsplit/internal/txbuild"
	"github.com/djkazic/creatorsplit/internal/types"
	"github.com/djkazic/creatorsplit/pkg/util"
)

const (
	// MinFeeReserve is the floor kept back from the payer balance for fees.
	MinFeeReserve uint64 = 2_000_000
	// DefaultFeeReserve applies when no reserve is configured.
	DefaultFeeReserve uint64 = 5_000_000

	releaseTimeout = 10 * time.Second
)

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeLocked         Outcome = "locked"
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeFetchFailed    Outcome = "fetch_failed"
	OutcomeEmpty          Outcome = "empty"
	OutcomeClaimFailed    Outcome = "claim_failed"
	OutcomeDuplicateClaim Outcome = "duplicate_claim"
	OutcomeBelowReserve   Outcome = "below_reserve"
	OutcomeDistributed    Outcome = "distributed"
)

// Config wires the engine's collaborators.
type Config struct {
	Client  ledger.Client
	Fetcher *das.Fetcher
	Store   store.Store
	// Locker defaults to a lease in Store.
	Locker lock.Locker

	ProgramID solana.PublicKey
	Mint      solana.PublicKey

	ClaimThreshold uint64
	FeeReserve     uint64
	DustThreshold  uint64
	Blacklist      map[string]struct{}

	LockTTL    time.Duration
	MaxBatches int

	Clock  clockwork.Clock
	Logger *zap.Logger
}

// Validate reports the first missing or inconsistent field.
func (c *Config) Validate() error {
	if c.Client == nil {
		return errors.New("ledger client is required")
	}
	if c.Fetcher == nil {
		return errors.New("holder fetcher is required")
	}
	if c.Store == nil {
		return errors.New("state store is required")
	}
	if c.ProgramID.IsZero() {
		return errors.New("claim program id is required")
	}
	if c.Mint.IsZero() {
		return errors.New("token mint is required")
	}
	if c.LockTTL < 0 {
		return errors.New("lock ttl must not be negative")
	}
	if c.MaxBatches < 0 {
		return errors.New("max batches must not be negative")
	}
	return nil
}

// CycleReport describes one cycle for logs and callers.
type CycleReport struct {
	RunID      string
	Outcome    Outcome
	StartedAt  time.Time
	FinishedAt time.Time

	VaultBalance uint64
	ClaimState   claim.State
	ClaimSig     string

	Pages            int
	Truncated        bool
	HoldersEligible  int
	PayerBalance     uint64
	Distributable    uint64
	Plan             *types.PayoutPlan
	Disbursement     *disburse.Result
	Metrics          *types.RunMetrics
	PersistenceError error
}

// Engine runs distribution cycles.
type Engine struct {
	client    ledger.Client
	fetcher   *das.Fetcher
	store     store.Store
	locker    lock.Locker
	guard     *claim.Guard
	disburser *disburse.Disburser

	mint      solana.PublicKey
	reserve   uint64
	dust      uint64
	blacklist map[string]struct{}
	lockTTL   time.Duration

	clock  clockwork.Clock
	logger *zap.Logger
}

// New validates cfg and assembles an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Locker == nil {
		cfg.Locker = lock.NewStoreLocker(cfg.Store, lock.DefaultName, cfg.Clock)
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = lock.DefaultTTL
	}
	if cfg.FeeReserve == 0 {
		cfg.FeeReserve = DefaultFeeReserve
	}
	if cfg.DustThreshold == 0 {
		cfg.DustThreshold = payout.DefaultDustThreshold
	}

	builder := txbuild.NewBuilder(cfg.Client, cfg.Logger)
	guard, err := claim.NewGuard(claim.Config{
		Client:    cfg.Client,
		Builder:   builder,
		Store:     cfg.Store,
		ProgramID: cfg.ProgramID,
		Mint:      cfg.Mint,
		Threshold: cfg.ClaimThreshold,
		Clock:     cfg.Clock,
		Logger:    cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Engine{
		client:  cfg.Client,
		fetcher: cfg.Fetcher,
		store:   cfg.Store,
		locker:  cfg.Locker,
		guard:   guard,
		disburser: disburse.New(disburse.Config{
			Client:     cfg.Client,
			Builder:    builder,
			Store:      cfg.Store,
			Clock:      cfg.Clock,
			Logger:     cfg.Logger,
			MaxBatches: cfg.MaxBatches,
		}),
		mint:      cfg.Mint,
		reserve:   max(MinFeeReserve, cfg.FeeReserve),
		dust:      cfg.DustThreshold,
		blacklist: types.NormalizeBlacklist(cfg.Blacklist),
		lockTTL:   cfg.LockTTL,
		clock:     cfg.Clock,
		logger:    cfg.Logger.Named("engine"),
	}, nil
}

// RunCycle runs one claim-and-distribute cycle under the run lease. The error
// is non-nil when the cycle aborted, and also when bookkeeping failed or a
// batch outcome is unknown after funds moved. The report is always returned.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{RunID: uuid.NewString(), StartedAt: e.clock.Now()}
	logger := e.logger.With(zap.String("run_id", report.RunID))

	err := e.runLocked(ctx, report, logger)

	report.FinishedAt = e.clock.Now()
	metrics.CyclesTotal.WithLabelValues(string(report.Outcome)).Inc()
	metrics.LastCycleTimestamp.Set(float64(report.FinishedAt.Unix()))

	fields := []zap.Field{
		zap.String("outcome", string(report.Outcome)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	}
	if err != nil {
		logger.Error("cycle finished with errors", append(fields, zap.Error(err))...)
	} else {
		logger.Info("cycle finished", fields...)
	}
	return report, err
}

func (e *Engine) runLocked(ctx context.Context, report *CycleReport, logger *zap.Logger) error {
	ok, err := e.locker.TryLock(ctx, report.RunID, e.lockTTL)
	if err != nil {
		report.Outcome = OutcomeLocked
		return fmt.Errorf("acquire cycle lease: %w", err)
	}
	if !ok {
		report.Outcome = OutcomeLocked
		logger.Info("another run holds the cycle lease, skipping")
		return lock.ErrLocked
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if err := e.locker.Unlock(releaseCtx, report.RunID); err != nil {
			logger.Warn("failed to release cycle lease", zap.Error(err))
		}
	}()

	return e.run(ctx, report, logger)
}

func (e *Engine) run(ctx context.Context, report *CycleReport, logger *zap.Logger) error {
	decision, err := e.guard.Check(ctx)
	report.ClaimState = decision.State
	report.VaultBalance = decision.VaultBalance
	if err != nil {
		report.Outcome = OutcomeFetchFailed
		return err
	}
	if decision.State == claim.StateSkipped {
		report.Outcome = OutcomeBelowThreshold
		return nil
	}

	snap, err := e.fetcher.Fetch(ctx, e.mint.String())
	if err != nil {
		report.Outcome = OutcomeFetchFailed
		logger.Error("holder snapshot failed, no funds moved", zap.Error(err))
		return err
	}
	report.Pages = snap.Pages
	report.Truncated = snap.Truncated

	eligible, totalTokens := payout.Eligible(snap.Holders, e.blacklist)
	report.HoldersEligible = len(eligible)
	metrics.HoldersProcessed.Set(float64(len(eligible)))
	logger.Info("eligible holders",
		zap.Int("eligible", len(eligible)),
		zap.Int("excluded", len(snap.Holders)-len(eligible)),
		zap.String("total_tokens", totalTokens.String()),
	)
	if len(eligible) == 0 || totalTokens.Sign() == 0 {
		report.Outcome = OutcomeEmpty
		logger.Info("no eligible holders, skipping claim")
		return nil
	}

	out, err := e.guard.Claim(ctx, decision.VaultBalance)
	report.ClaimState = out.State
	report.ClaimSig = out.Signature
	switch {
	case errors.Is(err, claim.ErrDuplicateClaim):
		report.Outcome = OutcomeDuplicateClaim
		return nil
	case err != nil:
		report.Outcome = OutcomeClaimFailed
		var perr *store.PersistenceError
		if errors.As(err, &perr) {
			report.PersistenceError = err
		}
		return err
	}

	balance, err := e.client.GetBalance(ctx, e.client.Payer())
	if err != nil {
		// The claim is recorded; the funds stay with the payer and are picked
		// up by the next cycle's balance read.
		report.Outcome = OutcomeFetchFailed
		logger.Error("payer balance unavailable after claim, distribution deferred",
			zap.String("claim_signature", out.Signature), zap.Error(err))
		return errors.Join(fmt.Errorf("read payer balance: %w", err), out.LogErr)
	}
	report.PayerBalance = balance
	if balance <= e.reserve {
		report.Outcome = OutcomeBelowReserve
		logger.Info("payer balance within fee reserve, skipping distribution",
			zap.Uint64("balance", balance),
			zap.Uint64("reserve", e.reserve),
			zap.Uint64("shortfall", e.reserve-balance),
		)
		report.PersistenceError = out.LogErr
		return out.LogErr
	}
	report.Distributable = balance - e.reserve

	plan, err := payout.Compute(eligible, e.blacklist, report.Distributable, e.dust)
	if err != nil {
		report.Outcome = OutcomeEmpty
		if errors.Is(err, payout.ErrEmptyDistribution) {
			return out.LogErr
		}
		return errors.Join(err, out.LogErr)
	}
	report.Plan = plan
	logger.Info("payout plan computed",
		zap.Int("recipients", len(plan.Entries)),
		zap.Int("dust_excluded", plan.DustExcluded),
		zap.Uint64("plan_leftover", plan.Leftover),
	)

	res, disburseErr := e.disburser.Disburse(ctx, plan)
	report.Disbursement = res
	report.Outcome = OutcomeDistributed
	report.ClaimState = claim.StateDistributed

	// Record metrics even if ctx is done; batches may already have landed.
	writeCtx, cancelWrite := store.DetachedContext(ctx)
	defer cancelWrite()
	errs := []error{disburseErr, out.LogErr}
	m := types.RunMetrics{
		Timestamp:        e.clock.Now(),
		HoldersProcessed: len(eligible),
		SubRequestsUsed:  snap.Pages + 1,
	}
	if res != nil {
		m.BatchesSent = res.Accepted()
		m.SubRequestsUsed += len(res.Batches)
		errs = append(errs, res.PersistenceErrors...)
		for _, b := range res.Batches {
			if b.Status == disburse.StatusUnknown {
				errs = append(errs, fmt.Errorf("batch %d: %w", b.Index, b.Err))
			}
		}
	}
	report.Metrics = &m
	if err := e.store.RecordRunMetrics(writeCtx, m); err != nil {
		metrics.PersistenceErrors.Inc()
		logger.Error("failed to record run metrics", zap.Error(err))
		errs = append(errs, &store.PersistenceError{Op: "record run metrics", Signature: out.Signature, Err: err})
	}

	var persistErrs []error
	for _, err := range errs {
		var perr *store.PersistenceError
		if errors.As(err, &perr) {
			persistErrs = append(persistErrs, err)
		}
	}
	report.PersistenceError = errors.Join(persistErrs...)

	if res != nil {
		logger.Info("distribution complete",
			zap.Int("batches_sent", m.BatchesSent),
			zap.Int("batches_attempted", len(res.Batches)),
			zap.Uint64("total_sent", res.TotalSent),
			zap.String("total_sent_sol", util.FormatSOL(res.TotalSent)),
			zap.Uint64("leftover", res.Leftover),
			zap.Int("deferred", res.Deferred),
			zap.Int("sub_requests", m.SubRequestsUsed),
		)
	}
	return errors.Join(errs...)
}
