package das

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/djkazic/creatorsplit/internal/metrics"
	"github.com/djkazic/creatorsplit/internal/payout"
	"github.com/djkazic/creatorsplit/internal/retry"
	"github.com/djkazic/creatorsplit/internal/types"
)

const (
	// PageSize is the number of token accounts requested per page.
	PageSize = 1000
	// MaxPages caps a snapshot at roughly 100k token accounts.
	MaxPages = 100
	// DefaultRequestsPerSecond paces page requests against the indexer.
	DefaultRequestsPerSecond = 10
)

// FetchError reports a failed page request. No partial snapshot accompanies it.
type FetchError struct {
	Page       int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch holders page %d (HTTP %d): %v", e.Page, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch holders page %d: %v", e.Page, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Snapshot is the deduplicated holder set for one cycle.
type Snapshot struct {
	// Holders has one entry per owner, sorted by owner.
	Holders     []types.HolderBalance
	RawAccounts int
	// Pages counts pages that returned accounts. Requests also counts the
	// terminating empty page.
	Pages    int
	Requests int
	// Truncated is set when the page cap stopped the scan before an empty page.
	Truncated bool
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Index             Index
	RequestsPerSecond float64
	Retry             retry.Config
	PageSize          int
	MaxPages          int
	Logger            *zap.Logger
}

// Fetcher pages through an Index and builds a holder snapshot.
type Fetcher struct {
	index    Index
	limiter  *rate.Limiter
	retry    retry.Config
	pageSize int
	maxPages int
	logger   *zap.Logger
}

// NewFetcher creates a Fetcher, filling zero config fields with defaults.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = PageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = MaxPages
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Fetcher{
		index:    cfg.Index,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		retry:    cfg.Retry,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		logger:   cfg.Logger.Named("das"),
	}
}

// Fetch scans every page of token accounts for mint, stopping at the first
// empty page or at the page cap, and sums balances per owner.
func (f *Fetcher) Fetch(ctx context.Context, mint string) (*Snapshot, error) {
	var raw []types.HolderBalance
	snap := &Snapshot{}

	for page := 1; ; page++ {
		if page > f.maxPages {
			snap.Truncated = true
			metrics.SnapshotTruncated.Inc()
			f.logger.Warn("holder page cap reached, snapshot may be incomplete",
				zap.Int("max_pages", f.maxPages),
				zap.Int("raw_accounts", len(raw)),
			)
			break
		}

		accounts, err := f.fetchPage(ctx, mint, page)
		if err != nil {
			return nil, err
		}
		snap.Requests++
		metrics.DASPagesFetched.Inc()

		f.logger.Debug("fetched holder page",
			zap.Int("page", page),
			zap.Int("accounts", len(accounts)),
		)
		if len(accounts) == 0 {
			break
		}
		snap.Pages++

		for _, acct := range accounts {
			raw = append(raw, types.HolderBalance{
				Owner:   acct.Owner,
				Balance: new(big.Int).Set(&acct.Amount.Int),
			})
		}
	}

	snap.RawAccounts = len(raw)
	snap.Holders = payout.Aggregate(raw)

	f.logger.Info("holder snapshot complete",
		zap.Int("raw_accounts", snap.RawAccounts),
		zap.Int("unique_owners", len(snap.Holders)),
		zap.Int("pages", snap.Pages),
		zap.Bool("truncated", snap.Truncated),
	)
	return snap, nil
}

func (f *Fetcher) fetchPage(ctx context.Context, mint string, page int) ([]TokenAccount, error) {
	var accounts []TokenAccount
	err := retry.Do(ctx, f.retry, f.logger, fmt.Sprintf("getTokenAccounts page %d", page), func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		accounts, err = f.index.TokenAccounts(ctx, mint, page, f.pageSize)
		return err
	})
	if err != nil {
		fe := &FetchError{Page: page, Err: err}
		var se *StatusError
		if errors.As(err, &se) {
			fe.StatusCode = se.Code
		}
		return nil, fe
	}
	return accounts, nil
}
