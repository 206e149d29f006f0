package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/djkazic/creatorsplit/internal/types"
)

// Well-known keys in the stats table.
const (
	KeyLastClaimSig      = "last_claim_sig"
	KeyLastClaimTS       = "last_claim_ts"
	KeyLastClaimLamports = "last_claim_lamports"
	KeyMetricsLastRun    = "metrics_last_run"
)

// ErrClaimConflict is returned by RecordClaim when last_claim_sig no longer
// holds the expected previous value.
var ErrClaimConflict = errors.New("claim record changed concurrently")

// PersistenceError reports a state write that failed after an on-chain
// action already happened. Bookkeeping may be inconsistent with the chain.
type PersistenceError struct {
	Op        string
	Signature string
	Err       error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for %s: %v", e.Op, e.Signature, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// WriteTimeout bounds a state write that follows an on-chain action.
const WriteTimeout = 10 * time.Second

// DetachedContext returns a context for a write that must run even when ctx
// is already cancelled or past its deadline. It keeps ctx's values and is
// bounded by WriteTimeout instead.
func DetachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), WriteTimeout)
}

// Store is the persistent state behind the engine: a key/value stats table,
// an append-only audit log keyed by transaction signature, and named leases.
type Store interface {
	// Get returns the value stored under key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Put overwrites key.
	Put(ctx context.Context, key, value string) error

	// AppendLog inserts entry keyed by its signature. It reports false, and
	// changes nothing, when the signature is already logged.
	AppendLog(ctx context.Context, entry types.DisbursementLogEntry) (bool, error)
	// ReadLogs returns up to limit entries, newest first.
	ReadLogs(ctx context.Context, limit int) ([]types.DisbursementLogEntry, error)

	// LastClaim returns the current claim record, or nil if none exists.
	LastClaim(ctx context.Context) (*types.ClaimRecord, error)
	// RecordClaim replaces the claim record if last_claim_sig still equals
	// prevSig ("" meaning absent). It returns ErrClaimConflict otherwise.
	RecordClaim(ctx context.Context, prevSig string, rec types.ClaimRecord) error
	// RecordRunMetrics overwrites metrics_last_run.
	RecordRunMetrics(ctx context.Context, m types.RunMetrics) error

	// AcquireLease takes or renews the named lease for owner until now+ttl.
	// It reports false if another owner holds an unexpired lease.
	AcquireLease(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error)
	// ReleaseLease drops the lease if owner still holds it.
	ReleaseLease(ctx context.Context, name, owner string) error

	Close() error
}

func claimRecordFromStats(sig, ts, lamports string) (*types.ClaimRecord, error) {
	rec := &types.ClaimRecord{Signature: sig}
	if ts != "" {
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", KeyLastClaimTS, err)
		}
		rec.Timestamp = time.UnixMilli(ms).UTC()
	}
	if lamports != "" {
		v, err := strconv.ParseUint(lamports, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", KeyLastClaimLamports, err)
		}
		rec.ClaimedLamports = v
	}
	return rec, nil
}

func claimRecordStats(rec types.ClaimRecord) map[string]string {
	return map[string]string{
		KeyLastClaimSig:      rec.Signature,
		KeyLastClaimTS:       strconv.FormatInt(rec.Timestamp.UnixMilli(), 10),
		KeyLastClaimLamports: strconv.FormatUint(rec.ClaimedLamports, 10),
	}
}
