package disburse

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/djkazic/creatorsplit/internal/ledger"
	"github.com/djkazic/creatorsplit/internal/payout"
	"github.com/djkazic/creatorsplit/internal/store"
	"github.com/djkazic/creatorsplit/internal/types"
	"github.com/djkazic/creatorsplit/testutil"
)

type fixture struct {
	client *ledger.MockClient
	store  store.Store
	clock  *clockwork.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewBoltStore(filepath.Join(t.TempDir(), "state.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &fixture{
		client: ledger.NewMockClient(testutil.Payer().PublicKey()),
		store:  s,
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func (f *fixture) disburser(maxBatches int) *Disburser {
	return New(Config{
		Client:     f.client,
		Store:      f.store,
		Clock:      f.clock,
		Logger:     zap.NewNop(),
		MaxBatches: maxBatches,
	})
}

// equalPlan pays n holders 1_000_000 lamports each.
func equalPlan(t *testing.T, n int) *types.PayoutPlan {
	t.Helper()
	plan, err := payout.Compute(testutil.EqualHolders(n, 1), nil, uint64(n)*1_000_000, payout.DefaultDustThreshold)
	require.NoError(t, err)
	require.Len(t, plan.Entries, n)
	return plan
}

func transfersPerTx(txs []*ledger.Transaction) []int {
	sizes := make([]int, len(txs))
	for i, tx := range txs {
		// Two compute budget instructions lead every transaction.
		sizes[i] = len(tx.Instructions) - 2
	}
	return sizes
}

func TestDisburse_BatchesOf20(t *testing.T) {
	f := newFixture(t)
	plan := equalPlan(t, 47)

	res, err := f.disburser(0).Disburse(context.Background(), plan)
	require.NoError(t, err)

	txs := f.client.SubmittedTransactions()
	require.Equal(t, []int{20, 20, 7}, transfersPerTx(txs))
	for _, tx := range txs {
		require.True(t, tx.FeePayer.Equals(f.client.Payer()))
	}

	require.Len(t, res.Batches, 3)
	require.Equal(t, 3, res.Accepted())
	require.Equal(t, uint64(47_000_000), res.TotalSent)
	require.Equal(t, uint64(0), res.Leftover)
	require.Equal(t, 47, res.Recipients)
	require.Zero(t, res.Deferred)
	require.Empty(t, res.PersistenceErrors)

	logs, err := f.store.ReadLogs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	// Newest first; the last batch is the partial one.
	require.Equal(t, "sig-3", logs[0].Signature)
	require.Len(t, logs[0].Recipients, 7)
	require.Equal(t, uint64(7_000_000), logs[0].TotalSent())
	require.Equal(t, types.LogKindDisbursement, logs[0].Kind)
	require.True(t, logs[0].Timestamp.Equal(f.clock.Now()))
}

func TestDisburse_PlanOrderPreserved(t *testing.T) {
	f := newFixture(t)
	plan := equalPlan(t, 25)

	res, err := f.disburser(0).Disburse(context.Background(), plan)
	require.NoError(t, err)

	var owners []string
	for _, b := range res.Batches {
		for _, r := range b.Recipients {
			owners = append(owners, r.Owner)
		}
	}
	require.Len(t, owners, 25)
	for i, e := range plan.Entries {
		require.Equal(t, e.Owner, owners[i])
	}
}

func TestDisburse_BatchCapDefersRemainder(t *testing.T) {
	f := newFixture(t)
	plan := equalPlan(t, 47)

	res, err := f.disburser(2).Disburse(context.Background(), plan)
	require.NoError(t, err)

	require.Equal(t, 2, f.client.SubmitCalls())
	require.Equal(t, 7, res.Deferred)
	require.Equal(t, uint64(40_000_000), res.TotalSent)
	require.Equal(t, uint64(7_000_000), res.Leftover)
}

func TestDisburse_RejectedBatchContinues(t *testing.T) {
	f := newFixture(t)
	f.client.SubmitErrs = []error{nil, &ledger.RejectedError{Err: errors.New("insufficient funds for fee")}, nil}
	plan := equalPlan(t, 47)

	res, err := f.disburser(0).Disburse(context.Background(), plan)
	require.NoError(t, err)

	require.Equal(t, 3, f.client.SubmitCalls(), "rejected batch must not be resubmitted")
	require.Equal(t, StatusSubmitted, res.Batches[0].Status)
	require.Equal(t, StatusFailed, res.Batches[1].Status)
	require.Equal(t, StatusSubmitted, res.Batches[2].Status)
	require.Equal(t, uint64(27_000_000), res.TotalSent)
	require.Equal(t, uint64(20_000_000), res.Leftover)

	logs, err := f.store.ReadLogs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
}

func TestDisburse_UnknownOutcomeHalts(t *testing.T) {
	f := newFixture(t)
	f.client.SubmitErrs = []error{nil, fmt.Errorf("%w: send timed out", ledger.ErrSubmissionOutcomeUnknown)}
	plan := equalPlan(t, 47)

	res, err := f.disburser(0).Disburse(context.Background(), plan)
	require.NoError(t, err)

	require.Equal(t, 2, f.client.SubmitCalls())
	require.True(t, res.Halted)
	require.Len(t, res.Batches, 2)
	require.Equal(t, StatusUnknown, res.Batches[1].Status)
	require.ErrorIs(t, res.Batches[1].Err, ledger.ErrSubmissionOutcomeUnknown)
	require.Equal(t, 7, res.Deferred)
	require.Equal(t, uint64(20_000_000), res.TotalSent)
	require.Equal(t, uint64(20_000_000), res.UnknownLamports)

	logs, err := f.store.ReadLogs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}

func TestDisburse_InvalidOwnerSkipped(t *testing.T) {
	f := newFixture(t)
	plan := equalPlan(t, 3)
	plan.Entries = append([]types.PayoutEntry{{Owner: "0OIl-not-an-address", Lamports: 2_000_000}}, plan.Entries...)
	plan.Distributable += 2_000_000

	res, err := f.disburser(0).Disburse(context.Background(), plan)
	require.NoError(t, err)

	require.Equal(t, 1, res.Skipped)
	require.Equal(t, uint64(3_000_000), res.TotalSent)
	require.Equal(t, uint64(2_000_000), res.Leftover)
	require.Equal(t, []int{3}, transfersPerTx(f.client.SubmittedTransactions()))
}

type failingLogStore struct {
	store.Store
}

func (failingLogStore) AppendLog(context.Context, types.DisbursementLogEntry) (bool, error) {
	return false, errors.New("disk I/O error")
}

func TestDisburse_LogFailureIsSurfacedNotFatal(t *testing.T) {
	f := newFixture(t)
	d := New(Config{
		Client: f.client,
		Store:  failingLogStore{f.store},
		Clock:  f.clock,
		Logger: zap.NewNop(),
	})

	res, err := d.Disburse(context.Background(), equalPlan(t, 47))
	require.NoError(t, err)

	require.Equal(t, 3, res.Accepted(), "every batch still goes out")
	require.Len(t, res.PersistenceErrors, 3)
	var perr *store.PersistenceError
	require.ErrorAs(t, res.PersistenceErrors[0], &perr)
	require.Equal(t, "sig-1", perr.Signature)
}

func TestDisburse_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := f.disburser(0).Disburse(ctx, equalPlan(t, 47))
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, f.client.SubmitCalls())
	require.Equal(t, 47, res.Deferred)
	require.Equal(t, uint64(47_000_000), res.Leftover)
}

type cancelOnSubmit struct {
	*ledger.MockClient
	cancel context.CancelFunc
}

func (c *cancelOnSubmit) Submit(ctx context.Context, tx *ledger.Transaction) (string, error) {
	sig, err := c.MockClient.Submit(ctx, tx)
	c.cancel()
	return sig, err
}

type liveContextStore struct {
	store.Store
}

func (s liveContextStore) AppendLog(ctx context.Context, entry types.DisbursementLogEntry) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.Store.AppendLog(ctx, entry)
}

func TestDisburse_LogsBatchAfterContextEnds(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := New(Config{
		Client: &cancelOnSubmit{MockClient: f.client, cancel: cancel},
		Store:  liveContextStore{f.store},
		Clock:  f.clock,
		Logger: zap.NewNop(),
	})

	res, err := d.Disburse(ctx, equalPlan(t, 47))
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, res.Accepted())
	require.Equal(t, 27, res.Deferred)
	require.Empty(t, res.PersistenceErrors)

	logs, err := f.store.ReadLogs(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, "sig-1", logs[0].Signature)
}

func TestDisburse_EmptyPlan(t *testing.T) {
	f := newFixture(t)
	res, err := f.disburser(0).Disburse(context.Background(), &types.PayoutPlan{Distributable: 4_999, Leftover: 4_999})
	require.NoError(t, err)
	require.Empty(t, res.Batches)
	require.Equal(t, uint64(4_999), res.Leftover)
}
