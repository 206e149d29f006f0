package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/djkazic/creatorsplit/internal/lock"
)

type fakeRunner struct {
	calls   atomic.Int32
	release chan struct{}
	err     error

	// drain keeps the cycle busy for this long after its context ends.
	drain    time.Duration
	finished atomic.Bool

	mu       sync.Mutex
	deadline time.Time
}

func (r *fakeRunner) RunCycle(ctx context.Context) (*CycleReport, error) {
	r.calls.Add(1)
	if d, ok := ctx.Deadline(); ok {
		r.mu.Lock()
		r.deadline = d
		r.mu.Unlock()
	}
	if r.release != nil {
		<-r.release
	}
	if r.drain > 0 {
		<-ctx.Done()
		time.Sleep(r.drain)
	}
	r.finished.Store(true)
	return &CycleReport{Outcome: OutcomeBelowThreshold}, r.err
}

func TestNewScheduler_RejectsBadSchedule(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{Schedule: "every tuesday", Runner: &fakeRunner{}})
	require.Error(t, err)

	_, err = NewScheduler(SchedulerConfig{Schedule: "@every 5m"})
	require.Error(t, err)
}

func TestNewScheduler_AcceptsSecondsAndDescriptors(t *testing.T) {
	for _, expr := range []string{"*/30 * * * *", "0 */5 * * * *", "@hourly", "@every 10m"} {
		_, err := NewScheduler(SchedulerConfig{Schedule: expr, Runner: &fakeRunner{}})
		require.NoError(t, err, expr)
	}
}

func TestScheduler_TickAppliesTimeout(t *testing.T) {
	r := &fakeRunner{}
	s, err := NewScheduler(SchedulerConfig{Schedule: "@every 1h", Runner: r, CycleTimeout: time.Minute, Logger: zap.NewNop()})
	require.NoError(t, err)

	before := time.Now()
	s.job.Run()
	require.Equal(t, int32(1), r.calls.Load())

	r.mu.Lock()
	defer r.mu.Unlock()
	require.WithinDuration(t, before.Add(time.Minute), r.deadline, 5*time.Second)
}

func TestScheduler_SkipsOverlappingTicks(t *testing.T) {
	r := &fakeRunner{release: make(chan struct{})}
	s, err := NewScheduler(SchedulerConfig{Schedule: "@every 1h", Runner: r, Logger: zap.NewNop()})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		s.job.Run()
		close(done)
	}()
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// The first cycle is still blocked, so this tick is dropped.
	s.job.Run()
	require.Equal(t, int32(1), r.calls.Load())

	close(r.release)
	<-done
}

func TestScheduler_CountsFailures(t *testing.T) {
	r := &fakeRunner{err: errors.New("rpc down")}
	s, err := NewScheduler(SchedulerConfig{Schedule: "@every 1h", Runner: r})
	require.NoError(t, err)

	s.job.Run()
	s.job.Run()
	require.Equal(t, 2, s.consecutiveFailures)

	r.err = lock.ErrLocked
	s.job.Run()
	require.Equal(t, 2, s.consecutiveFailures, "a held lease is not a failure")

	r.err = nil
	s.job.Run()
	require.Zero(t, s.consecutiveFailures)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	r := &fakeRunner{}
	s, err := NewScheduler(SchedulerConfig{Schedule: "@every 1h", Runner: r, RunOnStart: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_RunWaitsForStartupCycle(t *testing.T) {
	r := &fakeRunner{drain: 300 * time.Millisecond}
	s, err := NewScheduler(SchedulerConfig{Schedule: "@every 1h", Runner: r, RunOnStart: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.True(t, r.finished.Load(), "Run returned before the startup cycle finished")
}
