package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/djkazic/creatorsplit/internal/lock"
)

// DefaultCycleTimeout bounds a single scheduled cycle.
const DefaultCycleTimeout = 10 * time.Minute

// Runner runs one cycle.
type Runner interface {
	RunCycle(ctx context.Context) (*CycleReport, error)
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Schedule is a cron expression with optional seconds field, or a
	// descriptor such as "@every 10m".
	Schedule     string
	Runner       Runner
	CycleTimeout time.Duration
	// RunOnStart runs a cycle immediately instead of waiting for the first tick.
	RunOnStart bool
	Logger     *zap.Logger
}

// Scheduler runs cycles on a cron schedule. A tick that fires while the
// previous cycle is still running is skipped.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	job      cron.Job
	runner   Runner
	timeout  time.Duration
	onStart  bool
	logger   *zap.Logger

	ctx     context.Context
	startWG sync.WaitGroup

	consecutiveFailures int
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewScheduler parses the schedule and prepares the cron runner.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, errors.New("scheduler needs a runner")
	}
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", cfg.Schedule, err)
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = DefaultCycleTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	s := &Scheduler{
		schedule: schedule,
		runner:   cfg.Runner,
		timeout:  cfg.CycleTimeout,
		onStart:  cfg.RunOnStart,
		logger:   cfg.Logger.Named("scheduler"),
		ctx:      context.Background(),
	}
	cl := cronLogger{s.logger.Sugar()}
	s.cron = cron.New(cron.WithLocation(time.UTC), cron.WithLogger(cl))
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.tick))
	return s, nil
}

// Run starts the schedule and blocks until ctx is done, then waits for a
// running cycle to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Schedule(s.schedule, s.job)
	s.cron.Start()

	s.logger.Info("scheduler started", zap.Time("next_run", s.schedule.Next(time.Now().UTC())))
	if s.onStart {
		s.startWG.Add(1)
		go func() {
			defer s.startWG.Done()
			s.job.Run()
		}()
	}

	<-ctx.Done()
	s.logger.Info("scheduler stopping, waiting for running cycle")
	<-s.cron.Stop().Done()
	s.startWG.Wait()
	return nil
}

// tick runs one cycle. Calls are serialized by the SkipIfStillRunning wrapper.
func (s *Scheduler) tick() {
	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	report, err := s.runner.RunCycle(ctx)
	switch {
	case errors.Is(err, lock.ErrLocked):
		s.logger.Info("cycle skipped, lease held elsewhere")
	case err != nil:
		s.consecutiveFailures++
		fields := []zap.Field{
			zap.Error(err),
			zap.Int("consecutive_failures", s.consecutiveFailures),
		}
		if report != nil {
			fields = append(fields, zap.String("outcome", string(report.Outcome)))
		}
		s.logger.Warn("cycle failed", fields...)
	default:
		if s.consecutiveFailures > 0 {
			s.logger.Info("cycles recovered", zap.Int("after_failures", s.consecutiveFailures))
			s.consecutiveFailures = 0
		}
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
