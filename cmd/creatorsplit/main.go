package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/djkazic/creatorsplit/internal/config"
	"github.com/djkazic/creatorsplit/internal/das"
	"github.com/djkazic/creatorsplit/internal/engine"
	"github.com/djkazic/creatorsplit/internal/ledger"
	"github.com/djkazic/creatorsplit/internal/lock"
	"github.com/djkazic/creatorsplit/internal/logging"
	"github.com/djkazic/creatorsplit/internal/metrics"
	"github.com/djkazic/creatorsplit/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFileFlag := flag.String("env-file", "", "dotenv file to load before reading the environment (default .env if present)")
	scheduleFlag := flag.String("schedule", "", "cron expression to run as a daemon (or set SCHEDULE env var); empty runs one cycle")
	onceFlag := flag.Bool("once", false, "run a single cycle even if SCHEDULE is set")
	metricsAddrFlag := flag.String("metrics-addr", "", "listen address for /metrics and /healthz (or set METRICS_ADDR env var)")
	logLevelFlag := flag.String("log-level", "", "debug, info, warn or error (or set LOG_LEVEL env var)")
	storeFlag := flag.String("store", "", "state store backend: bolt or postgres (or set STORE_BACKEND env var)")
	lockFlag := flag.String("lock", "", "run lease backend: store or redis (or set LOCK_BACKEND env var)")
	flag.Parse()

	if err := loadEnvFile(*envFileFlag); err != nil {
		return err
	}

	cfg, err := config.Load(os.Getenv)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flag.CommandLine.Changed("schedule") {
		cfg.Schedule = *scheduleFlag
	}
	if *onceFlag {
		cfg.Schedule = ""
	}
	if flag.CommandLine.Changed("metrics-addr") {
		cfg.MetricsAddr = *metricsAddrFlag
	}
	if flag.CommandLine.Changed("log-level") {
		cfg.LogLevel = *logLevelFlag
	}
	if flag.CommandLine.Changed("store") {
		cfg.StoreBackend = *storeFlag
	}
	if flag.CommandLine.Changed("lock") {
		cfg.LockBackend = *lockFlag
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	locker, closeLocker, err := openLocker(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	defer closeLocker()

	client, err := ledger.NewSolanaClient(ledger.SolanaConfig{
		RPCURL:       cfg.RPCURL,
		BackupRPCURL: cfg.BackupRPCURL,
		Signer:       cfg.Signer,
		Timeout:      cfg.RPCTimeout,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("ledger client: %w", err)
	}

	index, err := das.NewClient(cfg.DASURL, cfg.HeliusAPIKey, cfg.RPCTimeout)
	if err != nil {
		return fmt.Errorf("holder index client: %w", err)
	}

	eng, err := engine.New(engine.Config{
		Client: client,
		Fetcher: das.NewFetcher(das.FetcherConfig{
			Index:             index,
			RequestsPerSecond: cfg.DASRPS,
			Logger:            logger,
		}),
		Store:          st,
		Locker:         locker,
		ProgramID:      cfg.ClaimProgramID,
		Mint:           cfg.TokenMint,
		ClaimThreshold: cfg.ClaimThreshold,
		FeeReserve:     cfg.FeeReserve,
		DustThreshold:  cfg.DustThreshold,
		Blacklist:      cfg.Blacklist,
		LockTTL:        cfg.LockTTL,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	logger.Info("creatorsplit starting",
		zap.String("payer", client.Payer().String()),
		zap.String("mint", cfg.TokenMint.String()),
		zap.String("store", cfg.StoreBackend),
		zap.String("lock", cfg.LockBackend),
		zap.Int("blacklisted", len(cfg.Blacklist)),
		zap.String("schedule", cfg.Schedule),
	)

	if cfg.Schedule == "" {
		cycleCtx, cancel := context.WithTimeout(ctx, cfg.CycleTimeout)
		defer cancel()
		_, err := eng.RunCycle(cycleCtx)
		return err
	}

	sched, err := engine.NewScheduler(engine.SchedulerConfig{
		Schedule:     cfg.Schedule,
		Runner:       eng,
		CycleTimeout: cfg.CycleTimeout,
		RunOnStart:   true,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           newRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("creatorsplit stopped")
	return err
}

func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		s, err := store.NewPostgresStore(ctx, store.PostgresConfig{
			URL:           cfg.PostgresURL,
			RunMigrations: cfg.PostgresRunMigrations,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := store.NewBoltStore(cfg.BoltPath, logger)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return s, nil
	}
}

func openLocker(ctx context.Context, cfg *config.Config, st store.Store, logger *zap.Logger) (lock.Locker, func(), error) {
	if cfg.LockBackend == config.LockRedis {
		l, err := lock.NewRedisLocker(ctx, cfg.RedisURL, lock.DefaultName, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open redis lock: %w", err)
		}
		return l, func() {
			if err := l.Close(); err != nil {
				logger.Warn("close redis lock", zap.Error(err))
			}
		}, nil
	}
	return lock.NewStoreLocker(st, lock.DefaultName, nil), func() {}, nil
}
