package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/djkazic/creatorsplit/internal/das"
	"github.com/djkazic/creatorsplit/internal/engine"
	"github.com/djkazic/creatorsplit/internal/ledger"
	"github.com/djkazic/creatorsplit/internal/lock"
	"github.com/djkazic/creatorsplit/internal/payout"
	"github.com/djkazic/creatorsplit/pkg/util"
)

// Store backends.
const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

// Lock backends.
const (
	LockStore = "store"
	LockRedis = "redis"
)

const DefaultBoltPath = "creatorsplit.db"

// Config is the full runtime configuration. It is loaded once and not
// modified afterwards.
type Config struct {
	RPCURL       string
	BackupRPCURL string
	RPCTimeout   time.Duration
	Signer       solana.PrivateKey

	ClaimProgramID solana.PublicKey
	TokenMint      solana.PublicKey

	HeliusAPIKey string
	DASURL       string
	DASRPS       float64

	ClaimThreshold uint64
	FeeReserve     uint64
	DustThreshold  uint64
	Blacklist      map[string]struct{}

	StoreBackend          string
	BoltPath              string
	PostgresURL           string
	PostgresRunMigrations bool

	LockBackend string
	RedisURL    string
	LockTTL     time.Duration

	Schedule     string
	CycleTimeout time.Duration
	MetricsAddr  string
	LogLevel     string
	LogEncoding  string
}

// Load reads the configuration from getenv, normally os.Getenv.
func Load(getenv func(string) string) (*Config, error) {
	env := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		RPCURL:       env("RPC_URL", ""),
		BackupRPCURL: env("BACKUP_RPC_URL", ""),
		HeliusAPIKey: env("HELIUS_API_KEY", ""),
		DASURL:       env("DAS_URL", das.DefaultURL),
		Blacklist:    ParseBlacklist(getenv("BLACKLIST")),
		StoreBackend: strings.ToLower(env("STORE_BACKEND", StoreBolt)),
		BoltPath:     env("BOLT_PATH", DefaultBoltPath),
		PostgresURL:  env("POSTGRES_URL", env("DATABASE_URL", "")),
		LockBackend:  strings.ToLower(env("LOCK_BACKEND", LockStore)),
		RedisURL:     env("REDIS_URL", ""),
		Schedule:     env("SCHEDULE", ""),
		MetricsAddr:  env("METRICS_ADDR", ""),
		LogLevel:     strings.ToLower(env("LOG_LEVEL", "info")),
		LogEncoding:  strings.ToLower(env("LOG_ENCODING", "json")),
	}

	var errs []error
	parse := func(key string, fn func(string) error) {
		v := env(key, "")
		if v == "" {
			return
		}
		if err := fn(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	lamports := func(dst *uint64, def uint64) func(string) error {
		*dst = def
		return func(v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("not a lamport amount: %q", v)
			}
			*dst = n
			return nil
		}
	}
	duration := func(dst *time.Duration, def time.Duration) func(string) error {
		*dst = def
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}

	parse("DEV_SECRET", func(v string) error {
		b, err := util.DecodeSecretKey(v)
		if err != nil {
			return err
		}
		cfg.Signer = solana.PrivateKey(b)
		return nil
	})
	parse("CLAIM_PROGRAM_ID", func(v string) (err error) {
		cfg.ClaimProgramID, err = solana.PublicKeyFromBase58(v)
		return err
	})
	parse("TOKEN_MINT", func(v string) (err error) {
		cfg.TokenMint, err = solana.PublicKeyFromBase58(v)
		return err
	})
	cfg.DASRPS = das.DefaultRequestsPerSecond
	parse("DAS_RPS", func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		cfg.DASRPS = f
		return nil
	})
	parse("CLAIM_THRESHOLD_LAMPORTS", lamports(&cfg.ClaimThreshold, 0))
	parse("MIN_FEE_RESERVE_LAMPORTS", lamports(&cfg.FeeReserve, engine.DefaultFeeReserve))
	parse("DUST_THRESHOLD_LAMPORTS", lamports(&cfg.DustThreshold, payout.DefaultDustThreshold))
	parse("RPC_TIMEOUT", duration(&cfg.RPCTimeout, ledger.DefaultTimeout))
	parse("LOCK_TTL", duration(&cfg.LockTTL, lock.DefaultTTL))
	parse("CYCLE_TIMEOUT", duration(&cfg.CycleTimeout, engine.DefaultCycleTimeout))
	parse("POSTGRES_RUN_MIGRATIONS", func(v string) (err error) {
		cfg.PostgresRunMigrations, err = strconv.ParseBool(v)
		return err
	})
	if env("POSTGRES_RUN_MIGRATIONS", "") == "" {
		cfg.PostgresRunMigrations = true
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks that every setting needed for a cycle is present and
// consistent.
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return errors.New("RPC_URL is required")
	}
	if err := validURL(c.RPCURL); err != nil {
		return fmt.Errorf("RPC_URL: %w", err)
	}
	if c.BackupRPCURL != "" {
		if err := validURL(c.BackupRPCURL); err != nil {
			return fmt.Errorf("BACKUP_RPC_URL: %w", err)
		}
	}
	if len(c.Signer) != util.SecretKeyLen {
		return errors.New("DEV_SECRET is required")
	}
	if c.ClaimProgramID.IsZero() {
		return errors.New("CLAIM_PROGRAM_ID is required")
	}
	if c.TokenMint.IsZero() {
		return errors.New("TOKEN_MINT is required")
	}
	if c.HeliusAPIKey == "" {
		return errors.New("HELIUS_API_KEY is required")
	}
	if err := validURL(c.DASURL); err != nil {
		return fmt.Errorf("DAS_URL: %w", err)
	}
	if c.DASRPS <= 0 {
		return errors.New("DAS_RPS must be positive")
	}
	if c.RPCTimeout <= 0 {
		return errors.New("RPC_TIMEOUT must be positive")
	}

	switch c.StoreBackend {
	case StoreBolt:
		if c.BoltPath == "" {
			return errors.New("BOLT_PATH is required for the bolt store")
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			return errors.New("POSTGRES_URL or DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	switch c.LockBackend {
	case LockStore:
	case LockRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis lock")
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q", c.LockBackend)
	}
	if c.LockTTL <= 0 {
		return errors.New("LOCK_TTL must be positive")
	}
	if c.CycleTimeout <= 0 {
		return errors.New("CYCLE_TIMEOUT must be positive")
	}
	if c.CycleTimeout > c.LockTTL {
		return fmt.Errorf("CYCLE_TIMEOUT %s exceeds LOCK_TTL %s", c.CycleTimeout, c.LockTTL)
	}
	return nil
}

// ParseBlacklist splits a comma-separated address list into a lower-cased
// set, trimming whitespace and dropping empty entries.
func ParseBlacklist(raw string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		addr := strings.ToLower(strings.TrimSpace(part))
		if addr == "" {
			continue
		}
		set[addr] = struct{}{}
	}
	return set
}

func validURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
