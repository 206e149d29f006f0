package config

import (
	"strings"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"github.com/djkazic/creatorsplit/internal/das"
	"github.com/djkazic/creatorsplit/internal/engine"
	"github.com/djkazic/creatorsplit/internal/lock"
	"github.com/djkazic/creatorsplit/testutil"
)

func baseEnv() map[string]string {
	return map[string]string{
		"RPC_URL":          "https://api.mainnet-beta.solana.com",
		"DEV_SECRET":       base58.Encode(testutil.Payer()),
		"CLAIM_PROGRAM_ID": testutil.ClaimProgramID.String(),
		"TOKEN_MINT":       testutil.TokenMint.String(),
		"HELIUS_API_KEY":   "key",
	}
}

func load(t *testing.T, env map[string]string) *Config {
	t.Helper()
	cfg, err := Load(func(k string) string { return env[k] })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := load(t, baseEnv())
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.ClaimThreshold != 0 {
		t.Errorf("ClaimThreshold = %d, want 0", cfg.ClaimThreshold)
	}
	if cfg.FeeReserve != engine.DefaultFeeReserve {
		t.Errorf("FeeReserve = %d, want %d", cfg.FeeReserve, engine.DefaultFeeReserve)
	}
	if cfg.DustThreshold != 5000 {
		t.Errorf("DustThreshold = %d, want 5000", cfg.DustThreshold)
	}
	if cfg.DASURL != das.DefaultURL {
		t.Errorf("DASURL = %q", cfg.DASURL)
	}
	if cfg.DASRPS != das.DefaultRequestsPerSecond {
		t.Errorf("DASRPS = %v", cfg.DASRPS)
	}
	if cfg.RPCTimeout != 30*time.Second {
		t.Errorf("RPCTimeout = %v", cfg.RPCTimeout)
	}
	if cfg.StoreBackend != StoreBolt || cfg.LockBackend != LockStore {
		t.Errorf("backends = %s/%s", cfg.StoreBackend, cfg.LockBackend)
	}
	if cfg.LockTTL != lock.DefaultTTL {
		t.Errorf("LockTTL = %v", cfg.LockTTL)
	}
	if !cfg.PostgresRunMigrations {
		t.Error("migrations should run by default")
	}
	if len(cfg.Blacklist) != 0 {
		t.Errorf("Blacklist = %v", cfg.Blacklist)
	}
	if !cfg.Signer.PublicKey().Equals(testutil.Payer().PublicKey()) {
		t.Error("signer does not match DEV_SECRET")
	}
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["CLAIM_THRESHOLD_LAMPORTS"] = "5000000"
	env["MIN_FEE_RESERVE_LAMPORTS"] = "3000000"
	env["DUST_THRESHOLD_LAMPORTS"] = "10000"
	env["RPC_TIMEOUT"] = "5s"
	env["STORE_BACKEND"] = "Postgres"
	env["DATABASE_URL"] = "postgres://localhost/creatorsplit"
	env["POSTGRES_RUN_MIGRATIONS"] = "false"
	env["LOCK_BACKEND"] = "redis"
	env["REDIS_URL"] = "redis://localhost:6379/0"

	cfg := load(t, env)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.ClaimThreshold != 5_000_000 || cfg.FeeReserve != 3_000_000 || cfg.DustThreshold != 10_000 {
		t.Errorf("amounts = %d/%d/%d", cfg.ClaimThreshold, cfg.FeeReserve, cfg.DustThreshold)
	}
	if cfg.RPCTimeout != 5*time.Second {
		t.Errorf("RPCTimeout = %v", cfg.RPCTimeout)
	}
	if cfg.StoreBackend != StorePostgres {
		t.Errorf("StoreBackend = %q", cfg.StoreBackend)
	}
	if cfg.PostgresURL != "postgres://localhost/creatorsplit" {
		t.Errorf("PostgresURL = %q, want DATABASE_URL fallback", cfg.PostgresURL)
	}
	if cfg.PostgresRunMigrations {
		t.Error("migrations should be disabled")
	}
}

func TestLoadPostgresURLWins(t *testing.T) {
	env := baseEnv()
	env["POSTGRES_URL"] = "postgres://primary/db"
	env["DATABASE_URL"] = "postgres://fallback/db"
	if got := load(t, env).PostgresURL; got != "postgres://primary/db" {
		t.Errorf("PostgresURL = %q", got)
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := map[string]string{
		"DEV_SECRET":               "not-base58-0OIl",
		"CLAIM_PROGRAM_ID":         "xyz",
		"CLAIM_THRESHOLD_LAMPORTS": "-5",
		"MIN_FEE_RESERVE_LAMPORTS": "0.5",
		"RPC_TIMEOUT":              "soon",
		"DAS_RPS":                  "fast",
		"POSTGRES_RUN_MIGRATIONS":  "maybe",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			env := baseEnv()
			env[key] = value
			_, err := Load(func(k string) string { return env[k] })
			if err == nil {
				t.Fatalf("expected error for %s=%q", key, value)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("error %q does not name %s", err, key)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(env map[string]string)
	}{
		{"missing rpc", func(e map[string]string) { delete(e, "RPC_URL") }},
		{"bad rpc scheme", func(e map[string]string) { e["RPC_URL"] = "ftp://node" }},
		{"bad backup", func(e map[string]string) { e["BACKUP_RPC_URL"] = "://" }},
		{"missing secret", func(e map[string]string) { delete(e, "DEV_SECRET") }},
		{"missing program", func(e map[string]string) { delete(e, "CLAIM_PROGRAM_ID") }},
		{"missing mint", func(e map[string]string) { delete(e, "TOKEN_MINT") }},
		{"missing helius key", func(e map[string]string) { delete(e, "HELIUS_API_KEY") }},
		{"unknown store", func(e map[string]string) { e["STORE_BACKEND"] = "sqlite" }},
		{"postgres without url", func(e map[string]string) { e["STORE_BACKEND"] = "postgres" }},
		{"redis without url", func(e map[string]string) { e["LOCK_BACKEND"] = "redis" }},
		{"unknown lock", func(e map[string]string) { e["LOCK_BACKEND"] = "etcd" }},
		{"zero rps", func(e map[string]string) { e["DAS_RPS"] = "0" }},
		{"cycle outlives lease", func(e map[string]string) {
			e["SCHEDULE"] = "@every 10m"
			e["LOCK_TTL"] = "1m"
		}},
		{"one-shot cycle outlives lease", func(e map[string]string) {
			e["CYCLE_TIMEOUT"] = "30m"
			e["LOCK_TTL"] = "1m"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := baseEnv()
			tt.mutate(env)
			cfg := load(t, env)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseBlacklist(t *testing.T) {
	got := ParseBlacklist(" AbC , ,def,,  GHI  ")
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3: %v", len(got), got)
	}
	for _, addr := range []string{"abc", "def", "ghi"} {
		if _, ok := got[addr]; !ok {
			t.Errorf("missing %q", addr)
		}
	}
	if len(ParseBlacklist("")) != 0 {
		t.Error("empty input should give an empty set")
	}
}
