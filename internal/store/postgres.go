package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/djkazic/creatorsplit/internal/types"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PostgresConfig configures a PostgresStore.
type PostgresConfig struct {
	URL           string
	MaxConns      int32
	RunMigrations bool
	Logger        *zap.Logger
}

// PostgresStore is a Store backed by Postgres. The stats and claim_logs
// tables keep the layout the reporting API already reads.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore connects to Postgres and optionally applies migrations.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres url is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	logger := cfg.Logger.Named("store")

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	} else {
		poolConfig.MaxConns = 2
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("connected to postgres",
		zap.String("host", poolConfig.ConnConfig.Host),
		zap.String("database", poolConfig.ConnConfig.Database),
	)

	s := &PostgresStore{pool: pool, logger: logger}
	if cfg.RunMigrations {
		if err := s.migrate(); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	s.logger.Info("postgres migrations applied")
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value *string
	err := s.pool.QueryRow(ctx, `SELECT value FROM stats WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	if value == nil {
		return "", true, nil
	}
	return *value, true, nil
}

func (s *PostgresStore) Put(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stats (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry types.DisbursementLogEntry) (bool, error) {
	data, err := encodeLogJSON(entry)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO claim_logs (sig, json, ts) VALUES ($1, $2::jsonb, $3)
		ON CONFLICT (sig) DO NOTHING`, entry.Signature, string(data), entry.Timestamp)
	if err != nil {
		return false, fmt.Errorf("append log %s: %w", entry.Signature, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReadLogs(ctx context.Context, limit int) ([]types.DisbursementLogEntry, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT sig, json::text FROM claim_logs
		ORDER BY seq DESC LIMIT $1`, limitArg)
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	defer rows.Close()

	var entries []types.DisbursementLogEntry
	for rows.Next() {
		var sig, data string
		if err := rows.Scan(&sig, &data); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e, err := decodeLogJSON(sig, []byte(data))
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) LastClaim(ctx context.Context) (*types.ClaimRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM stats WHERE key = ANY($1)`,
		[]string{KeyLastClaimSig, KeyLastClaimTS, KeyLastClaimLamports})
	if err != nil {
		return nil, fmt.Errorf("read claim record: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, 3)
	for rows.Next() {
		var key string
		var value *string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan claim record: %w", err)
		}
		if value != nil {
			values[key] = *value
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sig, ok := values[KeyLastClaimSig]
	if !ok {
		return nil, nil
	}
	return claimRecordFromStats(sig, values[KeyLastClaimTS], values[KeyLastClaimLamports])
}

func (s *PostgresStore) RecordClaim(ctx context.Context, prevSig string, rec types.ClaimRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var tag pgconn.CommandTag
		var err error
		if prevSig == "" {
			tag, err = tx.Exec(ctx, `
				INSERT INTO stats (key, value) VALUES ($1, $2)
				ON CONFLICT (key) DO NOTHING`, KeyLastClaimSig, rec.Signature)
		} else {
			tag, err = tx.Exec(ctx, `
				UPDATE stats SET value = $2 WHERE key = $1 AND value = $3`,
				KeyLastClaimSig, rec.Signature, prevSig)
		}
		if err != nil {
			return fmt.Errorf("swap %s: %w", KeyLastClaimSig, err)
		}
		if tag.RowsAffected() != 1 {
			return ErrClaimConflict
		}

		for k, v := range claimRecordStats(rec) {
			if k == KeyLastClaimSig {
				continue
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO stats (key, value) VALUES ($1, $2)
				ON CONFLICT (key) DO UPDATE SET value = excluded.value`, k, v); err != nil {
				return fmt.Errorf("put %s: %w", k, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) RecordRunMetrics(ctx context.Context, m types.RunMetrics) error {
	value, err := encodeRunMetrics(m)
	if err != nil {
		return err
	}
	return s.Put(ctx, KeyMetricsLastRun, value)
}

func (s *PostgresStore) AcquireLease(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO leases (name, owner, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE leases.owner = excluded.owner OR leases.expires_at <= $4`,
		name, owner, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, name, owner string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM leases WHERE name = $1 AND owner = $2`, name, owner)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
