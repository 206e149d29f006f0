package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// unlockScript deletes the key only if it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker keeps the lease as a Redis key with a PX expiry.
type RedisLocker struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

// NewRedisLocker connects to the Redis instance at url (redis://...) and
// verifies it with a ping.
func NewRedisLocker(ctx context.Context, url, key string, logger *zap.Logger) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("connected to Redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))

	return NewRedisLockerFromClient(client, key, logger), nil
}

// NewRedisLockerFromClient wraps an existing client.
func NewRedisLockerFromClient(client *redis.Client, key string, logger *zap.Logger) *RedisLocker {
	if key == "" {
		key = DefaultName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: client, key: key, logger: logger.Named("lock")}
}

func (l *RedisLocker) TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	return ok, nil
}

func (l *RedisLocker) Unlock(ctx context.Context, owner string) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, owner).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	if n == 0 {
		l.logger.Warn("lease was not held at release", zap.String("key", l.key), zap.String("owner", owner))
	}
	return nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
