// Package lock provides a Redis-backed lock so that only one replica runs a
// reconciliation sweep at a time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock held by another holder")

// unlockLua deletes the key only if it still holds the caller's token, so an
// expired holder cannot release a lock someone else has since acquired.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLock is a single named lock with a TTL.
type RedisLock struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	key      string
	ttl      time.Duration
	logger   *zap.Logger
}

// Config holds lock configuration.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
	TTL      time.Duration
	Logger   *zap.Logger
}

// New creates a lock backed by a new Redis client. It does not contact Redis.
func New(cfg *Config) (*RedisLock, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}

	key := cfg.Key
	if key == "" {
		key = "order-reconciler:sweep"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisLock{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		key:      "lock:" + key,
		ttl:      cfg.TTL,
		logger:   logger,
	}, nil
}

// Ping checks that Redis is reachable.
func (l *RedisLock) Ping(ctx context.Context) error {
	err := l.rdb.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Acquire takes the lock. On success it returns a release function that is
// safe to call more than once. It returns ErrLockHeld if the lock is taken.
func (l *RedisLock) Acquire(ctx context.Context) (release func(), err error) {
	token := uuid.New().String()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	var once sync.Once
	release = func() {
		once.Do(func() {
			// Release on a fresh context so it still runs after the caller's
			// context is cancelled.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err := l.unlockSc.Run(releaseCtx, l.rdb, []string{l.key}, token).Err()
			if err != nil {
				l.logger.Warn("sweep-lock-release-failed",
					zap.String("key", l.key),
					zap.Error(err))
			}
		})
	}

	return release, nil
}

// Close closes the underlying Redis client.
func (l *RedisLock) Close() error {
	return l.rdb.Close()
}
