package locking

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"

	"spendchain/internal/core/lock"
	"spendchain/pkg/logger"
)

// RedisOptions configures distributed lock acquisition.
type RedisOptions struct {
	// Expiry bounds how long a crashed holder can block a key.
	Expiry     time.Duration
	Tries      int
	RetryDelay time.Duration
	Prefix     string
}

// DefaultRedisOptions returns defaults sized for a single validation.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 100 * time.Millisecond,
		Prefix:     "spendchain:lock:",
	}
}

// Redis is a lock.Locker backed by redsync, shared by every instance that
// talks to the same Redis.
type Redis struct {
	rs   *redsync.Redsync
	opts RedisOptions
}

// NewRedis creates a distributed locker over client.
func NewRedis(client goredislib.UniversalClient, opts RedisOptions) *Redis {
	if opts.Tries < 1 {
		opts.Tries = 1
	}
	return &Redis{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
	}
}

// WithLock implements lock.Locker. Keys are taken in ascending order and
// released in reverse order, also when fn panics.
func (r *Redis) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = lock.Normalize(keys)

	held := make([]*redsync.Mutex, 0, len(keys))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			if ok, err := held[i].UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
				logger.Warn(ctx, "failed to release lock",
					"lock_key", held[i].Name(), "unlock_ok", ok, "error", err)
			}
		}
	}()

	for _, key := range keys {
		m := r.rs.NewMutex(
			r.opts.Prefix+key,
			redsync.WithExpiry(r.opts.Expiry),
			redsync.WithTries(r.opts.Tries),
			redsync.WithRetryDelay(r.opts.RetryDelay),
		)
		if err := m.LockContext(ctx); err != nil {
			return lock.NotAcquired(key, err)
		}
		held = append(held, m)
	}

	return fn(ctx)
}

var _ lock.Locker = (*Redis)(nil)
