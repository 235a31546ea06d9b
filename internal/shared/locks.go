package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotObtained is returned when another process holds the order lock.
var ErrLockNotObtained = fmt.Errorf("%w: order is being updated, retry", ErrConsistency)

// OrderLockKey builds redis keys for purchase-order critical sections.
func OrderLockKey(poID int64) string {
	return fmt.Sprintf("dcops:po:%d:lock", poID)
}

// Locker serialises work on one purchase order across processes.
type Locker interface {
	WithOrderLock(ctx context.Context, poID int64, fn func(context.Context) error) error
}

// RedisLocker implements Locker with redislock.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	retries int
}

const lockRetryInterval = 50 * time.Millisecond

// NewRedisLocker constructs a locker. Waiting callers retry for half the ttl,
// which keeps the retry budget inside the deadline Obtain derives from ttl.
func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	retries := int(ttl / 2 / lockRetryInterval)
	if retries < 1 {
		retries = 1
	}
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		retries: retries,
	}
}

// WithOrderLock runs fn while holding the order lock.
func (l *RedisLocker) WithOrderLock(ctx context.Context, poID int64, fn func(context.Context) error) error {
	if l == nil {
		return fn(ctx)
	}
	// LimitRetry counts attempts, so every Obtain needs its own strategy.
	retry := redislock.LimitRetry(redislock.LinearBackoff(lockRetryInterval), l.retries)
	lock, err := l.client.Obtain(ctx, OrderLockKey(poID), l.ttl, &redislock.Options{RetryStrategy: retry})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return ErrLockNotObtained
		}
		// Obtain's own wait deadline ran out while the caller is still live.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return ErrLockNotObtained
		}
		return err
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
