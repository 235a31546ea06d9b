package shared

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, ttl), mr
}

func TestOrderLockKey(t *testing.T) {
	require.Equal(t, "dcops:po:42:lock", OrderLockKey(42))
}

func TestRedisLockerSerialisesSameOrder(t *testing.T) {
	locker, _ := newTestLocker(t, 2*time.Second)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- locker.WithOrderLock(ctx, 7, func(context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestRedisLockerReleasesOnError(t *testing.T) {
	locker, mr := newTestLocker(t, time.Second)
	boom := errors.New("boom")

	err := locker.WithOrderLock(context.Background(), 9, func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists(OrderLockKey(9)))
}

func TestRedisLockerNotObtained(t *testing.T) {
	locker, mr := newTestLocker(t, 100*time.Millisecond)
	require.NoError(t, mr.Set(OrderLockKey(3), "someone-else"))
	mr.SetTTL(OrderLockKey(3), time.Minute)

	err := locker.WithOrderLock(context.Background(), 3, func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrLockNotObtained)
	require.ErrorIs(t, err, ErrConsistency)
}

func TestRedisLockerNotObtainedWithinRequestDeadline(t *testing.T) {
	locker, mr := newTestLocker(t, 200*time.Millisecond)
	require.NoError(t, mr.Set(OrderLockKey(4), "someone-else"))
	mr.SetTTL(OrderLockKey(4), time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	called := false
	err := locker.WithOrderLock(ctx, 4, func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrLockNotObtained)
	require.False(t, called)
	require.Equal(t, "someone-else", mustGet(t, mr, OrderLockKey(4)))
}

func TestRedisLockerCallerCancelledIsNotConsistency(t *testing.T) {
	locker, mr := newTestLocker(t, time.Second)
	require.NoError(t, mr.Set(OrderLockKey(5), "someone-else"))
	mr.SetTTL(OrderLockKey(5), time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := locker.WithOrderLock(ctx, 5, func(context.Context) error { return nil })
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrConsistency)
}

func TestRedisLockerRetriesAfterEarlierContention(t *testing.T) {
	locker, mr := newTestLocker(t, 400*time.Millisecond)
	require.NoError(t, mr.Set(OrderLockKey(6), "someone-else"))
	mr.SetTTL(OrderLockKey(6), time.Minute)
	err := locker.WithOrderLock(context.Background(), 6, func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrLockNotObtained)

	// The holder releases shortly after the next caller starts waiting.
	require.NoError(t, mr.Set(OrderLockKey(7), "someone-else"))
	go func() {
		time.Sleep(60 * time.Millisecond)
		mr.Del(OrderLockKey(7))
	}()
	called := false
	err = locker.WithOrderLock(context.Background(), 7, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestScopeCanSee(t *testing.T) {
	require.True(t, Scope{}.CanSee(5))
	require.True(t, Scope{FCID: 5}.CanSee(5))
	require.False(t, Scope{FCID: 4}.CanSee(5))
}
