package locking

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLocal_SerialisesSameKey(t *testing.T) {
	l := NewLocal(0)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "stock:a")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
}

func TestLocal_TimesOut(t *testing.T) {
	// GIVEN: a key already held
	l := NewLocal(20 * time.Millisecond)
	unlock, err := l.Lock(context.Background(), "stock:a")
	require.NoError(t, err)
	defer unlock()

	// WHEN: another caller wants it plus a free key
	_, err = l.Lock(context.Background(), "stock:0", "stock:a")

	// THEN: it gives up with a retryable error and releases what it took
	require.ErrorIs(t, err, inventory.ErrLockNotObtained)
	assert.True(t, inventory.IsRetryable(err))

	again, err := l.Lock(context.Background(), "stock:0")
	require.NoError(t, err)
	again()
}

func TestLocal_UnlockIsIdempotent(t *testing.T) {
	l := NewLocal(0)
	unlock, err := l.Lock(context.Background(), "stock:a", "stock:b")
	require.NoError(t, err)
	unlock()
	unlock()

	unlock, err = l.Lock(context.Background(), "stock:a", "stock:b")
	require.NoError(t, err)
	unlock()
}

// =============================================================================
// REDIS (skipped without a reachable server)
// =============================================================================

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not reachable at %s: %v", addr, err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestRedis_LockAndRelease(t *testing.T) {
	rdb := redisClient(t)
	prefix := "test:" + uuid.NewString() + ":"
	r := NewRedis(rdb, RedisOptions{Prefix: prefix, TTL: time.Second, Retries: 2, Backoff: 10 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "stock:a", "stock:b")
	require.NoError(t, err)

	_, err = r.Lock(ctx, "stock:b")
	require.ErrorIs(t, err, inventory.ErrLockNotObtained)

	unlock()

	unlock, err = r.Lock(ctx, "stock:b")
	require.NoError(t, err)
	unlock()
}

func TestRedis_UnlockFromManyGoroutines(t *testing.T) {
	rdb := redisClient(t)
	prefix := "test:" + uuid.NewString() + ":"
	r := NewRedis(rdb, RedisOptions{Prefix: prefix, TTL: time.Second, Retries: 2, Backoff: 10 * time.Millisecond, Logger: zaptest.NewLogger(t)})
	ctx := context.Background()

	// GIVEN: two held keys
	unlock, err := r.Lock(ctx, "stock:a", "stock:b")
	require.NoError(t, err)

	// WHEN: the release func is called concurrently
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock()
		}()
	}
	wg.Wait()

	// THEN: both keys are free again
	unlock, err = r.Lock(ctx, "stock:a", "stock:b")
	require.NoError(t, err)
	unlock()
}
