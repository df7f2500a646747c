package locking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/oneshot/workshop-ledger/inventory"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// REDIS LOCKER
// =============================================================================

// Redis holds one redislock per key. TTL bounds how long a crashed holder
// can block others; Retries and Backoff bound how long Lock waits.
type Redis struct {
	client  *redislock.Client
	prefix  string
	ttl     time.Duration
	retries int
	backoff time.Duration
	logger  *zap.Logger
}

var _ inventory.Locker = (*Redis)(nil)

type RedisOptions struct {
	Prefix  string
	TTL     time.Duration
	Retries int
	Backoff time.Duration
	Logger  *zap.Logger
}

func NewRedis(rdb redis.UniversalClient, opts RedisOptions) *Redis {
	r := &Redis{
		client:  redislock.New(rdb),
		prefix:  opts.Prefix,
		ttl:     opts.TTL,
		retries: opts.Retries,
		backoff: opts.Backoff,
		logger:  opts.Logger,
	}
	if r.prefix == "" {
		r.prefix = "workshop:lock:"
	}
	if r.ttl <= 0 {
		r.ttl = 30 * time.Second
	}
	if r.retries <= 0 {
		r.retries = 20
	}
	if r.backoff <= 0 {
		r.backoff = 50 * time.Millisecond
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(r.backoff), r.retries),
	}

	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		// Release must work even when the request context is already done.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(rctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.logger.Warn("release redis lock", zap.String("key", held[i].Key()), zap.Error(err))
			}
		}
	}

	for _, key := range keys {
		lock, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, opts)
		if errors.Is(err, redislock.ErrNotObtained) {
			release()
			return nil, fmt.Errorf("%w: %s", inventory.ErrLockNotObtained, key)
		}
		if err != nil {
			release()
			return nil, fmt.Errorf("obtain lock %s: %w", key, err)
		}
		held = append(held, lock)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}
