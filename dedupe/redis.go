package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it is still held by this caller.
// KEYS[1] = lock key
// ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a Locker implementation backed by a redis SET NX lease, for
// mutual exclusion across hosts sharing one store. Like FSLockGroup it does
// not share results. The lease expires after ttl so a crashed holder cannot
// wedge a key forever.
type RedisLock struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// NewRedisLock creates a RedisLock connected to addr.
func NewRedisLock(addr, password string, db int, ttl, timeout time.Duration) *RedisLock {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisLockWithClient(rdb, ttl, timeout)
}

// NewRedisLockWithClient creates a RedisLock using an existing client.
func NewRedisLockWithClient(client redis.UniversalClient, ttl, timeout time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = defaultLockTimeout
	}
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	return &RedisLock{
		client:  client,
		prefix:  "mediacache:lock:",
		ttl:     ttl,
		timeout: timeout,
	}
}

// DoWithLock executes fn while holding the redis lease for key.
func (r *RedisLock) DoWithLock(ctx context.Context, key string, fn func() (interface{}, error)) (interface{}, error) {
	lockKey := r.prefix + key
	token := uuid.NewString()

	lockCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	for {
		ok, err := r.client.SetNX(lockCtx, lockKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}
		if ok {
			break
		}
		select {
		case <-lockCtx.Done():
			return nil, fmt.Errorf("failed to acquire lock: %w", lockCtx.Err())
		case <-time.After(lockRetryDelay):
		}
	}
	defer func() {
		// Release on a fresh context so a cancelled caller still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, r.client, []string{lockKey}, token).Err()
	}()

	return fn()
}

// Close closes the underlying redis client.
func (r *RedisLock) Close() error {
	return r.client.Close()
}
