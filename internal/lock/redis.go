package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/paperhtml/renderd/internal/logger"
)

const (
	redisKeyPrefix = "renderd:lock:"
	retryInterval  = 50 * time.Millisecond
)

// unlockScript deletes the key only if it still holds our token.
var unlockScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript resets the expiry only if the key still holds our token.
var extendScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a Locker shared by every process using the same Redis server.
// Keys expire after ttl unless the holder is alive to extend them, so a
// crashed holder cannot block others forever.
type Redis struct {
	rdb *goredis.Client
	ttl time.Duration
}

var _ Locker = (*Redis)(nil)

// NewRedis connects to addr and verifies the connection
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

// Lock polls until key is acquired or ctx is done
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	rkey := redisKeyPrefix + key

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, rkey, token, r.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w %s: %v", ErrLockTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	go r.keepAlive(key, rkey, token, stop)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, r.rdb, []string{rkey}, token).Err(); err != nil {
				logger.Warnf("Failed to release lock %s: %v", key, err)
			}
		})
	}, nil
}

// keepAlive extends the key every third of the ttl until stop is closed or
// the key no longer holds token
func (r *Redis) keepAlive(key, rkey, token string, stop <-chan struct{}) {
	interval := r.ttl / 3
	if interval <= 0 {
		interval = r.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := extendScript.Run(ctx, r.rdb, []string{rkey}, token, r.ttl.Milliseconds()).Int()
		cancel()
		if err != nil {
			logger.Warnf("Failed to extend lock %s: %v", key, err)
			continue
		}
		if n == 0 {
			logger.Errorf("Lock %s was lost before it was released", key)
			return
		}
	}
}

// Close closes the Redis client
func (r *Redis) Close() error {
	return r.rdb.Close()
}
