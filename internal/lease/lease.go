package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Leaser guards a row against a second worker while an attempt is running.
// It sits alongside the database claim; tables without a status column
// rely on it alone.
type Leaser interface {
	Acquire(ctx context.Context, table, id, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, table, id, holder string) error
}

// Key pattern: transcode:lease:<table>:<id>
const keyPattern = "transcode:lease:%s:%s"

// KeyGlob matches every lease key
const KeyGlob = "transcode:lease:*"

// releaseScript deletes the key only while holder still owns it, so an
// attempt that outlived its TTL cannot drop a newer lease.
const releaseScript = `
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`

// RedisLeaser implements Leaser with SET NX PX
type RedisLeaser struct {
	redis *redis.Client
}

func NewRedisLeaser(redisClient *redis.Client) *RedisLeaser {
	return &RedisLeaser{redis: redisClient}
}

func key(table, id string) string {
	return fmt.Sprintf(keyPattern, table, id)
}

// Acquire returns true when holder now owns the lease
func (l *RedisLeaser) Acquire(ctx context.Context, table, id, holder string, ttl time.Duration) (bool, error) {
	ok, err := l.redis.SetNX(ctx, key(table, id), holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease acquire failed: %w", err)
	}
	return ok, nil
}

// Release drops the lease if holder still owns it
func (l *RedisLeaser) Release(ctx context.Context, table, id, holder string) error {
	if err := l.redis.Eval(ctx, releaseScript, []string{key(table, id)}, holder).Err(); err != nil {
		return fmt.Errorf("lease release failed: %w", err)
	}
	return nil
}

// Nop is used when no Redis is configured; every acquire succeeds.
type Nop struct{}

func (Nop) Acquire(context.Context, string, string, string, time.Duration) (bool, error) {
	return true, nil
}

func (Nop) Release(context.Context, string, string, string) error {
	return nil
}

var (
	_ Leaser = (*RedisLeaser)(nil)
	_ Leaser = Nop{}
)
