package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-dispatch/internal/errs"
)

// compare-and-delete so a lease never removes a lock it no longer owns
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares dispatch locks between service instances.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (r *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, errs.NewUnavailableError("acquire lock", err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &redisLease{client: r.client, key: r.prefix + key, token: token}, nil
}

type redisLease struct {
	client redis.Cmdable
	key    string
	token  string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return errs.NewUnavailableError("release lock", err)
	}
	return nil
}
