package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/taxi-dispatch/internal/errs"
)

// KEYS[1] global history, KEYS[2] action history (sorted sets scored by unix millis)
// ARGV: now, per-minute, per-hour, action limit, action window ms, member
// returns {code, retry_after_ms}: 0 allowed, 1 minute budget, 2 hour budget, 3 action budget
var allowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local per_min = tonumber(ARGV[2])
local per_hour = tonumber(ARGV[3])
local act_limit = tonumber(ARGV[4])
local act_window = tonumber(ARGV[5])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - 3600000)
if per_min > 0 and redis.call("ZCOUNT", KEYS[1], "(" .. (now - 60000), "+inf") >= per_min then
	return {1, 0}
end
if per_hour > 0 and redis.call("ZCARD", KEYS[1]) >= per_hour then
	return {2, 0}
end
if act_limit > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[2], "-inf", now - act_window)
	if redis.call("ZCARD", KEYS[2]) >= act_limit then
		local oldest = redis.call("ZRANGE", KEYS[2], 0, 0, "WITHSCORES")
		return {3, tonumber(oldest[2]) + act_window - now}
	end
	redis.call("ZADD", KEYS[2], now, ARGV[6])
	redis.call("PEXPIRE", KEYS[2], act_window)
end
redis.call("ZADD", KEYS[1], now, ARGV[6])
redis.call("PEXPIRE", KEYS[1], 3600000)
return {0, 0}
`)

// Redis shares rate-limit state between service instances. Keys expire on their own,
// so no cleanup pass is needed.
type Redis struct {
	client redis.Cmdable
	cfg    Config
	prefix string
	now    func() time.Time
}

func NewRedis(client redis.Cmdable, cfg Config, prefix string) *Redis {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &Redis{client: client, cfg: cfg, prefix: prefix, now: time.Now}
}

func (r *Redis) globalKey(clientID int64) string {
	return fmt.Sprintf("%s%d", r.prefix, clientID)
}

func (r *Redis) actionKey(clientID int64, a Action) string {
	return fmt.Sprintf("%s%d:%s", r.prefix, clientID, a)
}

func (r *Redis) Allow(ctx context.Context, clientID int64, action Action) (Decision, error) {
	p := r.cfg.Actions[action]
	res, err := allowScript.Run(ctx, r.client,
		[]string{r.globalKey(clientID), r.actionKey(clientID, action)},
		r.now().UnixMilli(), r.cfg.PerMinute, r.cfg.PerHour, p.Limit, p.Window.Milliseconds(), uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, errs.NewUnavailableError("rate limit", err)
	}
	if len(res) != 2 {
		return Decision{}, errs.NewUnavailableError("rate limit", fmt.Errorf("unexpected script reply %v", res))
	}
	switch res[0] {
	case 0:
		return Decision{Allowed: true}, nil
	case 1:
		return Decision{Reason: reasonPerMinute}, nil
	case 2:
		return Decision{Reason: reasonPerHour}, nil
	default:
		return Decision{Reason: actionReason(action, p), RetryAfter: time.Duration(res[1]) * time.Millisecond}, nil
	}
}

func (r *Redis) Stats(ctx context.Context, clientID int64) (Stats, error) {
	now := r.now().UnixMilli()
	key := r.globalKey(clientID)
	pipe := r.client.TxPipeline()
	minute := pipe.ZCount(ctx, key, fmt.Sprintf("(%d", now-60000), "+inf")
	hour := pipe.ZCount(ctx, key, fmt.Sprintf("(%d", now-3600000), "+inf")
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, errs.NewUnavailableError("rate limit stats", err)
	}
	return r.cfg.stats(int(minute.Val()), int(hour.Val())), nil
}

func (r *Redis) Reset(ctx context.Context, clientID int64) error {
	keys := []string{r.globalKey(clientID)}
	for a := range r.cfg.Actions {
		keys = append(keys, r.actionKey(clientID, a))
	}
	keys = append(keys, r.actionKey(clientID, ActionDefault))
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return errs.NewUnavailableError("rate limit reset", err)
	}
	return nil
}
