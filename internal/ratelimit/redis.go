package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// takeWindowScript keeps a sorted set of acquisition timestamps per key.
// It returns 0 when a slot was taken, otherwise milliseconds until the
// oldest entry leaves the window.
var takeWindowScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
if redis.call('ZCARD', KEYS[1]) < limit then
	redis.call('ZADD', KEYS[1], now, ARGV[4])
	redis.call('PEXPIRE', KEYS[1], window)
	return 0
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
	wait = 1
end
return wait
`)

type redisWindow struct {
	client goredis.UniversalClient
	prefix string
}

func (r *redisWindow) take(ctx context.Context, key string, rule Rule, now time.Time) (time.Duration, error) {
	window := rule.Window
	if window <= 0 {
		window = time.Second
	}
	limit := max(rule.Limit, 1)
	waitMS, err := takeWindowScript.Run(ctx, r.client, []string{r.prefix + ":" + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis rate limit %s: %w", key, err)
	}
	return time.Duration(waitMS) * time.Millisecond, nil
}
