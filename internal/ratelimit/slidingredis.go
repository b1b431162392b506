package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
)

// slidingScript trims entries older than the window and admits the request
// only while the window holds fewer than limit entries. Rejected requests
// are not recorded, so a client hammering the endpoint cannot extend its own
// ban. Returns {allowed, count, oldestMillis}.
var slidingScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count < limit then
	redis.call("ZADD", key, now, ARGV[4])
	redis.call("PEXPIRE", key, window)
	return {1, count + 1, now}
end
local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
return {0, count, tonumber(oldest[2])}`)

// Sliding is a sliding window limiter on Redis sorted sets. It is stricter
// than Fixed at window edges and guards the admin surface.
type Sliding struct {
	Client redis.UniversalClient
	Prefix string
	Rate   limiter.Rate
}

// Allow records a request for key when it fits in the window.
func (l Sliding) Allow(ctx context.Context, key string) (Decision, error) {
	window, limit := l.Rate.Period, int(l.Rate.Limit)
	now := time.Now()
	if l.Client == nil || limit <= 0 || window <= 0 {
		return Decision{Allowed: true, Limit: limit, Remaining: limit, Reset: now.Add(window)}, nil
	}

	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		now.UnixMilli(), window.Milliseconds(), limit, uuid.NewString()).Int64Slice()
	if err != nil {
		return Decision{Limit: limit, Reset: now.Add(window)}, err
	}
	allowed, count, oldest := res[0] == 1, int(res[1]), res[2]
	return Decision{
		Allowed:   allowed,
		Limit:     limit,
		Remaining: max(limit-count, 0),
		Reset:     time.UnixMilli(oldest).Add(window),
	}, nil
}
