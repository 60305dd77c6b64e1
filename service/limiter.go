package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript admits a start when fewer than ARGV[2] starts were
// recorded in the last ARGV[3] milliseconds. It returns 0 on admission or the
// milliseconds until the oldest start leaves the window.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
if count < limit then
  redis.call("ZADD", key, now, member)
  redis.call("PEXPIRE", key, window)
  return 0
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
local wait = tonumber(oldest[2]) + window - now
if wait < 1 then
  wait = 1
end
return wait
`)

// StartLimiter bounds how many pipeline runs may start per window across
// every worker process sharing the redis instance.
type StartLimiter struct {
	rdb    redis.UniversalClient
	key    string
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewStartLimiter(rdb redis.UniversalClient, key string, limit int, window time.Duration) *StartLimiter {
	return &StartLimiter{
		rdb:    rdb,
		key:    key,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// Allow claims a start slot. When the window is full it returns false and
// how long to wait before trying again.
func (l *StartLimiter) Allow(ctx context.Context) (bool, time.Duration, error) {
	now := l.now().UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.rdb, []string{l.key},
		now,
		l.limit,
		l.window.Milliseconds(),
		strconv.FormatInt(now, 10)+"-"+uuid.NewString(),
	).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("start limiter: %w", err)
	}
	if res == 0 {
		return true, 0, nil
	}
	return false, time.Duration(res) * time.Millisecond, nil
}

// RateLimitError defers a job without counting it as a failed attempt.
type RateLimitError struct {
	RetryIn time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (retry in %v)", e.RetryIn)
}

func IsRateLimitError(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}
