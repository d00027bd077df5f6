// Package ratelimit implements sliding window admission control over a
// Redis sorted set per key.
package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vin-jex/relay-gateway/internal/observability"
)

// slidingWindowScript prunes, counts and conditionally records in one
// server-side step, so concurrent checks for the same key cannot both take
// the last slot.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
if count < limit then
	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, window)
	return {1, limit - count - 1}
end

return {0, 0}
`)

type Result struct {
	Allowed   bool
	Remaining int
	Limit     int
}

type Options struct {
	Now    func() time.Time
	Logger *slog.Logger
}

type Limiter struct {
	client redis.Scripter
	now    func() time.Time
	logger *slog.Logger
}

func NewLimiter(client redis.Scripter, options Options) *Limiter {
	if options.Now == nil {
		options.Now = time.Now
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	return &Limiter{
		client: client,
		now:    options.Now,
		logger: options.Logger,
	}
}

// Check admits the request if fewer than maxRequests were admitted for key
// within the trailing window. When Redis is unreachable the request is
// admitted.
func (l *Limiter) Check(
	ctx context.Context,
	key string,
	maxRequests int,
	window time.Duration,
) Result {
	nowMillis := l.now().UnixMilli()
	member := strconv.FormatInt(nowMillis, 10) + "-" + uuid.NewString()

	values, err := slidingWindowScript.Run(
		ctx,
		l.client,
		[]string{key},
		nowMillis,
		window.Milliseconds(),
		maxRequests,
		member,
	).Int64Slice()
	if err != nil || len(values) != 2 {
		l.logger.Warn("rate limiter unavailable, failing open", "key", key, "err", err)
		observability.RateLimitDecisions.WithLabelValues("fail_open").Inc()

		return Result{Allowed: true, Remaining: maxRequests, Limit: maxRequests}
	}

	result := Result{
		Allowed:   values[0] == 1,
		Remaining: int(values[1]),
		Limit:     maxRequests,
	}

	if result.Allowed {
		observability.RateLimitDecisions.WithLabelValues("allowed").Inc()
	} else {
		observability.RateLimitDecisions.WithLabelValues("denied").Inc()
	}

	return result
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
