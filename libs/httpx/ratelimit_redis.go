package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter is a fixed-window limiter shared by every gateway
// instance through Redis.
type RedisRateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// The script returns the hit count and the remaining window in ms.
var redisFixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("PTTL", KEYS[1])}
`)

func NewRedisRateLimiter(rdb *redis.Client, limit int, window time.Duration, prefix string) *RedisRateLimiter {
	if limit <= 0 {
		limit = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisRateLimiter{rdb: rdb, limit: limit, window: window, prefix: prefix}
}

// Middleware limits requests per client. With failOpen a Redis outage lets
// traffic through; otherwise callers get 503.
func (rl *RedisRateLimiter) Middleware(logger *slog.Logger, failOpen bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			count, ttl, err := rl.hit(r.Context(), rl.prefix+":"+clientKey(r))
			if err != nil {
				logger.Warn("redis rate limiter error", "err", err)
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				WriteError(w, http.StatusServiceUnavailable, "rate_limiter_unavailable")
				return
			}
			if count > int64(rl.limit) {
				writeRateLimited(w, ttl)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RedisRateLimiter) hit(ctx context.Context, key string) (int64, time.Duration, error) {
	vals, err := redisFixedWindowScript.Run(ctx, rl.rdb, []string{key}, rl.window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(vals) != 2 {
		return 0, 0, redis.Nil
	}
	return vals[0], time.Duration(vals[1]) * time.Millisecond, nil
}
