package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/redis/go-redis/v9"
)

// setIfCurrent writes a window only while the store's generation is still
// the one the reader saw.
var setIfCurrent = redis.NewScript(`
local gen = redis.call("GET", KEYS[2]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("HSET", KEYS[1], ARGV[2], ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// Redis shares availability between service instances. Each store is one
// hash whose fields are date windows, next to a generation counter. Both
// keys share a hash tag so they land in the same cluster slot. Redis errors
// are logged and treated as misses.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

func NewRedis(rdb *redis.Client, ttl time.Duration, prefix string, logger *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if prefix == "" {
		prefix = "availability"
	}
	return &Redis{rdb: rdb, ttl: ttl, prefix: prefix, logger: logger}
}

func (c *Redis) keys(merchantID, slug string) (entries, gen string) {
	base := c.prefix + ":{" + scopeKey(merchantID, slug) + "}"
	return base, base + ":gen"
}

func (c *Redis) Get(ctx context.Context, merchantID, slug string, window model.DateRange) ([]model.DateConfig, uint64, bool) {
	entriesKey, genKey := c.keys(merchantID, slug)
	pipe := c.rdb.Pipeline()
	genCmd := pipe.Get(ctx, genKey)
	rawCmd := pipe.HGet(ctx, entriesKey, windowKey(window))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("availability cache get failed", "err", err, "slug", slug)
		// A generation no Set can match keeps this reader from caching.
		return nil, ^uint64(0), false
	}

	var gen uint64
	if v, err := genCmd.Uint64(); err == nil {
		gen = v
	}
	raw, err := rawCmd.Bytes()
	if err != nil {
		return nil, gen, false
	}
	var configs []model.DateConfig
	if err := json.Unmarshal(raw, &configs); err != nil {
		c.logger.Warn("availability cache entry unreadable", "err", err, "slug", slug)
		return nil, gen, false
	}
	return configs, gen, true
}

func (c *Redis) Set(ctx context.Context, merchantID, slug string, window model.DateRange, gen uint64, configs []model.DateConfig) {
	raw, err := json.Marshal(configs)
	if err != nil {
		c.logger.Warn("availability cache encode failed", "err", err, "slug", slug)
		return
	}
	entriesKey, genKey := c.keys(merchantID, slug)
	err = setIfCurrent.Run(ctx, c.rdb, []string{entriesKey, genKey},
		strconv.FormatUint(gen, 10), windowKey(window), raw, c.ttl.Milliseconds()).Err()
	if err != nil {
		c.logger.Warn("availability cache set failed", "err", err, "slug", slug)
	}
}

func (c *Redis) Invalidate(ctx context.Context, merchantID, slug string) {
	entriesKey, genKey := c.keys(merchantID, slug)
	pipe := c.rdb.TxPipeline()
	pipe.Incr(ctx, genKey)
	pipe.Del(ctx, entriesKey)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("availability cache invalidate failed", "err", err, "slug", slug)
	}
}

// Ping reports whether Redis is reachable.
func (c *Redis) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
