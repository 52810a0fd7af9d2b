package cache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/redis/go-redis/v9"
)

type availabilityCache interface {
	Get(ctx context.Context, merchantID, slug string, window model.DateRange) ([]model.DateConfig, uint64, bool)
	Set(ctx context.Context, merchantID, slug string, window model.DateRange, gen uint64, configs []model.DateConfig)
	Invalidate(ctx context.Context, merchantID, slug string)
}

func mustDate(t *testing.T, s string) model.Date {
	t.Helper()
	d, err := model.ParseDate(s)
	if err != nil {
		t.Fatalf("ParseDate: %v", err)
	}
	return d
}

func exerciseCache(t *testing.T, c availabilityCache) {
	t.Helper()
	ctx := context.Background()
	march := model.DateRange{From: mustDate(t, "2026-03-01"), To: mustDate(t, "2026-03-31")}
	configs := []model.DateConfig{{
		ID:         "dc-1",
		MerchantID: "m1",
		StoreSlug:  "shop",
		Date:       mustDate(t, "2026-03-02"),
		Intervals:  []model.Interval{{ID: "iv-1", DateConfigID: "dc-1", Start: 540, End: 570, Available: true}},
	}}

	_, gen, ok := c.Get(ctx, "m1", "shop", march)
	if ok {
		t.Fatal("expected miss on empty cache")
	}
	_, otherGen, _ := c.Get(ctx, "m1", "other", march)
	c.Set(ctx, "m1", "shop", march, gen, configs)
	c.Set(ctx, "m1", "shop", model.DateRange{}, gen, configs)
	c.Set(ctx, "m1", "other", march, otherGen, configs)

	got, _, ok := c.Get(ctx, "m1", "shop", march)
	if !ok || len(got) != 1 || got[0].Date != configs[0].Date || got[0].Intervals[0].Start != 540 {
		t.Fatalf("unexpected cached value %+v ok=%v", got, ok)
	}
	if _, _, ok := c.Get(ctx, "m2", "shop", march); ok {
		t.Fatal("expected entries to be scoped by merchant")
	}

	c.Invalidate(ctx, "m1", "shop")
	if _, _, ok := c.Get(ctx, "m1", "shop", march); ok {
		t.Fatal("expected invalidated window to miss")
	}
	if _, _, ok := c.Get(ctx, "m1", "shop", model.DateRange{}); ok {
		t.Fatal("expected every window of the store to be invalidated")
	}
	if _, _, ok := c.Get(ctx, "m1", "other", march); !ok {
		t.Fatal("expected other store to stay cached")
	}

	// A reader that missed before the invalidation must not repopulate.
	c.Set(ctx, "m1", "shop", march, gen, configs)
	if _, _, ok := c.Get(ctx, "m1", "shop", march); ok {
		t.Fatal("expected a view read before Invalidate to be discarded")
	}
	_, fresh, _ := c.Get(ctx, "m1", "shop", march)
	if fresh == gen {
		t.Fatal("expected Invalidate to advance the generation")
	}
	c.Set(ctx, "m1", "shop", march, fresh, configs)
	if _, _, ok := c.Get(ctx, "m1", "shop", march); !ok {
		t.Fatal("expected a view read after Invalidate to be cached")
	}
}

func TestLRU(t *testing.T) {
	exerciseCache(t, NewLRU(16, time.Minute))
}

func TestLRUExpires(t *testing.T) {
	c := NewLRU(16, 20*time.Millisecond)
	c.Set(context.Background(), "m1", "shop", model.DateRange{}, 0, []model.DateConfig{})
	time.Sleep(60 * time.Millisecond)
	if _, _, ok := c.Get(context.Background(), "m1", "shop", model.DateRange{}); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestRedis(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })

	prefix := "test-availability-" + time.Now().Format("150405.000000")
	c := NewRedis(rdb, time.Minute, prefix, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	t.Cleanup(func() {
		for _, slug := range []string{"shop", "other"} {
			entries, gen := c.keys("m1", slug)
			_ = rdb.Del(context.Background(), entries, gen).Err()
		}
	})
	exerciseCache(t, c)
}
