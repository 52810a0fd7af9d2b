package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
)

// LRU is an in-process availability cache for single-instance deployments.
type LRU struct {
	mu      sync.Mutex
	gens    map[string]uint64
	entries *expirable.LRU[string, []model.DateConfig]
}

func NewLRU(size int, ttl time.Duration) *LRU {
	if size <= 0 {
		size = 1024
	}
	return &LRU{
		gens:    map[string]uint64{},
		entries: expirable.NewLRU[string, []model.DateConfig](size, nil, ttl),
	}
}

func (c *LRU) Get(_ context.Context, merchantID, slug string, window model.DateRange) ([]model.DateConfig, uint64, bool) {
	scope := scopeKey(merchantID, slug)
	c.mu.Lock()
	defer c.mu.Unlock()
	configs, ok := c.entries.Get(scope + "|" + windowKey(window))
	return configs, c.gens[scope], ok
}

func (c *LRU) Set(_ context.Context, merchantID, slug string, window model.DateRange, gen uint64, configs []model.DateConfig) {
	scope := scopeKey(merchantID, slug)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[scope] != gen {
		return
	}
	c.entries.Add(scope+"|"+windowKey(window), configs)
}

func (c *LRU) Invalidate(_ context.Context, merchantID, slug string) {
	scope := scopeKey(merchantID, slug)
	prefix := scope + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[scope]++
	for _, k := range c.entries.Keys() {
		if strings.HasPrefix(k, prefix) {
			c.entries.Remove(k)
		}
	}
}
