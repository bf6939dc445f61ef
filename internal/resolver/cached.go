package resolver

import (
	"context"
	"sync"
	"time"
)

const DefaultCacheTTL = 10 * time.Minute

type cacheEntry struct {
	info    AgentInfo
	fetched time.Time
}

// Cached fronts another resolver with a TTL cache so ownership is not
// re-derived on every lifecycle call.
type Cached struct {
	inner Resolver
	ttl   time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewCached(inner Resolver, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *Cached) Resolve(ctx context.Context, agentID string) (AgentInfo, error) {
	c.mu.Lock()
	if entry, ok := c.entries[agentID]; ok && c.now().Sub(entry.fetched) < c.ttl {
		c.mu.Unlock()
		return entry.info, nil
	}
	c.mu.Unlock()

	info, err := c.inner.Resolve(ctx, agentID)
	if err != nil {
		return AgentInfo{}, err
	}

	c.mu.Lock()
	c.entries[agentID] = cacheEntry{info: info, fetched: c.now()}
	c.mu.Unlock()
	return info, nil
}
