package dyncache

import (
	"strings"
	"sync"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

type Cacher interface {
	Get(key string, ttlOverride time.Duration) (value any, ok bool)
	Set(key string, value any, ttl time.Duration)
	Del(key string) bool
	DelPrefix(prefix string) int
	EvictExpired() int
	Clear()
	Len() int64
	Mem() int64
	HitRate() float64
	CacheMetrics() (hits, misses, expired, sweeps int64)
}

// Cache is an in-process map of responses with per-entry TTL.
// Expired entries are removed on read, by EvictExpired and by capacity sweeps; there is no LRU.
type Cache struct {
	cfg    *config.CacheCfg
	clock  clock.Clock
	logger zerolog.Logger

	mu    sync.Mutex
	items map[uint64]*Entry
	mem   int64

	counters *counters
}

func New(cfg *config.CacheCfg, clk clock.Clock, logger zerolog.Logger) *Cache {
	return &Cache{
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With().Str("component", "cache").Logger(),
		items:    make(map[uint64]*Entry),
		counters: newCounters(),
	}
}

// Get returns the value stored under key if it is still fresh. A positive ttlOverride
// replaces the entry's own TTL for this check. Expired entries are deleted.
func (c *Cache) Get(key string, ttlOverride time.Duration) (any, bool) {
	k := NewKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.items[k.Value()]
	if !found || !entry.key.IsTheSame(k) {
		// miss or hash collision
		c.counters.misses.Add(1)
		return nil, false
	}

	if entry.isExpired(c.clock.Now(), ttlOverride) {
		c.removeUnlocked(k.Value(), entry)
		c.counters.expired.Add(1)
		c.counters.misses.Add(1)
		return nil, false
	}

	c.counters.hits.Add(1)
	return entry.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	k := NewKey(key)
	entry := &Entry{
		key:      k,
		raw:      key,
		value:    value,
		storedAt: c.clock.Now(),
		ttl:      ttl,
		sizeHint: sizeOf(value),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, found := c.items[k.Value()]; found {
		c.mem -= old.sizeHint
	}
	c.items[k.Value()] = entry
	c.mem += entry.sizeHint

	if len(c.items) > c.cfg.SweepThreshold {
		c.counters.sweeps.Add(1)
		if n := c.evictExpiredUnlocked(); n > 0 {
			c.logger.Debug().Int("evicted", n).Int("entries", len(c.items)).Msg("capacity sweep")
		}
	}
}

func (c *Cache) Del(key string) bool {
	k := NewKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.items[k.Value()]
	if !found || !entry.key.IsTheSame(k) {
		return false
	}
	c.removeUnlocked(k.Value(), entry)
	return true
}

// DelPrefix removes every entry whose key starts with prefix and returns how many were removed.
func (c *Cache) DelPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int
	for hk, entry := range c.items {
		if strings.HasPrefix(entry.raw, prefix) {
			c.removeUnlocked(hk, entry)
			n++
		}
	}
	return n
}

// EvictExpired removes every expired entry and returns how many were removed.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictExpiredUnlocked()
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[uint64]*Entry)
	c.mem = 0
}

func (c *Cache) Len() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.items))
}

// Mem returns the summed size hints of all entries.
func (c *Cache) Mem() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mem
}

// HitRate returns hits / (hits + misses), or 0 before the first lookup.
func (c *Cache) HitRate() float64 {
	hits, misses := c.counters.hits.Load(), c.counters.misses.Load()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func (c *Cache) CacheMetrics() (hits, misses, expired, sweeps int64) {
	return c.counters.snapshot()
}

func (c *Cache) evictExpiredUnlocked() int {
	now := c.clock.Now()

	var n int
	for hk, entry := range c.items {
		if entry.isExpired(now, 0) {
			c.removeUnlocked(hk, entry)
			n++
		}
	}
	if n > 0 {
		c.counters.expired.Add(int64(n))
	}
	return n
}

func (c *Cache) removeUnlocked(hk uint64, entry *Entry) {
	delete(c.items, hk)
	c.mem -= entry.sizeHint
}
