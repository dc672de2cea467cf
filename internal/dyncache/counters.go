package dyncache

import "sync/atomic"

type counters struct {
	hits    atomic.Int64
	misses  atomic.Int64
	expired atomic.Int64 // entries removed because their TTL elapsed
	sweeps  atomic.Int64 // capacity-triggered sweeps
}

func newCounters() *counters {
	return &counters{}
}

func (c *counters) snapshot() (hits, misses, expired, sweeps int64) {
	return c.hits.Load(), c.misses.Load(), c.expired.Load(), c.sweeps.Load()
}
