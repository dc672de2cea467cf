package sweeper

import "sync/atomic"

type sweeperCounters struct {
	scans    atomic.Int64
	scanHits atomic.Int64 // scans that removed at least one entry
	evicted  atomic.Int64
}

func (c *sweeperCounters) snapshot() (scans, hits, evicted int64) {
	return c.scans.Load(), c.scanHits.Load(), c.evicted.Load()
}

func newSweeperCounters() *sweeperCounters {
	return &sweeperCounters{}
}
