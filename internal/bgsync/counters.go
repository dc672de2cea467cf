package bgsync

import "sync/atomic"

type syncCounters struct {
	refreshes atomic.Int64 // successful refreshes
	errors    atomic.Int64 // failed refreshes
	ticks     atomic.Int64 // total ticks across keys
	skipped   atomic.Int64 // ticks skipped while paused or unregistered
}

func newSyncCounters() *syncCounters {
	return &syncCounters{}
}

func (c *syncCounters) snapshot() (refreshes, errors, ticks, skipped int64) {
	return c.refreshes.Load(), c.errors.Load(), c.ticks.Load(), c.skipped.Load()
}
