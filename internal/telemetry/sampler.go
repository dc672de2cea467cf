package telemetry

import "fmt"

type sampler struct {
	comps Components
}

func newSampler(c Components) sampler {
	return sampler{comps: c}
}

// snapshot holds cumulative counters (monotonic).
type snapshot struct {
	total        uint64
	success      uint64
	errors       uint64
	cacheHits    uint64
	blocked      uint64
	rateLimited  uint64
	deduplicated uint64

	cacheExpired uint64
	sweptEntries uint64

	limiterAllowed  uint64
	limiterRejected uint64

	syncRefreshes uint64
	syncErrors    uint64
	syncSkipped   uint64
}

func (s sampler) snapshot() snapshot {
	total, success, errs, hits, blocked, limited, deduped := s.comps.Requests.RequestMetrics()
	_, _, expired, _ := s.comps.Cache.CacheMetrics()
	_, _, swept := s.comps.Sweeper.SweeperMetrics()
	allowed, rejected, _ := s.comps.Limiter.LimiterMetrics()
	refreshes, syncErrs, _, skipped := s.comps.Syncer.SyncMetrics()

	return snapshot{
		total:        u(total),
		success:      u(success),
		errors:       u(errs),
		cacheHits:    u(hits),
		blocked:      u(blocked),
		rateLimited:  u(limited),
		deduplicated: u(deduped),

		cacheExpired: u(expired),
		sweptEntries: u(swept),

		limiterAllowed:  u(allowed),
		limiterRejected: u(rejected),

		syncRefreshes: u(refreshes),
		syncErrors:    u(syncErrs),
		syncSkipped:   u(skipped),
	}
}

// deltaSnapshot converts cumulative snapshots to per-interval deltas.
// If counters reset (cur < prev), it treats cur as the delta.
func deltaSnapshot(prev, cur snapshot) snapshot {
	return snapshot{
		total:        delta(prev.total, cur.total),
		success:      delta(prev.success, cur.success),
		errors:       delta(prev.errors, cur.errors),
		cacheHits:    delta(prev.cacheHits, cur.cacheHits),
		blocked:      delta(prev.blocked, cur.blocked),
		rateLimited:  delta(prev.rateLimited, cur.rateLimited),
		deduplicated: delta(prev.deduplicated, cur.deduplicated),

		cacheExpired: delta(prev.cacheExpired, cur.cacheExpired),
		sweptEntries: delta(prev.sweptEntries, cur.sweptEntries),

		limiterAllowed:  delta(prev.limiterAllowed, cur.limiterAllowed),
		limiterRejected: delta(prev.limiterRejected, cur.limiterRejected),

		syncRefreshes: delta(prev.syncRefreshes, cur.syncRefreshes),
		syncErrors:    delta(prev.syncErrors, cur.syncErrors),
		syncSkipped:   delta(prev.syncSkipped, cur.syncSkipped),
	}
}

func delta(prev, cur uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return cur
}

func u(v int64) uint64 { return uint64(max(v, 0)) }

// FmtMem renders a byte count in a compact human form.
func FmtMem(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%dGB %dMB", bytes/GB, bytes%GB/MB)
	case bytes >= MB:
		return fmt.Sprintf("%dMB %dKB", bytes/MB, bytes%MB/KB)
	case bytes >= KB:
		return fmt.Sprintf("%dKB %dB", bytes/KB, bytes%KB)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}
