package reqguard

import (
	"sync/atomic"

	"github.com/Alexander199824/reqguard/internal/breaker"
	"github.com/Alexander199824/reqguard/internal/scheduler"
)

type (
	CircuitState  = breaker.State
	BreakerStatus = breaker.Status
	QueueDepths   = scheduler.Depths
)

const (
	CircuitClosed   = breaker.Closed
	CircuitOpen     = breaker.Open
	CircuitHalfOpen = breaker.HalfOpen
)

// Stats is a point-in-time view of the orchestrator. Counters are cumulative.
type Stats struct {
	Total                int64
	Success              int64
	Errors               int64
	CacheHits            int64
	CircuitBreakerBlocks int64
	RateLimited          int64
	Deduplicated         int64

	// Cancelled counts callers that stopped waiting because their context ended; they are also in Errors.
	Cancelled int64

	Breaker BreakerStatus
	Queues  QueueDepths
	Running int

	CacheSize    int64
	CacheMem     int64
	CacheHitRate float64

	RateLimitCeiling int
	// RateLimitUsage is the share of the current ceiling used in the window, in percent.
	RateLimitUsage float64

	ActiveSyncs int
}

func (o *Orchestrator) Stats() Stats {
	total, success, errs, hits, blocked, limited, deduped := o.RequestMetrics()
	return Stats{
		Total:                total,
		Success:              success,
		Errors:               errs,
		CacheHits:            hits,
		CircuitBreakerBlocks: blocked,
		RateLimited:          limited,
		Deduplicated:         deduped,
		Cancelled:            o.counters.cancelled.Load(),

		Breaker: o.breaker.Status(),
		Queues:  o.scheduler.Depths(),
		Running: o.scheduler.Running(),

		CacheSize:    o.cache.Len(),
		CacheMem:     o.cache.Mem(),
		CacheHitRate: o.cache.HitRate(),

		RateLimitCeiling: o.limiter.Ceiling(),
		RateLimitUsage:   o.limiter.Usage(),

		ActiveSyncs: o.syncer.Active(),
	}
}

// RequestMetrics returns the cumulative request counters.
func (o *Orchestrator) RequestMetrics() (total, success, errors, cacheHits, blocked, rateLimited, deduplicated int64) {
	c := o.counters
	return c.total.Load(), c.success.Load(), c.errors.Load(), c.cacheHits.Load(),
		c.blocked.Load(), c.rateLimited.Load(), c.deduplicated.Load()
}

type counters struct {
	total        atomic.Int64
	success      atomic.Int64
	errors       atomic.Int64
	cacheHits    atomic.Int64
	blocked      atomic.Int64
	rateLimited  atomic.Int64
	deduplicated atomic.Int64
	cancelled    atomic.Int64
}
