package telemetry

import (
	"context"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/Alexander199824/reqguard/internal/bgsync"
	"github.com/Alexander199824/reqguard/internal/breaker"
	"github.com/Alexander199824/reqguard/internal/dyncache"
	"github.com/Alexander199824/reqguard/internal/ratelimit"
	"github.com/Alexander199824/reqguard/internal/scheduler"
	"github.com/Alexander199824/reqguard/internal/sweeper"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// RequestCounter exposes the orchestrator's cumulative request counters.
type RequestCounter interface {
	RequestMetrics() (total, success, errors, cacheHits, blocked, rateLimited, deduplicated int64)
}

// Components are the sampled subsystems.
type Components struct {
	Requests  RequestCounter
	Breaker   breaker.Breaker
	Scheduler scheduler.Scheduler
	Cache     dyncache.Cacher
	Limiter   ratelimit.Limiter
	Syncer    bgsync.Syncer
	Sweeper   sweeper.Sweeper
}

type Logger interface {
	Interval() time.Duration
	Close() error
}

type Logs struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.TelemetryCfg
	clock    clock.Clock
	logger   zerolog.Logger
	comps    Components
	interval time.Duration
}

func New(
	ctx context.Context,
	cfg *config.TelemetryCfg,
	clk clock.Clock,
	logger zerolog.Logger,
	comps Components,
) *Logs {
	ctx, cancel := context.WithCancel(ctx)
	return (&Logs{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With().Str("component", "telemetry").Logger(),
		comps:    comps,
		interval: cfg.Interval,
	}).run()
}

func (l *Logs) Interval() time.Duration {
	return l.interval
}

func (l *Logs) Close() error {
	l.cancel()
	return nil
}

func (l *Logs) run() *Logs {
	if l.cfg != nil && l.cfg.Enabled {
		s := newSampler(l.comps)
		go l.loop(s, s.snapshot(), l.clock.Ticker(l.interval))
	}
	return l
}

func (l *Logs) loop(s sampler, prev snapshot, ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-l.ctx.Done():
			return

		case <-ticker.C:
			cur := s.snapshot()
			d := deltaSnapshot(prev, cur)
			prev = cur
			l.emit(d)
		}
	}
}

func (l *Logs) emit(d snapshot) {
	interval := l.interval.String()

	l.logger.Info().Str("interval", interval).
		Uint64("total", d.total).
		Uint64("success", d.success).
		Uint64("errors", d.errors).
		Uint64("cache_hits", d.cacheHits).
		Uint64("breaker_blocks", d.blocked).
		Uint64("rate_limited", d.rateLimited).
		Uint64("deduplicated", d.deduplicated).
		Msg("orchestrator")

	status := l.comps.Breaker.Status()
	l.logger.Info().Str("interval", interval).
		Str("state", status.State.String()).
		Int("failures", status.Failures).
		Msg("breaker")

	depths := l.comps.Scheduler.Depths()
	l.logger.Info().Str("interval", interval).
		Int("critical", depths[scheduler.Critical]).
		Int("high", depths[scheduler.High]).
		Int("normal", depths[scheduler.Normal]).
		Int("low", depths[scheduler.Low]).
		Int("running", l.comps.Scheduler.Running()).
		Msg("scheduler")

	l.logger.Info().Str("interval", interval).
		Int64("entries", l.comps.Cache.Len()).
		Str("size", FmtMem(uint64(max(l.comps.Cache.Mem(), 0)))).
		Float64("hit_rate", l.comps.Cache.HitRate()).
		Uint64("expired", d.cacheExpired).
		Uint64("swept", d.sweptEntries).
		Msg("cache")

	l.logger.Info().Str("interval", interval).
		Int("ceiling", l.comps.Limiter.Ceiling()).
		Float64("usage_pct", l.comps.Limiter.Usage()).
		Uint64("allowed", d.limiterAllowed).
		Uint64("rejected", d.limiterRejected).
		Msg("rate_limiter")

	if active := l.comps.Syncer.Active(); active > 0 || d.syncRefreshes > 0 || d.syncErrors > 0 {
		l.logger.Info().Str("interval", interval).
			Int("active", active).
			Uint64("refreshes", d.syncRefreshes).
			Uint64("errors", d.syncErrors).
			Uint64("skipped", d.syncSkipped).
			Msg("background_sync")
	}
}
