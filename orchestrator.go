package reqguard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/Alexander199824/reqguard/internal/batcher"
	"github.com/Alexander199824/reqguard/internal/bgsync"
	"github.com/Alexander199824/reqguard/internal/breaker"
	"github.com/Alexander199824/reqguard/internal/dyncache"
	"github.com/Alexander199824/reqguard/internal/ratelimit"
	"github.com/Alexander199824/reqguard/internal/scheduler"
	"github.com/Alexander199824/reqguard/internal/sweeper"
	"github.com/Alexander199824/reqguard/internal/telemetry"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Operation is the caller's unit of remote work.
type Operation func(ctx context.Context) (any, error)

// Orchestrator guards remote calls with rate limiting, caching, in-flight deduplication,
// batching, a circuit breaker and a priority scheduler, and keeps hot keys fresh in the background.
type Orchestrator struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.Orchestrator
	clock  clock.Clock
	logger zerolog.Logger

	classifier  Classifier
	onSyncError func(key string, err error)

	breaker   *breaker.CircuitBreaker
	scheduler *scheduler.PriorityScheduler
	batcher   *batcher.RequestBatcher // nil when batching is disabled
	cache     *dyncache.Cache
	policy    *dyncache.Policy
	limiter   *ratelimit.Adaptive
	syncer    bgsync.Syncer
	sweeper   sweeper.Sweeper
	telemeter telemetry.Logger

	flight singleflight.Group

	// storeMu orders cache writes against Close: no value is stored once closed is set.
	storeMu   sync.RWMutex
	closeOnce sync.Once
	closed    atomic.Bool
	counters  *counters
}

func New(ctx context.Context, cfg *config.Orchestrator, logger zerolog.Logger, opts ...Option) *Orchestrator {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.AdjustConfig()

	s := settings{clock: clock.New(), classifier: DefaultClassifier}
	for _, opt := range opts {
		opt(&s)
	}

	ctx, cancel := context.WithCancel(ctx)
	o := &Orchestrator{
		ctx:         ctx,
		cancel:      cancel,
		cfg:         cfg,
		clock:       s.clock,
		logger:      logger.With().Str("component", "orchestrator").Logger(),
		classifier:  s.classifier,
		onSyncError: s.onSyncError,
		counters:    &counters{},
	}

	o.breaker = breaker.New(&cfg.Breaker, o.clock, logger)
	o.scheduler = scheduler.New(&cfg.Scheduler, o.clock, logger)
	if cfg.Batching.Enabled() {
		o.batcher = batcher.New(cfg.Batching, o.clock, logger)
	}
	o.cache = dyncache.New(&cfg.Cache, o.clock, logger)
	o.policy = dyncache.NewPolicy(&cfg.Cache)
	o.limiter = ratelimit.New(&cfg.RateLimit, o.clock, logger)
	o.syncer = bgsync.New(ctx, cfg.Sync, o.clock, logger, o.breaker, o.storeRefreshed, o.syncFailed)
	o.sweeper = sweeper.New(ctx, cfg.Sweeper, o.clock, logger, o.cache)
	o.telemeter = telemetry.New(ctx, &cfg.Telemetry, o.clock, logger, telemetry.Components{
		Requests:  o,
		Breaker:   o.breaker,
		Scheduler: o.scheduler,
		Cache:     o.cache,
		Limiter:   o.limiter,
		Syncer:    o.syncer,
		Sweeper:   o.sweeper,
	})

	o.breaker.Subscribe(o.onBreakerEvent)

	o.logger.Info().
		Int("max_concurrent", cfg.Scheduler.MaxConcurrent).
		Int("rate_ceiling", cfg.RateLimit.Ceiling).
		Bool("batching", cfg.Batching.Enabled()).
		Bool("background_sync", cfg.Sync.Enabled()).
		Msg("orchestrator is running")

	return o
}

// Execute runs op for key through the full pipeline. Errors returned by op reach the caller unchanged;
// ErrRateLimitExceeded and ErrCircuitOpen mean op was not invoked.
func (o *Orchestrator) Execute(ctx context.Context, key string, op Operation, opts ...RequestOption) (any, error) {
	if o.closed.Load() {
		return nil, ErrClosed
	}

	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}
	if !ro.hasPriority {
		ro.priority = o.classifier(key)
	}

	o.counters.total.Add(1)

	if !o.limiter.TryAcquire() {
		o.counters.rateLimited.Add(1)
		return nil, ErrRateLimitExceeded
	}

	if !ro.forceRefresh {
		if v, ok := o.cache.Get(key, ro.ttl); ok {
			o.counters.cacheHits.Add(1)
			o.counters.success.Add(1)
			return v, nil
		}
	}

	// Only the leader's closure runs, so the flag tells joiners apart.
	var leader atomic.Bool
	ch := o.flight.DoChan(key, func() (any, error) {
		leader.Store(true)
		return o.fetch(context.WithoutCancel(ctx), key, op, ro)
	})

	select {
	case res := <-ch:
		if !leader.Load() {
			o.counters.deduplicated.Add(1)
		}
		if res.Err != nil {
			o.counters.errors.Add(1)
			if errors.Is(res.Err, ErrCircuitOpen) {
				o.counters.blocked.Add(1)
			}
			return nil, res.Err
		}
		o.counters.success.Add(1)
		return res.Val, nil

	case <-ctx.Done():
		// the shared call keeps running and still fills the cache
		o.counters.errors.Add(1)
		o.counters.cancelled.Add(1)
		return nil, ctx.Err()
	}
}

// Do is Execute for typed operations.
func Do[T any](ctx context.Context, o *Orchestrator, key string, fn func(ctx context.Context) (T, error), opts ...RequestOption) (T, error) {
	var zero T

	v, err := o.Execute(ctx, key, func(ctx context.Context) (any, error) { return fn(ctx) }, opts...)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}

	t, ok := v.(T)
	if !ok {
		return zero, errors.Newf("value cached under %q has type %T", key, v)
	}
	return t, nil
}

// fetch runs the pipeline, stores the result and arms background sync. It is executed once per in-flight key.
func (o *Orchestrator) fetch(ctx context.Context, key string, op Operation, ro requestOptions) (any, error) {
	pipeline := func(ctx context.Context) (any, error) {
		return o.breaker.Call(ctx, func(ctx context.Context) (any, error) {
			return o.scheduler.Schedule(ctx, scheduler.Operation(op), ro.priority)
		})
	}

	startedAt := o.clock.Now()

	var (
		v   any
		err error
	)
	if o.batchable(ro) {
		v, err = o.batcher.Batch(ctx, batcher.Key(batcher.Endpoint(key), int(ro.priority), ro.forceRefresh), pipeline)
	} else {
		v, err = pipeline(ctx)
	}
	if err != nil {
		return nil, err
	}

	latency := o.clock.Since(startedAt)
	ttl := ro.ttl
	if ttl <= 0 {
		ttl = o.policy.TTL(key, latency, o.breaker.State() == breaker.HalfOpen)
	}
	if !o.store(key, v, ttl) {
		return v, nil
	}

	if !ro.noBackground {
		o.armSync(key, op)
	}
	return v, nil
}

func (o *Orchestrator) batchable(ro requestOptions) bool {
	return o.batcher != nil && !ro.noBatching && ro.priority != Critical
}

// armSync starts refreshing key before its expected expiry. The fetching operation
// becomes the refresh operation unless one was registered explicitly.
func (o *Orchestrator) armSync(key string, op Operation) {
	if !o.cfg.Sync.Enabled() || o.syncer.IsSyncing(key) {
		return
	}
	if !o.syncer.Registered(key) {
		o.syncer.Register(key, bgsync.Operation(op))
	}

	static, _ := o.policy.StaticTTL(key)
	interval := static / time.Duration(o.cfg.Sync.Divisor)
	if o.syncer.StartSync(key, interval) {
		o.logger.Debug().Str("key", key).Dur("interval", max(interval, o.cfg.Sync.MinInterval)).Msg("background sync armed")
	}
}

func (o *Orchestrator) storeRefreshed(key string, value any, latency time.Duration) {
	o.store(key, value, o.policy.TTL(key, latency, o.breaker.State() == breaker.HalfOpen))
}

// store caches value unless the orchestrator is closed.
func (o *Orchestrator) store(key string, value any, ttl time.Duration) bool {
	o.storeMu.RLock()
	defer o.storeMu.RUnlock()

	if o.closed.Load() {
		return false
	}
	o.cache.Set(key, value, ttl)
	return true
}

func (o *Orchestrator) syncFailed(key string, err error) {
	if o.onSyncError != nil {
		o.onSyncError(key, err)
	}
}

func (o *Orchestrator) onBreakerEvent(ev breaker.Event) {
	switch ev.Kind {
	case breaker.Opened:
		if o.limiter.Adjust(o.cfg.RateLimit.OpenFactor) {
			o.logger.Warn().Int("ceiling", o.limiter.Ceiling()).Int("failures", ev.Failures).Msg("rate ceiling lowered, circuit opened")
		}
	case breaker.ClosedAgain:
		if o.limiter.Adjust(o.cfg.RateLimit.CloseFactor) {
			o.logger.Info().Int("ceiling", o.limiter.Ceiling()).Msg("rate ceiling raised, circuit closed")
		}
	}
}

// Invalidate drops the cached value of key. Background sync for the key keeps running.
func (o *Orchestrator) Invalidate(key string) bool {
	return o.cache.Del(key)
}

func (o *Orchestrator) InvalidatePrefix(prefix string) int {
	return o.cache.DelPrefix(prefix)
}

// RegisterSync sets the operation used to refresh key in the background.
func (o *Orchestrator) RegisterSync(key string, op Operation) {
	o.syncer.Register(key, bgsync.Operation(op))
}

// ResetCircuit forces the breaker closed, e.g. after an operator fixed the backend.
func (o *Orchestrator) ResetCircuit() {
	o.breaker.Reset()
}

func (o *Orchestrator) PauseSync() {
	o.syncer.PauseAll()
}

func (o *Orchestrator) ResumeSync() {
	o.syncer.ResumeAll()
}

// Close stops background workers, flushes pending batches, clears the cache and drops
// breaker listeners. Later calls return ErrClosed. It is safe to call more than once.
func (o *Orchestrator) Close() error {
	o.closeOnce.Do(func() {
		o.storeMu.Lock()
		o.closed.Store(true)
		o.storeMu.Unlock()

		_ = o.syncer.Close()
		_ = o.sweeper.Close()
		_ = o.telemeter.Close()
		if o.batcher != nil {
			_ = o.batcher.Close()
		}
		_ = o.breaker.Close()
		o.cache.Clear()
		o.cancel()

		o.logger.Info().Msg("orchestrator closed")
	})
	return nil
}
