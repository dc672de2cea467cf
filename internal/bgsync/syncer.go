package bgsync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/Alexander199824/reqguard/internal/shared/rate"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

type Operation func(ctx context.Context) (any, error)

// Caller runs an operation under a failure policy (the circuit breaker).
type Caller interface {
	Call(ctx context.Context, op func(ctx context.Context) (any, error)) (any, error)
}

// StoreFunc receives every successful refresh together with the observed latency.
type StoreFunc func(key string, value any, latency time.Duration)

// ErrorFunc is notified about failed refreshes. Refresh errors are never returned to any caller.
type ErrorFunc func(key string, err error)

type Syncer interface {
	Register(key string, op Operation)
	Registered(key string) bool
	StartSync(key string, interval time.Duration) bool
	StopSync(key string)
	IsSyncing(key string) bool
	Active() int
	PauseAll()
	ResumeAll()
	SyncMetrics() (refreshes, errors, ticks, skipped int64)
	Close() error
}

type task struct {
	cancel   context.CancelFunc
	interval time.Duration
}

// SyncWorker refreshes registered keys on per-key tickers.
type SyncWorker struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    *config.SyncCfg
	clock  clock.Clock
	logger zerolog.Logger
	jitter *rate.Jitter

	caller  Caller
	store   StoreFunc
	onError ErrorFunc

	mu       sync.Mutex
	registry map[string]Operation
	tasks    map[string]*task
	closed   bool

	paused   atomic.Bool
	counters *syncCounters
}

func New(
	ctx context.Context,
	cfg *config.SyncCfg,
	clk clock.Clock,
	logger zerolog.Logger,
	caller Caller,
	store StoreFunc,
	onError ErrorFunc,
) Syncer {
	if !cfg.Enabled() {
		return &NoOpSyncer{}
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &SyncWorker{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With().Str("component", "background_sync").Logger(),
		jitter:   rate.NewJitter(ctx, cfg.Rate),
		caller:   caller,
		store:    store,
		onError:  onError,
		registry: make(map[string]Operation),
		tasks:    make(map[string]*task),
		counters: newSyncCounters(),
	}
	w.logger.Info().Int("rate", cfg.Rate).Dur("min_interval", cfg.MinInterval).Msg("background sync is running")
	return w
}

// Register sets the operation used to refresh key, replacing any previous one.
func (w *SyncWorker) Register(key string, op Operation) {
	w.mu.Lock()
	w.registry[key] = op
	w.mu.Unlock()
}

func (w *SyncWorker) Registered(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.registry[key]
	return ok
}

// StartSync arms a repeating refresh of key. It returns false if key is already
// syncing, has no registered operation, or the worker is closed.
func (w *SyncWorker) StartSync(key string, interval time.Duration) bool {
	interval = max(interval, w.cfg.MinInterval)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	if _, ok := w.tasks[key]; ok {
		return false
	}
	if _, ok := w.registry[key]; !ok {
		return false
	}

	ctx, cancel := context.WithCancel(w.ctx)
	w.tasks[key] = &task{cancel: cancel, interval: interval}

	ticker := w.clock.Ticker(interval)
	go w.loop(ctx, key, ticker)

	w.logger.Debug().Str("key", key).Dur("interval", interval).Msg("sync started")
	return true
}

func (w *SyncWorker) StopSync(key string) {
	w.mu.Lock()
	t, ok := w.tasks[key]
	delete(w.tasks, key)
	w.mu.Unlock()

	if ok {
		t.cancel()
		w.logger.Debug().Str("key", key).Msg("sync stopped")
	}
}

func (w *SyncWorker) IsSyncing(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.tasks[key]
	return ok
}

func (w *SyncWorker) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}

// PauseAll skips refreshes without stopping tickers.
func (w *SyncWorker) PauseAll() { w.paused.Store(true) }

func (w *SyncWorker) ResumeAll() { w.paused.Store(false) }

func (w *SyncWorker) SyncMetrics() (refreshes, errors, ticks, skipped int64) {
	return w.counters.snapshot()
}

// Close stops every ticker permanently.
func (w *SyncWorker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.tasks = make(map[string]*task)
	w.mu.Unlock()

	w.cancel()
	w.logger.Info().Msg("background sync is stopped")
	return nil
}

func (w *SyncWorker) loop(ctx context.Context, key string, ticker *clock.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx, key)
		}
	}
}

func (w *SyncWorker) tick(ctx context.Context, key string) {
	if ctx.Err() != nil {
		return
	}
	w.counters.ticks.Add(1)
	if w.paused.Load() {
		w.counters.skipped.Add(1)
		return
	}

	w.mu.Lock()
	op := w.registry[key]
	w.mu.Unlock()
	if op == nil {
		w.counters.skipped.Add(1)
		return
	}

	if !w.jitter.Take(ctx) {
		return
	}

	start := w.clock.Now()
	v, err := w.caller.Call(ctx, op)
	if err != nil {
		w.counters.errors.Add(1)
		w.logger.Warn().Err(err).Str("key", key).Msg("background refresh failed")
		if w.onError != nil {
			w.onError(key, err)
		}
		return
	}

	w.store(key, v, w.clock.Since(start))
	w.counters.refreshes.Add(1)
}
