package reqguard

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// baseCfg disables the optional workers so that tests only see the request path.
func baseCfg() *config.Orchestrator {
	cfg := &config.Orchestrator{}
	cfg.AdjustConfig()
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg *config.Orchestrator, opts ...Option) (*Orchestrator, *clock.Mock) {
	clk := clock.NewMock()
	o := New(t.Context(), cfg, zerolog.Nop(), append([]Option{WithClock(clk)}, opts...)...)
	t.Cleanup(func() { _ = o.Close() })
	return o, clk
}

func counting(calls *atomic.Int64, v any) Operation {
	return func(ctx context.Context) (any, error) {
		calls.Add(1)
		return v, nil
	}
}

// TestOrchestrator_CacheAndForceRefresh serves repeated calls from cache until a refresh is forced.
func TestOrchestrator_CacheAndForceRefresh(t *testing.T) {
	o, _ := newTestOrchestrator(t, baseCfg())
	ctx := context.Background()

	var calls atomic.Int64
	op := counting(&calls, "payload")

	v, err := o.Execute(ctx, "svc/X", op, WithPriority(High))
	require.NoError(t, err)
	require.Equal(t, "payload", v)
	require.Equal(t, int64(1), calls.Load())

	v, err = o.Execute(ctx, "svc/X", op)
	require.NoError(t, err)
	require.Equal(t, "payload", v)
	require.Equal(t, int64(1), calls.Load())

	v, err = o.Execute(ctx, "svc/X", op, WithForceRefresh())
	require.NoError(t, err)
	require.Equal(t, "payload", v)
	require.Equal(t, int64(2), calls.Load())

	stats := o.Stats()
	require.Equal(t, int64(3), stats.Total)
	require.Equal(t, int64(3), stats.Success)
	require.Equal(t, int64(1), stats.CacheHits)
	require.Equal(t, int64(1), stats.CacheSize)
}

// TestOrchestrator_TTLExpiry fetches again once the stored TTL has elapsed.
func TestOrchestrator_TTLExpiry(t *testing.T) {
	o, clk := newTestOrchestrator(t, baseCfg())
	ctx := context.Background()

	var calls atomic.Int64
	op := counting(&calls, 1)

	_, err := o.Execute(ctx, "products", op, WithTTL(time.Minute))
	require.NoError(t, err)

	clk.Add(59 * time.Second)
	_, err = o.Execute(ctx, "products", op, WithTTL(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	clk.Add(2 * time.Second)
	_, err = o.Execute(ctx, "products", op, WithTTL(time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(2), calls.Load())
}

// TestOrchestrator_Deduplication invokes the operation once for concurrent callers of the same key.
func TestOrchestrator_Deduplication(t *testing.T) {
	o, _ := newTestOrchestrator(t, baseCfg())
	ctx := context.Background()

	var calls atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	op := func(ctx context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return "shared", nil
	}

	var (
		wg      sync.WaitGroup
		results [2]any
	)
	wg.Go(func() {
		v, err := o.Execute(ctx, "dashboard", op)
		require.NoError(t, err)
		results[0] = v
	})
	<-started
	wg.Go(func() {
		v, err := o.Execute(ctx, "dashboard", op)
		require.NoError(t, err)
		results[1] = v
	})

	require.Eventually(t, func() bool { return o.Stats().Total == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int64(1), calls.Load())
	require.Equal(t, [2]any{"shared", "shared"}, results)
	require.Equal(t, int64(1), o.Stats().Deduplicated)
}

// TestOrchestrator_RateLimit fails fast once the window is full and recovers after it slides.
func TestOrchestrator_RateLimit(t *testing.T) {
	cfg := baseCfg()
	cfg.RateLimit.Ceiling = 5
	cfg.RateLimit.MinCeiling = 1
	o, clk := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	var calls atomic.Int64
	for i := 0; i < 5; i++ {
		_, err := o.Execute(ctx, "item/"+strconv.Itoa(i), counting(&calls, i))
		require.NoError(t, err)
	}

	_, err := o.Execute(ctx, "item/5", counting(&calls, 5))
	require.ErrorIs(t, err, ErrRateLimitExceeded)
	require.Equal(t, int64(5), calls.Load())
	require.Equal(t, int64(1), o.Stats().RateLimited)
	require.InDelta(t, 100.0, o.Stats().RateLimitUsage, 0.001)

	clk.Add(time.Minute)
	_, err = o.Execute(ctx, "item/5", counting(&calls, 5))
	require.NoError(t, err)
	require.Equal(t, int64(6), calls.Load())
}

// TestOrchestrator_CircuitOpen rejects calls without invoking the operation and halves the rate ceiling.
func TestOrchestrator_CircuitOpen(t *testing.T) {
	cfg := baseCfg()
	cfg.Breaker.FailureThreshold = 2
	o, clk := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	errRemote := errors.New("remote down")
	var calls atomic.Int64
	failing := func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, errRemote
	}

	for i := 0; i < 2; i++ {
		_, err := o.Execute(ctx, "services", failing)
		require.ErrorIs(t, err, errRemote)
	}

	_, err := o.Execute(ctx, "services", failing)
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, int64(2), calls.Load())

	stats := o.Stats()
	require.Equal(t, CircuitOpen, stats.Breaker.State)
	require.Equal(t, int64(1), stats.CircuitBreakerBlocks)
	require.Equal(t, int64(3), stats.Errors)
	require.Equal(t, 60, stats.RateLimitCeiling)

	// half-open trial succeeds and closes the circuit again
	clk.Add(cfg.Breaker.Timeout)
	v, err := o.Execute(ctx, "services", counting(&calls, "back"))
	require.NoError(t, err)
	require.Equal(t, "back", v)
	require.Equal(t, CircuitClosed, o.Stats().Breaker.State)
	require.Equal(t, 72, o.Stats().RateLimitCeiling)
}

// TestOrchestrator_ResetCircuit closes an open circuit without waiting for the cooldown.
func TestOrchestrator_ResetCircuit(t *testing.T) {
	cfg := baseCfg()
	cfg.Breaker.FailureThreshold = 1
	o, _ := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	_, err := o.Execute(ctx, "services", func(ctx context.Context) (any, error) { return nil, errors.New("down") })
	require.Error(t, err)
	require.Equal(t, CircuitOpen, o.Stats().Breaker.State)

	o.ResetCircuit()
	v, err := o.Execute(ctx, "services", func(ctx context.Context) (any, error) { return "up", nil })
	require.NoError(t, err)
	require.Equal(t, "up", v)
}

// TestOrchestrator_BatchingWindow holds non-critical calls until the batch flushes and lets critical ones through.
func TestOrchestrator_BatchingWindow(t *testing.T) {
	cfg := baseCfg()
	cfg.Batching = &config.BatchingCfg{Size: 8, Timeout: 100 * time.Millisecond}
	o, clk := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	var calls atomic.Int64
	v, err := o.Execute(ctx, "auth/token", counting(&calls, "token"))
	require.NoError(t, err)
	require.Equal(t, "token", v)
	require.Equal(t, 0, o.batcher.Pending())

	done := make(chan any, 1)
	go func() {
		v, _ := o.Execute(ctx, "plans", counting(&calls, "plans"))
		done <- v
	}()
	require.Eventually(t, func() bool { return o.batcher.Pending() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, int64(1), calls.Load())

	clk.Add(100 * time.Millisecond)
	select {
	case v := <-done:
		require.Equal(t, "plans", v)
	case <-time.After(time.Second):
		t.Fatal("batched call should complete after the window")
	}
	require.Equal(t, int64(2), calls.Load())
}

// TestOrchestrator_BackgroundSync refreshes a fetched key before its static TTL runs out.
func TestOrchestrator_BackgroundSync(t *testing.T) {
	cfg := baseCfg()
	cfg.Sync = &config.SyncCfg{MinInterval: 30 * time.Second, Divisor: 3, Rate: 1000}
	cfg.Cache.Endpoints = map[string]config.EndpointCfg{"stats": {BaseTTL: 3 * time.Minute}}
	o, clk := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	var calls atomic.Int64
	op := func(ctx context.Context) (any, error) { return calls.Add(1), nil }

	_, err := o.Execute(ctx, "stats/daily", op)
	require.NoError(t, err)
	require.Equal(t, 1, o.Stats().ActiveSyncs)

	_, err = o.Execute(ctx, "reports", op, WithoutBackground())
	require.NoError(t, err)
	require.Equal(t, 1, o.Stats().ActiveSyncs)

	clk.Add(time.Minute)
	require.Eventually(t, func() bool {
		v, ok := o.cache.Get("stats/daily", 0)
		return ok && v == int64(3)
	}, time.Second, time.Millisecond)

	v, err := o.Execute(ctx, "stats/daily", op)
	require.NoError(t, err)
	require.Equal(t, int64(3), v)
	require.Equal(t, int64(3), calls.Load())
}

// TestOrchestrator_SyncErrorsAreNotified reports refresh failures only to the handler.
func TestOrchestrator_SyncErrorsAreNotified(t *testing.T) {
	cfg := baseCfg()
	cfg.Sync = &config.SyncCfg{MinInterval: 30 * time.Second, Divisor: 3, Rate: 1000}

	failures := make(chan string, 1)
	o, clk := newTestOrchestrator(t, cfg, WithSyncErrorHandler(func(key string, err error) {
		select {
		case failures <- key:
		default:
		}
	}))
	ctx := context.Background()

	var fail atomic.Bool
	op := func(ctx context.Context) (any, error) {
		if fail.Load() {
			return nil, errors.New("refresh failed")
		}
		return "ok", nil
	}

	_, err := o.Execute(ctx, "memberships", op)
	require.NoError(t, err)

	fail.Store(true)
	clk.Add(cfg.Cache.DefaultTTL / 3)
	select {
	case key := <-failures:
		require.Equal(t, "memberships", key)
	case <-time.After(time.Second):
		t.Fatal("refresh failure should be notified")
	}

	// the previous value is still served
	v, err := o.Execute(ctx, "memberships", op)
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

// TestOrchestrator_Invalidate drops cached values by key and by prefix.
func TestOrchestrator_Invalidate(t *testing.T) {
	o, _ := newTestOrchestrator(t, baseCfg())
	ctx := context.Background()

	var calls atomic.Int64
	for _, key := range []string{"user/1", "user/2", "team/1"} {
		_, err := o.Execute(ctx, key, counting(&calls, key))
		require.NoError(t, err)
	}

	require.True(t, o.Invalidate("team/1"))
	require.False(t, o.Invalidate("team/1"))
	require.Equal(t, 2, o.InvalidatePrefix("user/"))
	require.Equal(t, int64(0), o.Stats().CacheSize)
}

// TestDo_Typed returns typed values and keeps operation errors intact.
func TestDo_Typed(t *testing.T) {
	o, _ := newTestOrchestrator(t, baseCfg())
	ctx := context.Background()

	n, err := Do(ctx, o, "counter", func(ctx context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, n)

	errOp := errors.New("boom")
	_, err = Do(ctx, o, "broken", func(ctx context.Context) (int, error) { return 0, errOp })
	require.ErrorIs(t, err, errOp)

	_, err = Do(ctx, o, "counter", func(ctx context.Context) (string, error) { return "", nil })
	require.Error(t, err)
}

// TestOrchestrator_Close clears state, is idempotent and refuses new work.
func TestOrchestrator_Close(t *testing.T) {
	cfg := config.Default()
	o, _ := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	var calls atomic.Int64
	_, err := o.Execute(ctx, "health", counting(&calls, "up"))
	require.NoError(t, err)
	require.Equal(t, 1, o.Stats().ActiveSyncs)

	require.NoError(t, o.Close())
	require.NoError(t, o.Close())

	stats := o.Stats()
	require.Equal(t, int64(0), stats.CacheSize)
	require.Equal(t, 0, stats.ActiveSyncs)

	_, err = o.Execute(ctx, "health", counting(&calls, "up"))
	require.ErrorIs(t, err, ErrClosed)
}

// TestOrchestrator_RegisteredSyncAndPause refreshes with the registered operation and honours pause.
func TestOrchestrator_RegisteredSyncAndPause(t *testing.T) {
	cfg := baseCfg()
	cfg.Sync = &config.SyncCfg{MinInterval: 30 * time.Second, Divisor: 3, Rate: 1000}
	cfg.Cache.Endpoints = map[string]config.EndpointCfg{"plans": {BaseTTL: 3 * time.Minute}}
	o, clk := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	var refreshes atomic.Int64
	o.RegisterSync("plans", func(ctx context.Context) (any, error) {
		return "refresh-" + strconv.FormatInt(refreshes.Add(1), 10), nil
	})

	v, err := o.Execute(ctx, "plans", func(ctx context.Context) (any, error) { return "fetched", nil }, WithoutBatching())
	require.NoError(t, err)
	require.Equal(t, "fetched", v)

	o.PauseSync()
	clk.Add(time.Minute)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int64(0), refreshes.Load())

	o.ResumeSync()
	clk.Add(time.Minute)
	require.Eventually(t, func() bool {
		v, ok := o.cache.Get("plans", 0)
		return ok && v == "refresh-1"
	}, time.Second, time.Millisecond)
}

// TestOrchestrator_CloseDuringFetch leaves the cache empty when a fetch completes after Close.
func TestOrchestrator_CloseDuringFetch(t *testing.T) {
	cfg := baseCfg()
	cfg.Sync = &config.SyncCfg{MinInterval: 30 * time.Second, Divisor: 3, Rate: 1000}
	o, _ := newTestOrchestrator(t, cfg)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := o.Execute(context.Background(), "svc/late", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "late", nil
		})
		done <- err
	}()

	<-started
	require.NoError(t, o.Close())
	close(release)
	require.NoError(t, <-done)

	stats := o.Stats()
	require.Equal(t, int64(0), stats.CacheSize)
	require.Equal(t, 0, stats.ActiveSyncs)
}

// TestOrchestrator_CancelledCaller counts a caller that stopped waiting while the shared call finishes.
func TestOrchestrator_CancelledCaller(t *testing.T) {
	o, _ := newTestOrchestrator(t, baseCfg())
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := o.Execute(ctx, "reports", func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return "report", nil
		})
		done <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	stats := o.Stats()
	require.Equal(t, int64(1), stats.Total)
	require.Equal(t, int64(1), stats.Errors)
	require.Equal(t, int64(1), stats.Cancelled)
	require.Equal(t, int64(0), stats.Success)

	close(release)
	require.Eventually(t, func() bool { return o.Stats().CacheSize == 1 }, time.Second, time.Millisecond)
}

// TestOrchestrator_BatchesQueryVariants groups keys of one endpoint so a full batch flushes without the timer.
func TestOrchestrator_BatchesQueryVariants(t *testing.T) {
	cfg := baseCfg()
	cfg.Batching = &config.BatchingCfg{Size: 2, Timeout: time.Hour}
	o, _ := newTestOrchestrator(t, cfg)
	ctx := context.Background()

	var calls atomic.Int64
	results := make(chan any, 2)
	for _, key := range []string{"products?page=1", "products?page=2"} {
		go func() {
			v, err := o.Execute(ctx, key, counting(&calls, key))
			require.NoError(t, err)
			results <- v
		}()
	}

	got := map[any]bool{}
	for range 2 {
		select {
		case v := <-results:
			got[v] = true
		case <-time.After(time.Second):
			t.Fatal("a full batch should flush without waiting for the timeout")
		}
	}
	require.Equal(t, map[any]bool{"products?page=1": true, "products?page=2": true}, got)
	require.Equal(t, int64(2), calls.Load())

	_, bySize, byTimeout, members := o.batcher.Metrics()
	require.Equal(t, int64(1), bySize)
	require.Equal(t, int64(0), byTimeout)
	require.Equal(t, int64(2), members)
}
