package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(maxConcurrent int) *PriorityScheduler {
	return New(&config.SchedulerCfg{MaxConcurrent: maxConcurrent}, clock.New(), zerolog.Nop())
}

// TestScheduler_PriorityOrder verifies that queued items start strictly by priority.
func TestScheduler_PriorityOrder(t *testing.T) {
	s := newTestScheduler(1)
	ctx := context.Background()

	release := make(chan struct{})
	blockerStarted := make(chan struct{})

	var wg sync.WaitGroup
	wg.Go(func() {
		_, _ = s.Schedule(ctx, func(ctx context.Context) (any, error) {
			close(blockerStarted)
			<-release
			return nil, nil
		}, Normal)
	})
	<-blockerStarted

	var (
		mu    sync.Mutex
		order []Priority
	)
	enqueue := func(p Priority, queued int) {
		wg.Go(func() {
			_, _ = s.Schedule(ctx, func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, p)
				mu.Unlock()
				return nil, nil
			}, p)
		})
		require.Eventually(t, func() bool { return s.Depths().Total() == queued }, time.Second, time.Millisecond)
	}

	enqueue(Low, 1)
	enqueue(Critical, 2)
	enqueue(Normal, 3)

	close(release)
	wg.Wait()

	require.Equal(t, []Priority{Critical, Normal, Low}, order)
}

// TestScheduler_FIFOWithinLevel verifies enqueue order is kept inside one priority level.
func TestScheduler_FIFOWithinLevel(t *testing.T) {
	s := newTestScheduler(1)
	ctx := context.Background()

	release := make(chan struct{})
	blockerStarted := make(chan struct{})

	var wg sync.WaitGroup
	wg.Go(func() {
		_, _ = s.Schedule(ctx, func(ctx context.Context) (any, error) {
			close(blockerStarted)
			<-release
			return nil, nil
		}, Critical)
	})
	<-blockerStarted

	var (
		mu    sync.Mutex
		order []int
	)
	for i := 0; i < 5; i++ {
		wg.Go(func() {
			_, _ = s.Schedule(ctx, func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}, High)
		})
		require.Eventually(t, func() bool { return s.Depths()[High] == i+1 }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

// TestScheduler_BoundedConcurrency never runs more than MaxConcurrent operations at once.
func TestScheduler_BoundedConcurrency(t *testing.T) {
	s := newTestScheduler(3)
	ctx := context.Background()

	var (
		current atomic.Int64
		peak    atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < 30; i++ {
		wg.Go(func() {
			_, err := s.Schedule(ctx, func(ctx context.Context) (any, error) {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				current.Add(-1)
				return nil, nil
			}, Priority(i%4))
			require.NoError(t, err)
		})
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int64(3))
	require.Equal(t, 0, s.Running())
	require.Equal(t, 0, s.Depths().Total())
}

// TestScheduler_FailureIsolated verifies a failing operation only affects its own caller.
func TestScheduler_FailureIsolated(t *testing.T) {
	s := newTestScheduler(1)
	ctx := context.Background()
	errOp := errors.New("boom")

	_, err := s.Schedule(ctx, func(ctx context.Context) (any, error) { return nil, errOp }, High)
	require.ErrorIs(t, err, errOp)

	v, err := s.Schedule(ctx, func(ctx context.Context) (any, error) { return 42, nil }, High)
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 0, s.Running())
}

// TestScheduler_PanicFreesSlot converts a panic into an error and keeps the pool usable.
func TestScheduler_PanicFreesSlot(t *testing.T) {
	s := newTestScheduler(1)
	ctx := context.Background()

	_, err := s.Schedule(ctx, func(ctx context.Context) (any, error) { panic("unexpected") }, Low)
	require.Error(t, err)

	v, err := s.Schedule(ctx, func(ctx context.Context) (any, error) { return "after", nil }, Low)
	require.NoError(t, err)
	require.Equal(t, "after", v)
}

// TestScheduler_CallerCancel returns ctx error but lets the admitted operation finish.
func TestScheduler_CallerCancel(t *testing.T) {
	s := newTestScheduler(1)
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Schedule(ctx, func(opCtx context.Context) (any, error) {
			close(started)
			<-release
			finished.Store(opCtx.Err() == nil)
			return nil, nil
		}, Normal)
		errCh <- err
	}()

	<-started
	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return s.Running() == 0 }, time.Second, time.Millisecond)
	require.True(t, finished.Load())
}

// TestParsePriority covers names and rejects unknown values.
func TestParsePriority(t *testing.T) {
	for name, want := range map[string]Priority{"critical": Critical, "HIGH": High, "normal": Normal, " low ": Low} {
		got, err := ParsePriority(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.NotEqual(t, "unknown", got.String())
	}

	_, err := ParsePriority("urgent")
	require.ErrorIs(t, err, ErrUnknownPriority)
}
