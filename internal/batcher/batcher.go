package batcher

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ErrBatchDispatch is returned to every unsettled member when dispatching a batch fails as a whole.
var ErrBatchDispatch = errors.New("batch dispatch failed")

type Operation func(ctx context.Context) (any, error)

type result struct {
	v   any
	err error
}

type member struct {
	ctx     context.Context
	op      Operation
	done    chan result // buffered (1)
	settled atomic.Bool
}

func (m *member) settle(res result) {
	if m.settled.CompareAndSwap(false, true) {
		m.done <- res
	}
}

type batch struct {
	key       string
	members   []*member
	timer     *clock.Timer
	createdAt time.Time
}

type Batcher interface {
	Batch(ctx context.Context, key string, op Operation) (any, error)
	Pending() int
	Metrics() (batches, bySize, byTimeout, members int64)
	Close() error
}

// RequestBatcher groups calls sharing a key into one execution window.
// Batching schedules members together; it never collapses them into one call.
type RequestBatcher struct {
	cfg    *config.BatchingCfg
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	pending map[string]*batch
	closed  bool

	dispatchFn func(bt *batch)
	counters   *counters
}

func New(cfg *config.BatchingCfg, clk clock.Clock, logger zerolog.Logger) *RequestBatcher {
	b := &RequestBatcher{
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With().Str("component", "batcher").Logger(),
		pending:  make(map[string]*batch),
		counters: &counters{},
	}
	b.dispatchFn = b.dispatch
	return b
}

// Endpoint strips the query and fragment from key, so variants of one resource share a batch.
func Endpoint(key string) string {
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		return key[:i]
	}
	return key
}

// Key derives the batch key so that calls with different priority or refresh semantics never merge.
func Key(endpoint string, priority int, forceRefresh bool) string {
	return endpoint + "|p" + strconv.Itoa(priority) + "|f" + strconv.FormatBool(forceRefresh)
}

// Batch appends op to the pending batch of key and waits until that batch has executed.
func (b *RequestBatcher) Batch(ctx context.Context, key string, op Operation) (any, error) {
	m := &member{ctx: context.WithoutCancel(ctx), op: op, done: make(chan result, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return op(ctx)
	}

	bt, ok := b.pending[key]
	if !ok {
		bt = &batch{key: key, createdAt: b.clock.Now()}
		bt.timer = b.clock.AfterFunc(b.cfg.Timeout, func() { b.flushOnTimeout(bt) })
		b.pending[key] = bt
	}
	bt.members = append(bt.members, m)

	var full bool
	if len(bt.members) >= b.cfg.Size {
		delete(b.pending, key)
		bt.timer.Stop()
		full = true
	}
	b.mu.Unlock()

	if full {
		b.counters.bySize.Add(1)
		go b.execute(bt)
	}

	select {
	case res := <-m.done:
		return res.v, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *RequestBatcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *RequestBatcher) Metrics() (batches, bySize, byTimeout, members int64) {
	return b.counters.snapshot()
}

// Close flushes every pending batch immediately; later calls run unbatched.
func (b *RequestBatcher) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pending := b.pending
	b.pending = make(map[string]*batch)
	b.mu.Unlock()

	for _, bt := range pending {
		bt.timer.Stop()
		go b.execute(bt)
	}
	return nil
}

func (b *RequestBatcher) flushOnTimeout(bt *batch) {
	b.mu.Lock()
	if cur, ok := b.pending[bt.key]; !ok || cur != bt {
		// already flushed by size or Close
		b.mu.Unlock()
		return
	}
	delete(b.pending, bt.key)
	b.mu.Unlock()

	b.counters.byTimeout.Add(1)
	b.execute(bt)
}

// execute runs every member concurrently and settles each from its own result.
func (b *RequestBatcher) execute(bt *batch) {
	b.counters.batches.Add(1)
	b.counters.members.Add(int64(len(bt.members)))

	defer func() {
		if r := recover(); r != nil {
			err := errors.Wrapf(ErrBatchDispatch, "%v", r)
			b.logger.Error().Err(err).Str("key", bt.key).Int("members", len(bt.members)).Msg("batch dispatch panicked")
			for _, m := range bt.members {
				m.settle(result{err: err})
			}
		}
	}()

	b.dispatchFn(bt)
}

func (b *RequestBatcher) dispatch(bt *batch) {
	var wg sync.WaitGroup
	for _, m := range bt.members {
		wg.Go(func() {
			defer func() {
				if r := recover(); r != nil {
					m.settle(result{err: errors.Newf("batched operation panicked: %v", r)})
				}
			}()
			v, err := m.op(m.ctx)
			m.settle(result{v: v, err: err})
		})
	}
	wg.Wait()

	b.logger.Debug().
		Str("key", bt.key).
		Int("members", len(bt.members)).
		Dur("window", b.clock.Since(bt.createdAt)).
		Msg("batch executed")
}

type counters struct {
	batches   atomic.Int64
	bySize    atomic.Int64
	byTimeout atomic.Int64
	members   atomic.Int64
}

func (c *counters) snapshot() (batches, bySize, byTimeout, members int64) {
	return c.batches.Load(), c.bySize.Load(), c.byTimeout.Load(), c.members.Load()
}
