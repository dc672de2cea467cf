package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/Alexander199824/reqguard/internal/shared/queue"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

var ErrUnknownPriority = errors.New("unknown priority")

// Priority orders admission to the pool. Lower value is admitted first.
type Priority int

const (
	Critical Priority = iota
	High
	Normal
	Low

	numOfLevels = 4
)

func (p Priority) String() string {
	switch p {
	case Critical:
		return "critical"
	case High:
		return "high"
	case Normal:
		return "normal"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return Critical, nil
	case "high":
		return High, nil
	case "normal", "medium":
		return Normal, nil
	case "low":
		return Low, nil
	default:
		return Low, errors.Wrapf(ErrUnknownPriority, "%q", s)
	}
}

type Operation func(ctx context.Context) (any, error)

type result struct {
	v   any
	err error
}

type item struct {
	ctx        context.Context
	op         Operation
	priority   Priority
	enqueuedAt time.Time
	done       chan result // buffered: the runner never blocks on an abandoned caller
}

// Depths holds the number of queued items per priority level.
type Depths [numOfLevels]int

func (d Depths) Total() int {
	var n int
	for _, v := range d {
		n += v
	}
	return n
}

type Scheduler interface {
	Schedule(ctx context.Context, op Operation, priority Priority) (any, error)
	Depths() Depths
	Running() int
}

// PriorityScheduler admits queued operations to a bounded pool strictly by priority, FIFO within a level.
// There is no aging: a steady stream of higher priority work delays lower levels indefinitely.
type PriorityScheduler struct {
	cfg    *config.SchedulerCfg
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	levels  [numOfLevels]queue.Queue[*item]
	running int
}

func New(cfg *config.SchedulerCfg, clk clock.Clock, logger zerolog.Logger) *PriorityScheduler {
	s := &PriorityScheduler{
		cfg:    cfg,
		clock:  clk,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
	for i := range s.levels {
		s.levels[i].Init(16)
	}
	return s
}

// Schedule enqueues op and waits for its result. If ctx is cancelled while waiting,
// Schedule returns ctx.Err(); an already admitted op still runs to completion.
func (s *PriorityScheduler) Schedule(ctx context.Context, op Operation, priority Priority) (any, error) {
	if priority < Critical || priority > Low {
		priority = Low
	}

	it := &item{
		ctx:        context.WithoutCancel(ctx),
		op:         op,
		priority:   priority,
		enqueuedAt: s.clock.Now(),
		done:       make(chan result, 1),
	}

	s.mu.Lock()
	s.levels[priority].Push(it)
	s.mu.Unlock()

	s.dispatch()

	select {
	case res := <-it.done:
		return res.v, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *PriorityScheduler) Depths() Depths {
	s.mu.Lock()
	defer s.mu.Unlock()

	var d Depths
	for i := range s.levels {
		d[i] = s.levels[i].Len()
	}
	return d
}

func (s *PriorityScheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// dispatch starts queued items while pool slots are free.
func (s *PriorityScheduler) dispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.running < s.cfg.MaxConcurrent {
		it, ok := s.nextUnlocked()
		if !ok {
			return
		}
		s.running++
		go s.run(it)
	}
}

func (s *PriorityScheduler) nextUnlocked() (*item, bool) {
	for i := range s.levels {
		if it, ok := s.levels[i].TryPop(); ok {
			return it, true
		}
	}
	return nil, false
}

func (s *PriorityScheduler) run(it *item) {
	var res result
	defer func() {
		if r := recover(); r != nil {
			res = result{err: errors.Newf("scheduled operation panicked: %v", r)}
			s.logger.Error().Str("priority", it.priority.String()).Interface("panic", r).Msg("operation panicked")
		}
		it.done <- res

		s.mu.Lock()
		s.running--
		s.mu.Unlock()
		s.dispatch()
	}()

	if wait := s.clock.Since(it.enqueuedAt); wait > time.Second {
		s.logger.Debug().Str("priority", it.priority.String()).Dur("queued_for", wait).Msg("slow admission")
	}

	v, err := it.op(it.ctx)
	res = result{v: v, err: err}
}
