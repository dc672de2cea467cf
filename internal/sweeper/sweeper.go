package sweeper

import (
	"context"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

var ErrSweeperNotResponded = errors.New("sweeper not responded")

// Target is the cache being swept.
type Target interface {
	EvictExpired() int
	Len() int64
}

type Sweeper interface {
	ForceCall(timeout time.Duration) error
	SweeperMetrics() (scans, hits, evicted int64)
	Close() error
}

// SweepWorker periodically removes expired entries so that rarely read keys do not linger.
type SweepWorker struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.SweeperCfg
	clock    clock.Clock
	logger   zerolog.Logger
	target   Target
	counters *sweeperCounters
	invokeCh chan struct{}
}

func New(
	ctx context.Context,
	cfg *config.SweeperCfg,
	clk clock.Clock,
	logger zerolog.Logger,
	target Target,
) Sweeper {
	if !cfg.Enabled() {
		return &NoOpSweeper{}
	}

	ctx, cancel := context.WithCancel(ctx)
	return (&SweepWorker{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		clock:    clk,
		logger:   logger.With().Str("component", "sweeper").Logger(),
		target:   target,
		counters: newSweeperCounters(),
		invokeCh: make(chan struct{}),
	}).run()
}

// ForceCall requests an immediate sweep and waits until the worker accepted it.
func (w *SweepWorker) ForceCall(timeout time.Duration) error {
	after := w.clock.Timer(timeout)
	defer after.Stop()

	select {
	case <-w.ctx.Done():
	case w.invokeCh <- struct{}{}:
	case <-after.C:
		return ErrSweeperNotResponded
	}
	return nil
}

func (w *SweepWorker) SweeperMetrics() (scans, hits, evicted int64) {
	return w.counters.snapshot()
}

func (w *SweepWorker) Close() error {
	w.cancel()
	return nil
}

func (w *SweepWorker) run() *SweepWorker {
	w.logger.Info().Dur("interval", w.cfg.Interval).Msg("sweeper is running")

	tick := w.clock.Ticker(w.cfg.Interval)
	go func() {
		defer w.logger.Info().Msg("sweeper is stopped")
		defer tick.Stop()

		for {
			select {
			case <-w.ctx.Done():
				return
			case <-tick.C:
				w.sweep()
			case <-w.invokeCh:
				w.sweep()
			}
		}
	}()

	return w
}

func (w *SweepWorker) sweep() {
	if w.target.Len() == 0 {
		return
	}
	w.counters.scans.Add(1)
	if n := w.target.EvictExpired(); n > 0 {
		w.counters.scanHits.Add(1)
		w.counters.evicted.Add(int64(n))
	}
}
