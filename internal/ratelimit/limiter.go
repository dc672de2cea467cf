package ratelimit

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/Alexander199824/reqguard/internal/shared/queue"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

type Limiter interface {
	TryAcquire() bool
	Adjust(factor float64) bool
	Ceiling() int
	Usage() float64
	LimiterMetrics() (allowed, rejected, adjustments int64)
}

// Adaptive is a sliding-window limiter whose ceiling can be scaled at runtime.
type Adaptive struct {
	cfg    *config.RateLimitCfg
	clock  clock.Clock
	logger zerolog.Logger

	mu         sync.Mutex
	window     queue.Queue[time.Time]
	ceiling    int
	adjustedAt time.Time
	adjusted   bool

	allowed     atomic.Int64
	rejected    atomic.Int64
	adjustments atomic.Int64
}

// New starts with cfg.Ceiling clamped to [MinCeiling, MaxCeiling].
func New(cfg *config.RateLimitCfg, clk clock.Clock, logger zerolog.Logger) *Adaptive {
	l := &Adaptive{
		cfg:     cfg,
		clock:   clk,
		logger:  logger.With().Str("component", "rate_limiter").Logger(),
		ceiling: min(max(cfg.Ceiling, cfg.MinCeiling), cfg.MaxCeiling),
	}
	l.window.Init(l.ceiling)
	return l
}

// TryAcquire records a request and reports whether it fits under the ceiling.
// It never blocks: a rejected caller must fail fast.
func (l *Adaptive) TryAcquire() bool {
	now := l.clock.Now()

	l.mu.Lock()
	l.pruneUnlocked(now)
	if l.window.Len() >= l.ceiling {
		l.mu.Unlock()
		l.rejected.Add(1)
		return false
	}
	l.window.Push(now)
	l.mu.Unlock()

	l.allowed.Add(1)
	return true
}

// Adjust scales the ceiling by factor, clamped to [MinCeiling, MaxCeiling].
// Calls within AdjustInterval of the previous adjustment are ignored and return false.
func (l *Adaptive) Adjust(factor float64) bool {
	now := l.clock.Now()

	l.mu.Lock()
	if l.adjusted && now.Sub(l.adjustedAt) < l.cfg.AdjustInterval {
		l.mu.Unlock()
		return false
	}
	prev := l.ceiling
	next := int(math.Round(float64(prev) * factor))
	l.ceiling = min(max(next, l.cfg.MinCeiling), l.cfg.MaxCeiling)
	l.adjustedAt = now
	l.adjusted = true
	cur := l.ceiling
	l.mu.Unlock()

	l.adjustments.Add(1)
	l.logger.Info().Float64("factor", factor).Int("from", prev).Int("to", cur).Msg("ceiling adjusted")
	return true
}

func (l *Adaptive) Ceiling() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ceiling
}

// Usage returns the share of the current ceiling used within the window, in percent.
func (l *Adaptive) Usage() float64 {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneUnlocked(now)
	return float64(l.window.Len()) / float64(l.ceiling) * 100
}

func (l *Adaptive) LimiterMetrics() (allowed, rejected, adjustments int64) {
	return l.allowed.Load(), l.rejected.Load(), l.adjustments.Load()
}

func (l *Adaptive) pruneUnlocked(now time.Time) {
	for {
		ts, ok := l.window.Peek()
		if !ok || now.Sub(ts) < l.cfg.Window {
			return
		}
		l.window.TryPop()
	}
}
