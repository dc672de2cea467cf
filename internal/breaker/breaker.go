package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/Alexander199824/reqguard/config"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ErrCircuitOpen is returned without invoking the operation while the circuit is open
// or while the half-open trial call is still running.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	Opened EventKind = iota
	HalfOpened
	ClosedAgain
)

func (k EventKind) String() string {
	switch k {
	case Opened:
		return "opened"
	case HalfOpened:
		return "half_opened"
	case ClosedAgain:
		return "closed"
	default:
		return "unknown"
	}
}

// Event describes a state transition. Failures and ReopenAt are set for Opened only.
type Event struct {
	Kind     EventKind
	Failures int
	ReopenAt time.Time
}

// Status is a point-in-time snapshot of the breaker.
type Status struct {
	State         State
	Failures      int
	LastFailureAt time.Time
	ReopenAt      time.Time
	Blocked       int64
}

type Breaker interface {
	Call(ctx context.Context, op func(ctx context.Context) (any, error)) (any, error)
	State() State
	Status() Status
	Subscribe(fn func(Event))
	Reset()
	Close() error
}

type CircuitBreaker struct {
	cfg    *config.BreakerCfg
	clock  clock.Clock
	logger zerolog.Logger

	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	reopenAt      time.Time
	trialRunning  bool
	blocked       int64
	listeners     []func(Event)
}

func New(cfg *config.BreakerCfg, clk clock.Clock, logger zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:    cfg,
		clock:  clk,
		logger: logger.With().Str("component", "circuit_breaker").Logger(),
	}
}

// Call runs op unless the circuit is open. Errors returned by op are passed through unchanged.
func (cb *CircuitBreaker) Call(ctx context.Context, op func(ctx context.Context) (any, error)) (any, error) {
	trial, err := cb.acquire()
	if err != nil {
		return nil, err
	}

	v, opErr := op(ctx)
	if opErr != nil {
		cb.onFailure(trial)
		return nil, opErr
	}
	cb.onSuccess(trial)
	return v, nil
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Status{
		State:         cb.state,
		Failures:      cb.failures,
		LastFailureAt: cb.lastFailureAt,
		ReopenAt:      cb.reopenAt,
		Blocked:       cb.blocked,
	}
}

// Subscribe registers fn for every future transition. fn is called outside the breaker lock.
func (cb *CircuitBreaker) Subscribe(fn func(Event)) {
	cb.mu.Lock()
	cb.listeners = append(cb.listeners, fn)
	cb.mu.Unlock()
}

// Reset forces the circuit closed and clears the failure counter.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	wasClosed := cb.state == Closed
	cb.state = Closed
	cb.failures = 0
	cb.trialRunning = false
	cb.reopenAt = time.Time{}
	listeners := cb.listeners
	cb.mu.Unlock()

	if !wasClosed {
		cb.emit(listeners, Event{Kind: ClosedAgain})
	}
}

// Close drops all listeners.
func (cb *CircuitBreaker) Close() error {
	cb.mu.Lock()
	cb.listeners = nil
	cb.mu.Unlock()
	return nil
}

// acquire decides whether a call may proceed; trial reports the half-open probe.
func (cb *CircuitBreaker) acquire() (trial bool, err error) {
	cb.mu.Lock()
	switch cb.state {
	case Closed:
		cb.mu.Unlock()
		return false, nil

	case Open:
		if cb.clock.Now().Before(cb.reopenAt) {
			cb.blocked++
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.state = HalfOpen
		cb.trialRunning = true
		listeners := cb.listeners
		cb.mu.Unlock()

		cb.logger.Info().Msg("circuit half-open, running trial call")
		cb.emit(listeners, Event{Kind: HalfOpened})
		return true, nil

	default: // HalfOpen
		if cb.trialRunning {
			cb.blocked++
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.trialRunning = true
		cb.mu.Unlock()
		return true, nil
	}
}

func (cb *CircuitBreaker) onSuccess(trial bool) {
	cb.mu.Lock()
	if trial && cb.state == HalfOpen {
		cb.state = Closed
		cb.failures = 0
		cb.trialRunning = false
		cb.reopenAt = time.Time{}
		listeners := cb.listeners
		cb.mu.Unlock()

		cb.logger.Info().Msg("circuit closed")
		cb.emit(listeners, Event{Kind: ClosedAgain})
		return
	}
	if cb.state == Closed {
		cb.failures = 0
	}
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) onFailure(trial bool) {
	now := cb.clock.Now()

	cb.mu.Lock()
	cb.lastFailureAt = now

	var opened bool
	switch {
	case trial && cb.state == HalfOpen:
		cb.failures++
		cb.trialRunning = false
		opened = true
	case cb.state == Closed:
		cb.failures++
		opened = cb.failures >= cb.cfg.FailureThreshold
	}
	if !opened {
		cb.mu.Unlock()
		return
	}

	cb.state = Open
	cb.reopenAt = now.Add(cb.cfg.Timeout)
	ev := Event{Kind: Opened, Failures: cb.failures, ReopenAt: cb.reopenAt}
	listeners := cb.listeners
	cb.mu.Unlock()

	cb.logger.Warn().
		Int("failures", ev.Failures).
		Time("reopen_at", ev.ReopenAt).
		Msg("circuit opened")
	cb.emit(listeners, ev)
}

func (cb *CircuitBreaker) emit(listeners []func(Event), ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}
