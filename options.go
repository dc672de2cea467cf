package reqguard

import (
	"time"

	"github.com/benbjohnson/clock"
)

type requestOptions struct {
	ttl          time.Duration
	forceRefresh bool
	priority     Priority
	hasPriority  bool
	noBatching   bool
	noBackground bool
}

// RequestOption tunes a single Execute call.
type RequestOption func(*requestOptions)

// WithTTL overrides both the freshness check on read and the TTL of the stored result.
func WithTTL(ttl time.Duration) RequestOption {
	return func(o *requestOptions) { o.ttl = ttl }
}

// WithForceRefresh skips the cache lookup; the fresh result still replaces the cached one.
func WithForceRefresh() RequestOption {
	return func(o *requestOptions) { o.forceRefresh = true }
}

func WithPriority(p Priority) RequestOption {
	return func(o *requestOptions) {
		o.priority = p
		o.hasPriority = true
	}
}

func WithoutBatching() RequestOption {
	return func(o *requestOptions) { o.noBatching = true }
}

// WithoutBackground keeps the key out of background sync.
func WithoutBackground() RequestOption {
	return func(o *requestOptions) { o.noBackground = true }
}

type settings struct {
	clock       clock.Clock
	classifier  Classifier
	onSyncError func(key string, err error)
}

// Option configures an Orchestrator at construction time.
type Option func(*settings)

// WithClock replaces the wall clock, mostly for tests driven by clock.Mock.
func WithClock(clk clock.Clock) Option {
	return func(s *settings) { s.clock = clk }
}

func WithClassifier(c Classifier) Option {
	return func(s *settings) { s.classifier = c }
}

// WithSyncErrorHandler is notified about failed background refreshes.
func WithSyncErrorHandler(fn func(key string, err error)) Option {
	return func(s *settings) { s.onSyncError = fn }
}
