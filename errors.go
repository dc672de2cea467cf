package reqguard

import (
	"github.com/Alexander199824/reqguard/internal/breaker"
	"github.com/cockroachdb/errors"
)

var (
	// ErrRateLimitExceeded is returned when the sliding window is full. No operation was attempted.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCircuitOpen is returned while the breaker rejects calls. No operation was attempted.
	ErrCircuitOpen = breaker.ErrCircuitOpen

	ErrClosed = errors.New("orchestrator is closed")
)
