package rate

import (
	"context"

	"go.uber.org/ratelimit"
)

// Jitter hands out permits at a steady rate with a small burst buffer,
// spreading work that would otherwise fire at the same instant.
type Jitter struct {
	ch    chan struct{}
	l     ratelimit.Limiter
	limit int
}

func NewJitter(ctx context.Context, limit int) *Jitter {
	if limit < 1 {
		limit = 1
	}
	brst := max(limit/10, 1)
	jitter := &Jitter{
		limit: limit,
		ch:    make(chan struct{}, brst),
		l:     ratelimit.New(limit, ratelimit.WithoutSlack),
	}
	go jitter.provider(ctx)
	return jitter
}

func (j *Jitter) provider(ctx context.Context) {
	defer close(j.ch)
	for {
		j.l.Take()
		select {
		case <-ctx.Done():
			return
		case j.ch <- struct{}{}:
		}
	}
}

// Take waits for a permit. It returns false once ctx is done or the jitter is stopped.
func (j *Jitter) Take(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case _, ok := <-j.ch:
		return ok
	}
}

func (j *Jitter) Limit() int { return j.limit }
