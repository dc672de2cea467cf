package main

import (
	"context"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/Alexander199824/reqguard"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var errBackend = errors.New("synthetic backend failure")

// resources cover every default priority class.
var resources = []string{"auth/session", "stats/daily", "services", "products", "plans", "avatars", "comments"}

type simulation struct {
	requests    int
	keys        int
	failureRate float64
	latency     time.Duration
	concurrency int
}

func newSimulateCmd() *cobra.Command {
	var sim simulation

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive the orchestrator against a synthetic backend and print its stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err = sim.validate(); err != nil {
				return err
			}

			logger := newLogger(cmd)
			o := reqguard.New(cmd.Context(), cfg, logger)
			defer func() { _ = o.Close() }()

			startedAt := time.Now()
			outcomes := sim.run(cmd.Context(), o, logger)
			logStats(logger, o.Stats(), outcomes, time.Since(startedAt))
			return nil
		},
	}

	cmd.Flags().IntVar(&sim.requests, "requests", 500, "number of requests to issue")
	cmd.Flags().IntVar(&sim.keys, "keys", 20, "number of distinct keys")
	cmd.Flags().Float64Var(&sim.failureRate, "failure-rate", 0.1, "probability in [0,1] that a backend call fails")
	cmd.Flags().DurationVar(&sim.latency, "latency", 20*time.Millisecond, "mean backend latency")
	cmd.Flags().IntVar(&sim.concurrency, "concurrency", 16, "number of concurrent callers")
	return cmd
}

func (s simulation) validate() error {
	switch {
	case s.requests <= 0:
		return errors.Newf("requests must be positive, got %d", s.requests)
	case s.keys <= 0:
		return errors.Newf("keys must be positive, got %d", s.keys)
	case s.concurrency <= 0:
		return errors.Newf("concurrency must be positive, got %d", s.concurrency)
	case s.failureRate < 0 || s.failureRate > 1:
		return errors.Newf("failure-rate must be within [0,1], got %v", s.failureRate)
	}
	return nil
}

func (s simulation) key(i int) string {
	n := i % s.keys
	return resources[n%len(resources)] + "/" + strconv.Itoa(n)
}

// backend returns an operation that sleeps around the mean latency and fails at the configured rate.
func (s simulation) backend(key string) reqguard.Operation {
	return func(ctx context.Context) (any, error) {
		delay := time.Duration(float64(s.latency) * (0.5 + rand.Float64()))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if rand.Float64() < s.failureRate {
			return nil, errors.Wrapf(errBackend, "fetch %s", key)
		}
		return key + "@" + strconv.FormatInt(time.Now().UnixNano(), 10), nil
	}
}

type outcomes struct {
	mu          sync.Mutex
	ok          int
	rateLimited int
	circuitOpen int
	failed      int
}

func (o *outcomes) record(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case err == nil:
		o.ok++
	case errors.Is(err, reqguard.ErrRateLimitExceeded):
		o.rateLimited++
	case errors.Is(err, reqguard.ErrCircuitOpen):
		o.circuitOpen++
	default:
		o.failed++
	}
}

func (s simulation) run(ctx context.Context, o *reqguard.Orchestrator, logger zerolog.Logger) *outcomes {
	res := &outcomes{}
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range s.concurrency {
		wg.Go(func() {
			for i := range jobs {
				key := s.key(i)
				_, err := o.Execute(ctx, key, s.backend(key))
				if err != nil {
					logger.Debug().Err(err).Str("key", key).Msg("request failed")
				}
				res.record(err)
			}
		})
	}

feed:
	for i := 0; i < s.requests; i++ {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	return res
}

func logStats(logger zerolog.Logger, st reqguard.Stats, res *outcomes, elapsed time.Duration) {
	logger.Info().
		Dur("elapsed", elapsed).
		Int("ok", res.ok).
		Int("rate_limited", res.rateLimited).
		Int("circuit_open", res.circuitOpen).
		Int("failed", res.failed).
		Msg("simulation finished")

	logger.Info().
		Int64("total", st.Total).
		Int64("success", st.Success).
		Int64("errors", st.Errors).
		Int64("cache_hits", st.CacheHits).
		Int64("breaker_blocks", st.CircuitBreakerBlocks).
		Int64("rate_limited", st.RateLimited).
		Int64("deduplicated", st.Deduplicated).
		Msg("orchestrator")

	logger.Info().
		Str("state", st.Breaker.State.String()).
		Int("failures", st.Breaker.Failures).
		Int64("cache_size", st.CacheSize).
		Float64("cache_hit_rate", st.CacheHitRate).
		Int("rate_ceiling", st.RateLimitCeiling).
		Float64("rate_usage_pct", st.RateLimitUsage).
		Int("active_syncs", st.ActiveSyncs).
		Msg("components")
}
