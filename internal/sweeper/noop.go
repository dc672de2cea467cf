package sweeper

import "time"

// NoOpSweeper is a no-op implementation of Sweeper.
type NoOpSweeper struct{}

// ForceCall does nothing and returns nil immediately.
func (NoOpSweeper) ForceCall(timeout time.Duration) error {
	return nil
}

// SweeperMetrics always returns zero values.
func (NoOpSweeper) SweeperMetrics() (scans, hits, evicted int64) {
	return 0, 0, 0
}

func (NoOpSweeper) Close() error {
	return nil
}
