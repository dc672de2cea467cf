package config

import "time"

type BreakerCfg struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// Timeout is the cooldown between opening and the half-open trial call.
	Timeout time.Duration `yaml:"timeout"`
}

func (cfg *BreakerCfg) adjust() {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
}

type SchedulerCfg struct {
	// MaxConcurrent bounds how many scheduled operations run at the same time.
	MaxConcurrent int `yaml:"max_concurrent"`
}

func (cfg *SchedulerCfg) adjust() {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 6
	}
}

// BatchingCfg configures the request batcher.
// A batch flushes when it holds Size members or Timeout has elapsed since its first member.
type BatchingCfg struct {
	Size    int           `yaml:"size"`
	Timeout time.Duration `yaml:"timeout"`
}

func (cfg *BatchingCfg) Enabled() bool {
	return cfg != nil
}

func (cfg *BatchingCfg) adjust() {
	if cfg.Size <= 0 {
		cfg.Size = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
}

// RateLimitCfg configures the sliding-window limiter and its adaptive ceiling.
type RateLimitCfg struct {
	// Ceiling is the initial number of requests allowed per Window.
	Ceiling int `yaml:"ceiling"`

	MinCeiling int `yaml:"min_ceiling"`
	MaxCeiling int `yaml:"max_ceiling"`

	Window time.Duration `yaml:"window"`

	// AdjustInterval is the minimum time between two ceiling adjustments.
	AdjustInterval time.Duration `yaml:"adjust_interval"`

	// OpenFactor is applied to the ceiling when the circuit opens.
	OpenFactor float64 `yaml:"open_factor"`

	// CloseFactor is applied to the ceiling when the circuit closes again.
	CloseFactor float64 `yaml:"close_factor"`
}

func (cfg *RateLimitCfg) adjust() {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = 120
	}
	if cfg.MinCeiling <= 0 {
		cfg.MinCeiling = 10
	}
	if cfg.MaxCeiling <= 0 {
		cfg.MaxCeiling = 300
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.AdjustInterval <= 0 {
		cfg.AdjustInterval = 30 * time.Second
	}
	if cfg.OpenFactor <= 0 {
		cfg.OpenFactor = 0.5
	}
	if cfg.CloseFactor <= 0 {
		cfg.CloseFactor = 1.2
	}
	if cfg.MaxCeiling < cfg.MinCeiling {
		cfg.MaxCeiling = cfg.MinCeiling
	}
	cfg.Ceiling = min(max(cfg.Ceiling, cfg.MinCeiling), cfg.MaxCeiling)
}

// SyncCfg configures background refresh of cached keys.
type SyncCfg struct {
	// MinInterval is the floor of a key's refresh interval.
	MinInterval time.Duration `yaml:"min_interval"`

	// Divisor splits the key's static TTL into the refresh interval (ttl / Divisor),
	// so entries are refreshed before they expire.
	Divisor int `yaml:"divisor"`

	// Rate limits refreshes per second across all keys.
	Rate int `yaml:"rate"`
}

func (cfg *SyncCfg) Enabled() bool {
	return cfg != nil
}

func (cfg *SyncCfg) adjust() {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 30 * time.Second
	}
	if cfg.Divisor <= 0 {
		cfg.Divisor = 3
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 100
	}
}

type SweeperCfg struct {
	// Interval between two sweeps of expired cache entries.
	Interval time.Duration `yaml:"interval"`
}

func (cfg *SweeperCfg) Enabled() bool {
	return cfg != nil
}

func (cfg *SweeperCfg) adjust() {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
}

type TelemetryCfg struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

func (cfg *TelemetryCfg) adjust() {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
}
