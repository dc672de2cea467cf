package config

import "time"

// EndpointCfg is the static TTL configuration of a single endpoint (a key or a key prefix).
type EndpointCfg struct {
	// BaseTTL is the TTL before any adjustment.
	BaseTTL time.Duration `yaml:"base_ttl"`

	// Factor scales BaseTTL statically. Zero means 1.
	Factor float64 `yaml:"factor"`
}

// StaticTTL returns BaseTTL scaled by Factor.
func (e EndpointCfg) StaticTTL() time.Duration {
	f := e.Factor
	if f <= 0 {
		f = 1
	}
	return time.Duration(float64(e.BaseTTL) * f)
}

// CacheCfg configures the dynamic-TTL cache.
//
// The resulting TTL of an entry is computed as:
//
//	ttl = StaticTTL(endpoint)
//	ttl *= SlowFactor     // if observed latency > SlowLatency
//	ttl *= FastFactor     // if observed latency < FastLatency
//	ttl *= HalfOpenFactor // if the circuit breaker is half-open
//	ttl = clamp(ttl, MinTTL, MaxTTL)
//
// The multipliers are empirical and kept configurable.
type CacheCfg struct {
	// DefaultTTL is used for endpoints without static configuration.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	MinTTL time.Duration `yaml:"min_ttl"`
	MaxTTL time.Duration `yaml:"max_ttl"`

	SlowLatency time.Duration `yaml:"slow_latency"`
	FastLatency time.Duration `yaml:"fast_latency"`

	SlowFactor     float64 `yaml:"slow_factor"`
	FastFactor     float64 `yaml:"fast_factor"`
	HalfOpenFactor float64 `yaml:"half_open_factor"`

	// SweepThreshold is the number of entries above which every Set sweeps expired entries.
	SweepThreshold int `yaml:"sweep_threshold"`

	// Endpoints maps a key or key prefix to its static TTL.
	// Lookup uses the exact key first, then the longest matching prefix.
	Endpoints map[string]EndpointCfg `yaml:"endpoints"`
}

func (cfg *CacheCfg) adjust() {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.MinTTL <= 0 {
		cfg.MinTTL = 30 * time.Second
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = 30 * time.Minute
	}
	if cfg.MaxTTL < cfg.MinTTL {
		cfg.MaxTTL = cfg.MinTTL
	}
	if cfg.SlowLatency <= 0 {
		cfg.SlowLatency = 2 * time.Second
	}
	if cfg.FastLatency <= 0 {
		cfg.FastLatency = 200 * time.Millisecond
	}
	if cfg.SlowFactor <= 0 {
		cfg.SlowFactor = 1.5
	}
	if cfg.FastFactor <= 0 {
		cfg.FastFactor = 0.8
	}
	if cfg.HalfOpenFactor <= 0 {
		cfg.HalfOpenFactor = 2
	}
	if cfg.SweepThreshold <= 0 {
		cfg.SweepThreshold = 100
	}
}
