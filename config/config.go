package config

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Orchestrator groups configuration of all request orchestration subsystems.
// Optional components are disabled by leaving their section empty (nil).
type Orchestrator struct {
	// Breaker configures the circuit breaker guarding every remote call.
	Breaker BreakerCfg `yaml:"breaker"`

	// Scheduler configures the priority scheduler and its bounded pool.
	Scheduler SchedulerCfg `yaml:"scheduler"`

	// Batching configures the per-key request batcher.
	// If nil, batching is disabled and requests go straight to the breaker.
	Batching *BatchingCfg `yaml:"batching"`

	// Cache configures the dynamic-TTL response cache.
	Cache CacheCfg `yaml:"cache"`

	// RateLimit configures the adaptive sliding-window limiter.
	RateLimit RateLimitCfg `yaml:"rate_limit"`

	// Sync configures background refresh of cached keys.
	// If nil, background sync is disabled.
	Sync *SyncCfg `yaml:"sync"`

	// Sweeper configures the periodic removal of expired cache entries.
	// If nil, expired entries are only removed lazily and on capacity sweeps.
	Sweeper *SweeperCfg `yaml:"sweeper"`

	Telemetry TelemetryCfg `yaml:"telemetry"`
}

// Default returns a configuration with every component enabled and default values.
func Default() *Orchestrator {
	cfg := &Orchestrator{
		Batching: &BatchingCfg{},
		Sync:     &SyncCfg{},
		Sweeper:  &SweeperCfg{},
	}
	cfg.AdjustConfig()
	return cfg
}

// AdjustConfig fills zero values with defaults. It is safe to call more than once.
func (cfg *Orchestrator) AdjustConfig() {
	cfg.Breaker.adjust()
	cfg.Scheduler.adjust()
	cfg.Cache.adjust()
	cfg.RateLimit.adjust()
	cfg.Telemetry.adjust()

	if cfg.Batching.Enabled() {
		cfg.Batching.adjust()
	}
	if cfg.Sync.Enabled() {
		cfg.Sync.adjust()
	}
	if cfg.Sweeper.Enabled() {
		cfg.Sweeper.adjust()
	}
}

func LoadConfig(path string) (*Orchestrator, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, "stat config path")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config yaml file %s", path)
	}

	var cfg *Orchestrator
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "unmarshal yaml from %s", path)
	}
	if cfg == nil {
		cfg = &Orchestrator{}
	}
	cfg.AdjustConfig()

	return cfg, nil
}

// Marshal renders the configuration as YAML.
func (cfg *Orchestrator) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "marshal config yaml")
	}
	return data, nil
}
