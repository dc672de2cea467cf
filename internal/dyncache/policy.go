package dyncache

import (
	"strings"
	"time"

	"github.com/Alexander199824/reqguard/config"
)

// Policy computes per-endpoint TTLs from static configuration and runtime signals.
type Policy struct {
	cfg *config.CacheCfg
}

func NewPolicy(cfg *config.CacheCfg) *Policy {
	return &Policy{cfg: cfg}
}

// StaticTTL returns the configured TTL of the endpoint matching key:
// the exact key first, then the longest configured prefix. ok is false when
// nothing matches and the default TTL is returned.
func (p *Policy) StaticTTL(key string) (ttl time.Duration, ok bool) {
	if ep, found := p.cfg.Endpoints[key]; found {
		return ep.StaticTTL(), true
	}

	var best string
	for prefix := range p.cfg.Endpoints {
		if len(prefix) > len(best) && strings.HasPrefix(key, prefix) {
			best = prefix
		}
	}
	if best != "" {
		return p.cfg.Endpoints[best].StaticTTL(), true
	}
	return p.cfg.DefaultTTL, false
}

// TTL adjusts the static TTL by the observed latency and breaker health, then clamps it.
func (p *Policy) TTL(key string, latency time.Duration, halfOpen bool) time.Duration {
	base, _ := p.StaticTTL(key)
	ttl := float64(base)

	switch {
	case latency > p.cfg.SlowLatency:
		ttl *= p.cfg.SlowFactor
	case latency < p.cfg.FastLatency:
		ttl *= p.cfg.FastFactor
	}
	if halfOpen {
		ttl *= p.cfg.HalfOpenFactor
	}

	return min(max(time.Duration(ttl), p.cfg.MinTTL), p.cfg.MaxTTL)
}
