package swap

import (
	"strings"
	"time"
)

// Oracle aggregation policies.
const (
	// PolicyPriorityFallback selects the first valid source in priority
	// order; lower-priority sources are fallbacks, never averaged.
	PolicyPriorityFallback = "priority-fallback"
	// PolicyMedianOfValid selects the median across all valid sources.
	PolicyMedianOfValid = "median-of-valid"
)

// Config controls oracle aggregation and matcher ranking behaviour.
type Config struct {
	OraclePolicy       string `toml:"oracle_policy"`
	MaxPriceAgeSeconds int64  `toml:"max_price_age_seconds"`
	WeightAmount       uint64 `toml:"weight_amount"`
	WeightTime         uint64 `toml:"weight_time"`
}

// Normalise applies defaults and canonical casing to the configuration.
func (c Config) Normalise() Config {
	cfg := c
	cfg.OraclePolicy = strings.ToLower(strings.TrimSpace(cfg.OraclePolicy))
	switch cfg.OraclePolicy {
	case PolicyPriorityFallback, PolicyMedianOfValid:
	default:
		cfg.OraclePolicy = PolicyPriorityFallback
	}
	if cfg.MaxPriceAgeSeconds <= 0 {
		cfg.MaxPriceAgeSeconds = 120
	}
	if cfg.WeightAmount == 0 {
		cfg.WeightAmount = 1
	}
	if cfg.WeightTime == 0 {
		cfg.WeightTime = 1
	}
	return cfg
}

// MaxPriceAge returns the configured freshness window as a duration.
func (c Config) MaxPriceAge() time.Duration {
	return time.Duration(c.MaxPriceAgeSeconds) * time.Second
}
