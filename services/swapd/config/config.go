package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	swap "swapnet/native/swap"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", value.Value, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for swapd.
type Config struct {
	ListenAddress string       `yaml:"listen"`
	LedgerPath    string       `yaml:"ledger"`
	HistoryPath   string       `yaml:"history"`
	Admin         string       `yaml:"admin"`
	Assets        []Asset      `yaml:"assets"`
	Oracle        OracleConfig `yaml:"oracle"`
	Sources       []Source     `yaml:"sources"`
	Engine        EngineConfig `yaml:"engine"`
}

// Asset declares a symbol registered at startup.
type Asset struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// OracleConfig tunes the polling loop.
type OracleConfig struct {
	Interval Duration `yaml:"interval"`
	MaxAge   Duration `yaml:"max_age"`
	Policy   string   `yaml:"policy"`
}

// Source describes an upstream price feed consulted in list order; the
// first entry is the primary source.
type Source struct {
	Name     string            `yaml:"name"`
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	Assets   map[string]string `yaml:"assets"`
}

// EngineConfig exposes the matcher ranking weights.
type EngineConfig struct {
	WeightAmount uint64 `yaml:"weight_amount"`
	WeightTime   uint64 `yaml:"weight_time"`
}

// Load reads and validates the YAML configuration at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8546"
	}
	if strings.TrimSpace(cfg.Admin) == "" {
		return Config{}, fmt.Errorf("config: admin principal required")
	}
	if len(cfg.Assets) == 0 {
		return Config{}, fmt.Errorf("config: at least one asset required")
	}
	if len(cfg.Sources) == 0 {
		return Config{}, fmt.Errorf("config: at least one price source required")
	}
	if cfg.Oracle.Interval.Duration <= 0 {
		cfg.Oracle.Interval.Duration = 30 * time.Second
	}
	if cfg.Oracle.MaxAge.Duration <= 0 {
		cfg.Oracle.MaxAge.Duration = 2 * time.Minute
	}
	return cfg, nil
}

// EngineSettings converts the service configuration into the core module's
// configuration.
func (c Config) EngineSettings() swap.Config {
	return swap.Config{
		OraclePolicy:       c.Oracle.Policy,
		MaxPriceAgeSeconds: int64(c.Oracle.MaxAge.Duration / time.Second),
		WeightAmount:       c.Engine.WeightAmount,
		WeightTime:         c.Engine.WeightTime,
	}.Normalise()
}
