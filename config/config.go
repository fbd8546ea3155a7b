package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	swap "swapnet/native/swap"
)

// Config is the engine-level configuration shared by every deployment of the
// swap module, independent of the serving daemon.
type Config struct {
	Admin  string      `toml:"admin"`
	Assets []Asset     `toml:"assets"`
	Engine swap.Config `toml:"engine"`
}

// Asset declares a symbol registered at startup.
type Asset struct {
	Symbol   string `toml:"symbol"`
	Decimals uint8  `toml:"decimals"`
}

// Load reads and normalises the TOML configuration at path.
func Load(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.Engine = cfg.Engine.Normalise()
	return cfg, nil
}
