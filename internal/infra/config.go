package infra

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config holds every tunable of the application. Sensitive values can be
// overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		CoinGecko struct {
			RestURL          string `yaml:"rest_url"`
			APIKey           string `yaml:"api_key"`
			BatchSize        int    `yaml:"batch_size"`
			BatchCooldownSec int    `yaml:"batch_cooldown_sec"`
			TimeoutSec       int    `yaml:"timeout_sec"`
		} `yaml:"coingecko"`
		Stream struct {
			Enabled bool   `yaml:"enabled"`
			WSURL   string `yaml:"ws_url"`
			Quote   string `yaml:"quote"`
		} `yaml:"stream"`
	} `yaml:"api"`

	Engine struct {
		MatchingIntervalSec    int `yaml:"matching_interval_sec"`
		RevaluationIntervalMin int `yaml:"revaluation_interval_min"`
		RevalueDebounceSec     int `yaml:"revalue_debounce_sec"`
		CoinCacheTTLMin        int `yaml:"coin_cache_ttl_min"`
		PriceFreshSec          int `yaml:"price_fresh_sec"`
	} `yaml:"engine"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.API.CoinGecko.RestURL == "" || !hasPrefix(c.API.CoinGecko.RestURL, "http") {
		return fmt.Errorf("invalid CoinGecko REST URL: %s", c.API.CoinGecko.RestURL)
	}
	if c.API.CoinGecko.BatchSize <= 0 {
		return fmt.Errorf("price batch size must be positive")
	}
	if c.API.CoinGecko.BatchCooldownSec < 0 {
		return fmt.Errorf("batch cooldown must not be negative")
	}
	if c.Engine.MatchingIntervalSec <= 0 {
		return fmt.Errorf("matching interval must be positive")
	}
	if c.Engine.RevaluationIntervalMin <= 0 {
		return fmt.Errorf("revaluation interval must be positive")
	}
	if c.API.Stream.Enabled {
		if !hasPrefix(c.API.Stream.WSURL, "ws://") && !hasPrefix(c.API.Stream.WSURL, "wss://") {
			return fmt.Errorf("invalid stream WS URL: %s", c.API.Stream.WSURL)
		}
	}
	return nil
}

// BatchCooldown returns the inter-batch delay as a Duration.
func (c *Config) BatchCooldown() time.Duration {
	return time.Duration(c.API.CoinGecko.BatchCooldownSec) * time.Second
}

// MatchingInterval returns the delay between matching passes.
func (c *Config) MatchingInterval() time.Duration {
	return time.Duration(c.Engine.MatchingIntervalSec) * time.Second
}

// RevaluationInterval returns the delay between full revaluation passes.
func (c *Config) RevaluationInterval() time.Duration {
	return time.Duration(c.Engine.RevaluationIntervalMin) * time.Minute
}

// RevalueDebounce returns the minimum spacing of on-demand revaluations
// of one wallet.
func (c *Config) RevalueDebounce() time.Duration {
	return time.Duration(c.Engine.RevalueDebounceSec) * time.Second
}

// CoinCacheTTL returns how long the coin-list lookup stays fresh.
func (c *Config) CoinCacheTTL() time.Duration {
	return time.Duration(c.Engine.CoinCacheTTLMin) * time.Minute
}

// PriceFreshness returns how long a cached price is served without a
// REST refresh.
func (c *Config) PriceFreshness() time.Duration {
	return time.Duration(c.Engine.PriceFreshSec) * time.Second
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv replaces config values from environment variables when set.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("COINPULSE_COINGECKO_KEY"); key != "" {
		cfg.API.CoinGecko.APIKey = key
	}
	if path := os.Getenv("COINPULSE_DB_PATH"); path != "" {
		cfg.Storage.Path = path
	}
}
