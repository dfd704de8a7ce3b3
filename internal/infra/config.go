package infra

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds all application settings. Sensitive or deployment-specific
// values can be overridden through environment variables after loading.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Binance struct {
			WSURL         string   `yaml:"ws_url"`
			RestURL       string   `yaml:"rest_url"`
			Symbols       []string `yaml:"symbols"`
			DepthLimit    int      `yaml:"depth_limit"`
			UpdateSpeedMS int      `yaml:"update_speed_ms"`
		} `yaml:"binance"`
	} `yaml:"api"`

	Book struct {
		ResyncIntervalSec int `yaml:"resync_interval_sec"`
		InboxSize         int `yaml:"inbox_size"`
	} `yaml:"book"`

	View struct {
		RefreshIntervalMS int             `yaml:"refresh_interval_ms"`
		DepthRows         int             `yaml:"depth_rows"`
		MinAmount         decimal.Decimal `yaml:"min_amount"`
		RoundingIncrement decimal.Decimal `yaml:"rounding_increment"`
		DefenceBandsBps   []int64         `yaml:"defence_bands_bps"`
		FlowStepSec       int             `yaml:"flow_step_sec"`
	} `yaml:"view"`

	History struct {
		Enabled           bool `yaml:"enabled"`
		SampleIntervalSec int  `yaml:"sample_interval_sec"`
		RetentionDays     int  `yaml:"retention_days"`
	} `yaml:"history"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file, applies environment
// overrides, and validates the result.
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
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.API.Binance.WSURL == "" || (!hasPrefix(c.API.Binance.WSURL, "ws://") && !hasPrefix(c.API.Binance.WSURL, "wss://")) {
		return fmt.Errorf("invalid Binance WS URL: %s", c.API.Binance.WSURL)
	}
	if c.API.Binance.RestURL == "" || (!hasPrefix(c.API.Binance.RestURL, "http://") && !hasPrefix(c.API.Binance.RestURL, "https://")) {
		return fmt.Errorf("invalid Binance REST URL: %s", c.API.Binance.RestURL)
	}
	if len(c.API.Binance.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if s := c.API.Binance.UpdateSpeedMS; s != 100 && s != 1000 {
		return fmt.Errorf("update speed must be 100 or 1000 ms, got %d", s)
	}

	if c.Book.ResyncIntervalSec <= 0 {
		return fmt.Errorf("resync interval must be positive")
	}
	if c.View.RefreshIntervalMS <= 0 {
		return fmt.Errorf("refresh interval must be positive")
	}
	if c.View.DepthRows <= 0 {
		return fmt.Errorf("depth rows must be positive")
	}
	if c.View.MinAmount.IsNegative() {
		return fmt.Errorf("min amount must not be negative")
	}
	for _, bps := range c.View.DefenceBandsBps {
		if bps <= 0 {
			return fmt.Errorf("defence band must be positive, got %d", bps)
		}
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv overwrites settings from environment variables when set.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("DEPTHWATCH_WS_URL"); url != "" {
		cfg.API.Binance.WSURL = url
	}
	if url := os.Getenv("DEPTHWATCH_REST_URL"); url != "" {
		cfg.API.Binance.RestURL = url
	}
	if level := os.Getenv("DEPTHWATCH_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

// applyDefaults fills optional settings the file left at zero.
func applyDefaults(cfg *Config) {
	if cfg.API.Binance.DepthLimit == 0 {
		cfg.API.Binance.DepthLimit = 1000
	}
	if cfg.API.Binance.UpdateSpeedMS == 0 {
		cfg.API.Binance.UpdateSpeedMS = 100
	}
	if cfg.Book.InboxSize == 0 {
		cfg.Book.InboxSize = 1024
	}
	if cfg.View.FlowStepSec == 0 {
		cfg.View.FlowStepSec = 5
	}
	if len(cfg.View.DefenceBandsBps) == 0 {
		cfg.View.DefenceBandsBps = []int64{10, 20, 30, 50, 100, 200, 300, 500, 1000, 2000}
	}
	if cfg.History.SampleIntervalSec == 0 {
		cfg.History.SampleIntervalSec = 30
	}
	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 7
	}
}
