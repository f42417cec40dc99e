// Package config loads the daemon configuration: a TOML file with defaults
// for every section, plus an environment overlay for secrets so tokens stay
// out of the config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration wraps time.Duration for TOML decoding ("30m", "6h").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the root of config.toml.
type Config struct {
	DataDir  string `toml:"data_dir"`
	LogFile  string `toml:"log_file"`
	LogLevel string `toml:"log_level"`

	Provider  ProviderConfig  `toml:"provider"`
	Sync      SyncConfig      `toml:"sync"`
	Gaps      GapsConfig      `toml:"gaps"`
	Cache     CacheConfig     `toml:"cache"`
	Scheduler SchedulerConfig `toml:"scheduler"`

	Accounts []AccountConfig `toml:"accounts"`
}

// ProviderConfig holds the upstream API endpoint and credentials. The token
// normally comes from the environment, not the file.
type ProviderConfig struct {
	BaseURL string `toml:"base_url"`
	Token   string `toml:"token"`
}

// SyncConfig tunes the historical sync engine.
type SyncConfig struct {
	PageSize     int      `toml:"page_size"`
	MaxRetries   int      `toml:"max_retries"`
	RetryBackoff Duration `toml:"retry_backoff"`
}

// GapsConfig tunes the gap detector.
type GapsConfig struct {
	TimeGapThreshold Duration `toml:"time_gap_threshold"`
	RecencyWindow    Duration `toml:"recency_window"`
	Cooldown         Duration `toml:"cooldown"`
}

// CacheConfig sizes the read cache.
type CacheConfig struct {
	ListEntries         int      `toml:"list_entries"`
	ConversationEntries int      `toml:"conversation_entries"`
	PageEntries         int      `toml:"page_entries"`
	TTL                 Duration `toml:"ttl"`
}

// SchedulerConfig tunes the host sync loop.
type SchedulerConfig struct {
	Interval      Duration `toml:"interval"`
	MaxConcurrent int      `toml:"max_concurrent"`
}

// AccountConfig declares one provider account to host.
type AccountConfig struct {
	AccountID          string `toml:"account_id"`
	ChannelType        string `toml:"channel_type"`
	BusinessIdentifier string `toml:"business_identifier"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".omnisync")
	return &Config{
		DataDir:  dataDir,
		LogFile:  filepath.Join(dataDir, "omnisyncd.log"),
		LogLevel: "info",
		Provider: ProviderConfig{
			BaseURL: "https://api.omnidesk.example",
		},
		Sync: SyncConfig{
			PageSize:     100,
			MaxRetries:   3,
			RetryBackoff: Duration{500 * time.Millisecond},
		},
		Gaps: GapsConfig{
			TimeGapThreshold: Duration{30 * time.Minute},
			RecencyWindow:    Duration{24 * time.Hour},
			Cooldown:         Duration{5 * time.Minute},
		},
		Cache: CacheConfig{
			ListEntries:         256,
			ConversationEntries: 2048,
			PageEntries:         1024,
			TTL:                 Duration{5 * time.Minute},
		},
		Scheduler: SchedulerConfig{
			Interval:      Duration{15 * time.Minute},
			MaxConcurrent: 4,
		},
	}
}

// Load reads config from path on top of the defaults, then applies the
// environment overlay. A missing file is not an error when path is empty;
// an explicit path must exist.
func Load(path string) (*Config, error) {
	// Best effort: a .env in the working directory seeds the overlay.
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "omnisyncd.log")
	}
	return cfg, nil
}

// applyEnv overrides file values with OMNISYNC_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("OMNISYNC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("OMNISYNC_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("OMNISYNC_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("OMNISYNC_PROVIDER_BASE_URL"); v != "" {
		c.Provider.BaseURL = v
	}
	if v := os.Getenv("OMNISYNC_PROVIDER_TOKEN"); v != "" {
		c.Provider.Token = v
	}
}

// DBPath is the SQLite database location under the data dir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "omnisync.db")
}
