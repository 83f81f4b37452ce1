package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.toi-monitor/config.toml.
type Config struct {
	DefaultTenant string `toml:"default_tenant"`

	Source   Source   `toml:"source"`
	Realtime Realtime `toml:"realtime"`
	Sync     Sync     `toml:"sync"`
}

// Source configures the row source backend.
type Source struct {
	// Driver is "sqlite" or "postgres".
	Driver string `toml:"driver"`
	// DSN is the postgres connection string; ignored for sqlite, which
	// stores its database under the tenant directory.
	DSN string `toml:"dsn"`
}

// Realtime configures the change feed endpoint.
type Realtime struct {
	// URL is the websocket endpoint of the store's realtime channel.
	// Empty disables the live feed; polling then carries all updates.
	URL string `toml:"url"`
}

// Sync holds tuning knobs for the synchronization engine.
type Sync struct {
	ConversationPageSize int `toml:"conversation_page_size"`
	MessagePageSize      int `toml:"message_page_size"`
	PollIntervalMS       int `toml:"poll_interval_ms"`
	SearchDebounceMS     int `toml:"search_debounce_ms"`
}

// Default returns a config with the stock tuning values.
func Default() *Config {
	return &Config{
		DefaultTenant: "main",
		Source:        Source{Driver: "sqlite"},
		Sync: Sync{
			ConversationPageSize: 15,
			MessagePageSize:      50,
			PollIntervalMS:       10000,
			SearchDebounceMS:     450,
		},
	}
}

// PollInterval returns the poll cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Sync.PollIntervalMS) * time.Millisecond
}

// SearchDebounce returns the search debounce window as a duration.
func (c *Config) SearchDebounce() time.Duration {
	return time.Duration(c.Sync.SearchDebounceMS) * time.Millisecond
}

// Load reads config from the given path and fills unset tuning values
// with defaults. Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.DefaultTenant == "" {
		cfg.DefaultTenant = def.DefaultTenant
	}
	if cfg.Source.Driver == "" {
		cfg.Source.Driver = def.Source.Driver
	}
	if cfg.Sync.ConversationPageSize <= 0 {
		cfg.Sync.ConversationPageSize = def.Sync.ConversationPageSize
	}
	if cfg.Sync.MessagePageSize <= 0 {
		cfg.Sync.MessagePageSize = def.Sync.MessagePageSize
	}
	if cfg.Sync.PollIntervalMS <= 0 {
		cfg.Sync.PollIntervalMS = def.Sync.PollIntervalMS
	}
	if cfg.Sync.SearchDebounceMS <= 0 {
		cfg.Sync.SearchDebounceMS = def.Sync.SearchDebounceMS
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
