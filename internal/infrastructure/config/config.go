package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/GriffinCanCode/filer/internal/job"
)

// Config holds all daemon configuration.
type Config struct {
	Server      ServerConfig
	Engine      EngineConfig
	Folder      FolderConfig
	Trash       TrashConfig
	Preferences Preferences
	Logging     LogConfig
	RateLimit   RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"FILER_PORT" default:"8740"`
	Host string `envconfig:"FILER_HOST" default:"127.0.0.1"`
}

// EngineConfig holds job engine and scheduler configuration.
type EngineConfig struct {
	Workers          int           `envconfig:"FILER_WORKERS" default:"2"`
	ChunkSize        int           `envconfig:"FILER_CHUNK_SIZE" default:"1048576"`
	ProgressInterval time.Duration `envconfig:"FILER_PROGRESS_INTERVAL" default:"100ms"`
	VerifyChecksums  bool          `envconfig:"FILER_VERIFY_CHECKSUMS" default:"false"`
	RetainJobs       int           `envconfig:"FILER_RETAIN_JOBS" default:"100"`
}

// FolderConfig holds folder model and watcher configuration.
type FolderConfig struct {
	Debounce     time.Duration `envconfig:"FILER_WATCH_DEBOUNCE" default:"150ms"`
	PollInterval time.Duration `envconfig:"FILER_WATCH_POLL" default:"2s"`
	ForcePoll    bool          `envconfig:"FILER_WATCH_FORCE_POLL" default:"false"`
	DisableWatch bool          `envconfig:"FILER_WATCH_DISABLED" default:"false"`
	DetectMime   bool          `envconfig:"FILER_DETECT_MIME" default:"false"`
}

// TrashConfig holds trash store configuration.
type TrashConfig struct {
	// Dir is the trash root; empty means $XDG_DATA_HOME/Trash
	Dir string `envconfig:"FILER_TRASH_DIR"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"FILER_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"FILER_LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"FILER_RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"FILER_RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"FILER_RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables, then overlays the
// preferences file when one is configured.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Preferences.File != "" {
		if err := LoadPreferencesFile(cfg.Preferences.File, &cfg.Preferences); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8740",
			Host: "127.0.0.1",
		},
		Engine: EngineConfig{
			Workers:          2,
			ChunkSize:        1 << 20,
			ProgressInterval: 100 * time.Millisecond,
			RetainJobs:       100,
		},
		Folder: FolderConfig{
			Debounce:     150 * time.Millisecond,
			PollInterval: 2 * time.Second,
		},
		Preferences: Preferences{
			Policy:        string(job.PolicyAsk),
			ConfirmDelete: true,
			ConfirmTrash:  false,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}

// Validate rejects values the daemon cannot run with.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q", c.Server.Port)
	}
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Engine.Workers)
	}
	if c.Engine.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Engine.ChunkSize)
	}
	if _, err := job.ParsePolicy(c.Preferences.Policy); err != nil {
		return fmt.Errorf("invalid preferences: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// TrashDir returns the configured trash root or the XDG default.
func (c *Config) TrashDir() (string, error) {
	if c.Trash.Dir != "" {
		return filepath.Abs(c.Trash.Dir)
	}
	if data := os.Getenv("XDG_DATA_HOME"); data != "" {
		return filepath.Join(data, "Trash"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate trash: %w", err)
	}
	return filepath.Join(home, ".local", "share", "Trash"), nil
}
