// Package config loads the ledger service configuration from a TOML file
// merged over defaults, with environment variable overrides for the values
// that differ per deployment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendPostgres = "postgres"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Admin    AdminConfig    `toml:"admin"`
	FHE      FHEConfig      `toml:"fhe"`
	Exposure ExposureConfig `toml:"exposure"`
	Pricing  PricingConfig  `toml:"pricing"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig contains the HTTP listener configuration.
type ServerConfig struct {
	// ListenAddr is the address to serve the API on (e.g., ":8080").
	ListenAddr string `toml:"listen_addr"`

	// ShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM.
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Backend is "memory", "leveldb", or "postgres".
	Backend string `toml:"backend"`

	// DatabaseURL is the PostgreSQL connection string (postgres backend).
	DatabaseURL string `toml:"database_url"`

	// LevelDBPath is the on-disk database directory (leveldb backend).
	LevelDBPath string `toml:"leveldb_path"`

	// RedisURL enables the read-through cache in front of the postgres
	// backend when non-empty.
	RedisURL string `toml:"redis_url"`
}

// AdminConfig identifies the administrator account.
type AdminConfig struct {
	// Account is the sole account permitted to update reference prices,
	// verify traders, and execute emergency withdrawal.
	Account string `toml:"account"`
}

// FHEConfig configures the confidential-computation engine.
type FHEConfig struct {
	// MasterKey is the hex-encoded 32-byte engine key. When empty a random
	// key is generated at startup and encrypted state does not survive a
	// restart.
	MasterKey string `toml:"master_key"`
}

// ExposureConfig bounds open-contract concentration. Zero disables a limit.
type ExposureConfig struct {
	MaxActivePerTrader int `toml:"max_active_per_trader"`
	MaxOpenPerCrop     int `toml:"max_open_per_crop"`
}

// PricingConfig tunes the reference price index.
type PricingConfig struct {
	// IndexAlpha is the EWMA smoothing factor in (0, 1], as a decimal
	// string.
	IndexAlpha string `toml:"index_alpha"`

	// HistorySize is the number of price observations kept per commodity.
	HistorySize int `toml:"history_size"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `toml:"level"`

	// Format is the log output format ("text" or "json").
	Format string `toml:"format"`
}

// Duration is a wrapper around time.Duration for TOML unmarshaling.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store: StoreConfig{
			Backend: BackendMemory,
		},
		Admin: AdminConfig{
			Account: "admin",
		},
		Exposure: ExposureConfig{
			MaxActivePerTrader: 0,
			MaxOpenPerCrop:     0,
		},
		Pricing: PricingConfig{
			IndexAlpha:  "0.2",
			HistorySize: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a TOML file merged over defaults and applies
// environment overrides. An empty path skips the file and uses defaults plus
// environment only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Server.ListenAddr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Store.Backend = BackendPostgres
		c.Store.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := os.Getenv("LEVELDB_PATH"); v != "" {
		if c.Store.Backend != BackendPostgres {
			c.Store.Backend = BackendLevelDB
		}
		c.Store.LevelDBPath = v
	}
	if v := os.Getenv("ADMIN_ACCOUNT"); v != "" {
		c.Admin.Account = v
	}
	if v := os.Getenv("FHE_MASTER_KEY"); v != "" {
		c.FHE.MasterKey = v
	}
}

// Validation errors.
var (
	ErrEmptyListenAddr        = errors.New("server listen_addr cannot be empty")
	ErrInvalidShutdownTimeout = errors.New("server shutdown_timeout must be positive")
	ErrInvalidBackend         = errors.New("store backend must be 'memory', 'leveldb', or 'postgres'")
	ErrEmptyDatabaseURL       = errors.New("store database_url cannot be empty with the postgres backend")
	ErrEmptyLevelDBPath       = errors.New("store leveldb_path cannot be empty with the leveldb backend")
	ErrEmptyAdminAccount      = errors.New("admin account cannot be empty")
	ErrInvalidHistorySize     = errors.New("pricing history_size must be positive")
	ErrEmptyIndexAlpha        = errors.New("pricing index_alpha cannot be empty")
	ErrInvalidLogLevel        = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat       = errors.New("log format must be 'text' or 'json'")
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if c.Admin.Account == "" {
		return fmt.Errorf("admin config: %w", ErrEmptyAdminAccount)
	}
	if err := c.Pricing.Validate(); err != nil {
		return fmt.Errorf("pricing config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate checks the server configuration for errors.
func (c *ServerConfig) Validate() error {
	if c.ListenAddr == "" {
		return ErrEmptyListenAddr
	}
	if c.ShutdownTimeout.Duration() <= 0 {
		return ErrInvalidShutdownTimeout
	}
	return nil
}

// Validate checks the store configuration for errors.
func (c *StoreConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendLevelDB:
		if c.LevelDBPath == "" {
			return ErrEmptyLevelDBPath
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return ErrEmptyDatabaseURL
		}
	default:
		return ErrInvalidBackend
	}
	return nil
}

// Validate checks the pricing configuration for errors.
func (c *PricingConfig) Validate() error {
	if c.IndexAlpha == "" {
		return ErrEmptyIndexAlpha
	}
	if c.HistorySize <= 0 {
		return ErrInvalidHistorySize
	}
	return nil
}

// Validate checks the logging configuration for errors.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch c.Format {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}
	return nil
}
