package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, BackendMemory, cfg.Store.Backend)
	require.Equal(t, ":8080", cfg.Server.ListenAddr)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
listen_addr = ":9000"
shutdown_timeout = "30s"

[store]
backend = "leveldb"
leveldb_path = "/tmp/ledger-test"

[admin]
account = "ops-admin"

[pricing]
index_alpha = "0.5"
history_size = 16
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Server.ListenAddr)
	require.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout.Duration())
	require.Equal(t, BackendLevelDB, cfg.Store.Backend)
	require.Equal(t, "ops-admin", cfg.Admin.Account)
	require.Equal(t, "0.5", cfg.Pricing.IndexAlpha)
	// Untouched sections keep defaults.
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.Store.Backend)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7777")
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("ADMIN_ACCOUNT", "env-admin")
	t.Setenv("FHE_MASTER_KEY", "00112233")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":7777", cfg.Server.ListenAddr)
	require.Equal(t, BackendPostgres, cfg.Store.Backend)
	require.Equal(t, "postgres://localhost/ledger", cfg.Store.DatabaseURL)
	require.Equal(t, "redis://localhost:6379", cfg.Store.RedisURL)
	require.Equal(t, "env-admin", cfg.Admin.Account)
	require.Equal(t, "00112233", cfg.FHE.MasterKey)
}

func TestEnvDatabaseURLWinsOverLevelDBPath(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/ledger")
	t.Setenv("LEVELDB_PATH", "/tmp/ledger")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, BackendPostgres, cfg.Store.Backend)
	require.Equal(t, "/tmp/ledger", cfg.Store.LevelDBPath)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"empty listen addr", func(c *Config) { c.Server.ListenAddr = "" }, ErrEmptyListenAddr},
		{"zero shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, ErrInvalidShutdownTimeout},
		{"unknown backend", func(c *Config) { c.Store.Backend = "etcd" }, ErrInvalidBackend},
		{"postgres without url", func(c *Config) { c.Store.Backend = BackendPostgres }, ErrEmptyDatabaseURL},
		{"leveldb without path", func(c *Config) { c.Store.Backend = BackendLevelDB }, ErrEmptyLevelDBPath},
		{"empty admin", func(c *Config) { c.Admin.Account = "" }, ErrEmptyAdminAccount},
		{"zero history size", func(c *Config) { c.Pricing.HistorySize = 0 }, ErrInvalidHistorySize},
		{"empty alpha", func(c *Config) { c.Pricing.IndexAlpha = "" }, ErrEmptyIndexAlpha},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, ErrInvalidLogLevel},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, ErrInvalidLogFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	require.Equal(t, 90*time.Second, d.Duration())

	out, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(out))
}
