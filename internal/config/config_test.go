package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/y3owk1n/kioku/internal/config"
	derrors "github.com/y3owk1n/kioku/internal/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, config.DefaultPort, cfg.Server.Port)
	assert.Equal(t, uint64(64), cfg.Cache.MemoryLimitMB)
	assert.Equal(t, float64(-1), cfg.Cache.ItemLifetime)
	assert.Equal(t, uint64(250), cfg.Cache.KeyMaxlen)
	assert.Equal(t, uint64(1<<20), cfg.Cache.ValueMaxlen)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kioku.toml")

	content := `
[server]
host = "0.0.0.0"
port = 11411

[cache]
memory_limit_mb = 128
item_lifetime = 300.0

[logging]
level = "debug"

[metrics]
enabled = true
`

	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 11411, cfg.Server.Port)
	assert.Equal(t, uint64(128), cfg.Cache.MemoryLimitMB)
	assert.Equal(t, 300.0, cfg.Cache.ItemLifetime)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)

	// Unmentioned settings keep their defaults
	assert.Equal(t, uint64(250), cfg.Cache.KeyMaxlen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.Equal(t, derrors.CodeConfigIOFailed, derrors.GetCode(err))
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nhost="), 0o600))

	_, err := config.Load(path)
	require.Error(t, err)
	assert.Equal(t, derrors.CodeInvalidConfig, derrors.GetCode(err))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"port too low", func(c *config.Config) { c.Server.Port = 0 }},
		{"port too high", func(c *config.Config) { c.Server.Port = 70000 }},
		{"zero memory", func(c *config.Config) { c.Cache.MemoryLimitMB = 0 }},
		{"zero key maxlen", func(c *config.Config) { c.Cache.KeyMaxlen = 0 }},
		{"zero value maxlen", func(c *config.Config) { c.Cache.ValueMaxlen = 0 }},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, derrors.CodeInvalidConfig, derrors.GetCode(err))
		})
	}
}

func TestAddrAndCapacity(t *testing.T) {
	cfg := config.DefaultConfig()

	assert.Equal(t, "127.0.0.1:11311", cfg.Addr())
	assert.Equal(t, uint64(64<<20), cfg.CapacityBytes())
}
