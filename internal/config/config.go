// Package config defines the TOML-backed configuration and its validation.
package config

import (
	"net"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	derrors "github.com/y3owk1n/kioku/internal/errors"
)

// ServerConfig defines the listen address.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// CacheConfig defines the engine limits.
type CacheConfig struct {
	MemoryLimitMB uint64  `toml:"memory_limit_mb"`
	ItemLifetime  float64 `toml:"item_lifetime"`
	KeyMaxlen     uint64  `toml:"key_maxlen"`
	ValueMaxlen   uint64  `toml:"value_maxlen"`
}

// LoggingConfig defines log output and rotation settings.
type LoggingConfig struct {
	Level       string `toml:"level"`
	File        string `toml:"file"`
	Structured  bool   `toml:"structured"`
	DisableFile bool   `toml:"disable_file"`
	MaxFileSize int    `toml:"max_file_size"`
	MaxBackups  int    `toml:"max_backups"`
	MaxAge      int    `toml:"max_age"`
}

// MetricsConfig toggles the internal timing collector.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// Config represents the complete application configuration structure.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Cache   CacheConfig   `toml:"cache"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
}

// DefaultPort is the default listen port.
const DefaultPort = 11311

// DefaultConfig returns the configuration used when no file and no flags
// override anything: localhost, 64 MiB budget, memcached-standard length
// limits, unlimited item lifetime.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: DefaultPort,
		},
		Cache: CacheConfig{
			MemoryLimitMB: 64,
			ItemLifetime:  -1,
			KeyMaxlen:     250,
			ValueMaxlen:   1 << 20,
		},
		Logging: LoggingConfig{
			Level:       "info",
			DisableFile: true,
			MaxFileSize: 10,
			MaxBackups:  3,
			MaxAge:      7,
		},
	}
}

// Load reads the TOML file at path over the defaults. An empty path just
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	_, statErr := os.Stat(path)
	if statErr != nil {
		return nil, derrors.Wrapf(statErr, derrors.CodeConfigIOFailed, "cannot read config %s", path)
	}

	_, decodeErr := toml.DecodeFile(path, cfg)
	if decodeErr != nil {
		return nil, derrors.Wrapf(decodeErr, derrors.CodeInvalidConfig, "cannot parse config %s", path)
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return derrors.Newf(derrors.CodeInvalidConfig, "port %d out of range", c.Server.Port)
	}

	if c.Cache.MemoryLimitMB == 0 {
		return derrors.New(derrors.CodeInvalidConfig, "memory limit must be positive")
	}

	if c.Cache.KeyMaxlen == 0 {
		return derrors.New(derrors.CodeInvalidConfig, "key maxlen must be positive")
	}

	if c.Cache.ValueMaxlen == 0 {
		return derrors.New(derrors.CodeInvalidConfig, "value maxlen must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return derrors.Newf(derrors.CodeInvalidConfig, "unknown log level %q", c.Logging.Level)
	}

	return nil
}

// Addr returns the host:port the server should bind.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// CapacityBytes returns the byte budget derived from the MiB limit.
func (c *Config) CapacityBytes() uint64 {
	return c.Cache.MemoryLimitMB * 1024 * 1024
}
