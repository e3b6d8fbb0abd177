package config

import (
	"fmt"
	"time"

	"gamenet/internal/server"
)

// Config holds server configuration values.
type Config struct {
	// Addr is the TCP address game clients connect to.
	Addr string `mapstructure:"addr" yaml:"addr"`
	// HTTPAddr serves the WebSocket bridge and the admin endpoints.
	HTTPAddr string `mapstructure:"http_addr" yaml:"http_addr"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	// ConnectionLimit bounds concurrent sessions; 0 means unlimited.
	ConnectionLimit int `mapstructure:"connection_limit" yaml:"connection_limit"`
	// HistoryPath enables the SQLite chat transcript when non-empty.
	HistoryPath string `mapstructure:"history_path" yaml:"history_path"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              fmt.Sprintf(":%d", server.DefaultPort),
		HTTPAddr:          ":8080",
		LogLevel:          "info",
		ConnectionLimit:   0,
		HistoryPath:       "",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// EffectiveLimit maps the config value onto the server's admission bound.
func (c Config) EffectiveLimit() int {
	if c.ConnectionLimit <= 0 {
		return server.NoConnectionLimit
	}
	return c.ConnectionLimit
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.HTTPAddr != "" {
		c.HTTPAddr = other.HTTPAddr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.ConnectionLimit != 0 {
		c.ConnectionLimit = other.ConnectionLimit
	}
	if other.HistoryPath != "" {
		c.HistoryPath = other.HistoryPath
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}
