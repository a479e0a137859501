// StudyPulse - Real-time Course Activity Tracking
// Copyright 2026 J. Whitfield (jwhitfield)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jwhitfield/studypulse

// Package config loads StudyPulse configuration via Koanf v2 with layered
// sources (highest priority wins): environment variables, optional YAML
// config file, built-in defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the realtime server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Auth     AuthConfig     `koanf:"auth"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// AuthConfig holds credential verification settings.
// The HS256 secret verifies bearer tokens presented at the websocket
// handshake; issuer and audience are checked only when non-empty.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
	Audience  string `koanf:"audience"`
}

// RealtimeConfig holds websocket hub and heartbeat settings.
type RealtimeConfig struct {
	// HeartbeatInterval is the liveness probe period. A connection that
	// misses a single probe cycle is evicted.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// WriteWait bounds each outbound frame write.
	WriteWait time.Duration `koanf:"write_wait"`

	// MaxMessageSize limits inbound frames in bytes.
	MaxMessageSize int64 `koanf:"max_message_size"`

	// SendBuffer is the per-connection outbound queue length. A connection
	// whose queue is full at broadcast time is dropped.
	SendBuffer int `koanf:"send_buffer"`

	// AllowedOrigins restricts websocket upgrades; "*" allows any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// UpgradeRateLimit is the per-IP connection attempt budget per minute.
	UpgradeRateLimit int `koanf:"upgrade_rate_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8765,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret: "",
			Issuer:    "",
			Audience:  "",
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval: 30 * time.Second,
			WriteWait:         10 * time.Second,
			MaxMessageSize:    64 * 1024, // 64 KB; inbound frames are small control messages
			SendBuffer:        256,
			AllowedOrigins:    []string{"*"},
			UpgradeRateLimit:  60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for values that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters, got %d", len(c.Auth.JWTSecret))
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("realtime.heartbeat_interval must be positive")
	}
	if c.Realtime.WriteWait <= 0 {
		return fmt.Errorf("realtime.write_wait must be positive")
	}
	if c.Realtime.MaxMessageSize <= 0 {
		return fmt.Errorf("realtime.max_message_size must be positive")
	}
	if c.Realtime.SendBuffer <= 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	return nil
}
