// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading for examgate.
//
// Supports both TOML and JSON configuration formats, with sensible
// defaults, environment variable overrides, and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete examgate configuration.
type Config struct {
	// Server settings
	Server ServerConfig `toml:"server" json:"server"`

	// Database settings
	Database DatabaseConfig `toml:"database" json:"database"`

	// Security settings
	Security SecurityConfig `toml:"security" json:"security"`

	// Chat backend settings
	Chats ChatsConfig `toml:"chats" json:"chats"`
}

// ServerConfig contains the HTTP edge configuration.
type ServerConfig struct {
	// Addr is the listen address (host:port).
	Addr string `toml:"addr" json:"addr"`
	// RateLimitPerSecond caps requests per client IP.
	RateLimitPerSecond float64 `toml:"rate_limit_per_second" json:"rate_limit_per_second"`
	// RateLimitBurst is the per-IP burst allowance.
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst"`
}

// DatabaseConfig contains persistence configuration.
type DatabaseConfig struct {
	// Path is the sqlite database file.
	Path string `toml:"path" json:"path"`
}

// SecurityConfig contains secret material configuration.
type SecurityConfig struct {
	// Secret keys ticket signing and chat API key encryption.
	Secret string `toml:"secret" json:"secret"`
	// KeySalt salts the PBKDF2 derivation of the key cipher.
	KeySalt string `toml:"key_salt" json:"key_salt"`
	// TicketMaxAgeMinutes bounds student ticket validity (0 = no expiry).
	TicketMaxAgeMinutes int `toml:"ticket_max_age_minutes" json:"ticket_max_age_minutes"`
}

// ChatsConfig describes the chat AI backends to register.
type ChatsConfig struct {
	CopyPaste CopyPasteConfig `toml:"copy_paste" json:"copy_paste"`
	LocalAI   LocalAIConfig   `toml:"local_ai" json:"local_ai"`
	OpenAI    OpenAIConfig    `toml:"open_ai" json:"open_ai"`
}

// CopyPasteConfig configures the pass-through backend.
type CopyPasteConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Name    string `toml:"name" json:"name"`
}

// LocalAIConfig configures the local model backend.
type LocalAIConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Name    string `toml:"name" json:"name"`
	// URL is the local model server base URL.
	URL string `toml:"url" json:"url"`
}

// OpenAIConfig configures the remote streaming backend.
type OpenAIConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Name    string `toml:"name" json:"name"`
	// URL is the OpenAI-compatible API base URL.
	URL string `toml:"url" json:"url"`
	// PoolSize bounds concurrent upstream streams.
	PoolSize int `toml:"pool_size" json:"pool_size"`
	// Temperature is the sampling temperature.
	Temperature float64 `toml:"temperature" json:"temperature"`
	// HistoryDepth bounds replayed conversation context.
	HistoryDepth int `toml:"history_depth" json:"history_depth"`
	// Models lists the models offered to students.
	Models []OpenAIModelConfig `toml:"models" json:"models"`
}

// OpenAIModelConfig is one offered remote model.
type OpenAIModelConfig struct {
	Key  string `toml:"key" json:"key"`
	Name string `toml:"name" json:"name"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:               ":8080",
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
		},
		Database: DatabaseConfig{
			Path: "examgate.db",
		},
		Security: SecurityConfig{
			KeySalt:             "examgate-key-salt",
			TicketMaxAgeMinutes: 0,
		},
		Chats: ChatsConfig{
			CopyPaste: CopyPasteConfig{
				Enabled: true,
				Name:    "Copy & Paste",
			},
			LocalAI: LocalAIConfig{
				Enabled: false,
				Name:    "Local AI",
				URL:     "http://localhost:11434",
			},
			OpenAI: OpenAIConfig{
				Enabled:      false,
				Name:         "OpenAI",
				URL:          "https://api.openai.com/v1",
				PoolSize:     4,
				Temperature:  0.6,
				HistoryDepth: 10,
			},
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration at path on top of the defaults, then
// applies environment overrides and validates. TOML is tried first,
// JSON as fallback; an empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes one config file into cfg.
func loadFile(cfg *Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		return nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

// ApplyEnvOverrides applies EXAMGATE_* environment variables on top of
// the loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if addr := os.Getenv("EXAMGATE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if path := os.Getenv("EXAMGATE_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if secret := os.Getenv("EXAMGATE_SECRET"); secret != "" {
		c.Security.Secret = secret
	}
	if salt := os.Getenv("EXAMGATE_KEY_SALT"); salt != "" {
		c.Security.KeySalt = salt
	}
	if url := os.Getenv("EXAMGATE_LOCALAI_URL"); url != "" {
		c.Chats.LocalAI.URL = url
		c.Chats.LocalAI.Enabled = true
	}
	if url := os.Getenv("EXAMGATE_OPENAI_URL"); url != "" {
		c.Chats.OpenAI.URL = url
	}
	if enabled := os.Getenv("EXAMGATE_OPENAI_ENABLED"); enabled != "" {
		c.Chats.OpenAI.Enabled = parseBool(enabled)
	}
	if pool := os.Getenv("EXAMGATE_OPENAI_POOL"); pool != "" {
		if n, err := strconv.Atoi(pool); err == nil && n > 0 {
			c.Chats.OpenAI.PoolSize = n
		}
	}
}

// parseBool accepts the usual truthy spellings.
func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for fatal inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Security.Secret == "" {
		return fmt.Errorf("security.secret must be set (or EXAMGATE_SECRET)")
	}
	if c.Chats.LocalAI.Enabled && c.Chats.LocalAI.URL == "" {
		return fmt.Errorf("chats.local_ai.url must be set when enabled")
	}
	if c.Chats.OpenAI.Enabled {
		if c.Chats.OpenAI.URL == "" {
			return fmt.Errorf("chats.open_ai.url must be set when enabled")
		}
		if len(c.Chats.OpenAI.Models) == 0 {
			return fmt.Errorf("chats.open_ai.models must list at least one model")
		}
	}
	if !c.Chats.CopyPaste.Enabled && !c.Chats.LocalAI.Enabled && !c.Chats.OpenAI.Enabled {
		return fmt.Errorf("at least one chat backend must be enabled")
	}
	return nil
}
