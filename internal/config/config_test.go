// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaultsWithSecret(t *testing.T) {
	t.Setenv("EXAMGATE_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "s3cret", cfg.Security.Secret)
	assert.True(t, cfg.Chats.CopyPaste.Enabled)
}

func TestLoadRequiresSecret(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
addr = ":9999"

[security]
secret = "toml-secret"

[chats.open_ai]
enabled = true
url = "https://api.example.com/v1"

[[chats.open_ai.models]]
key = "gpt-4o"
name = "GPT-4o"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.True(t, cfg.Chats.OpenAI.Enabled)
	require.Len(t, cfg.Chats.OpenAI.Models, 1)
	assert.Equal(t, "gpt-4o", cfg.Chats.OpenAI.Models[0].Key)
	// Defaults survive partial files.
	assert.Equal(t, 4, cfg.Chats.OpenAI.PoolSize)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"security": {"secret": "json-secret"},
		"chats": {"local_ai": {"enabled": true, "url": "http://localhost:1234"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "json-secret", cfg.Security.Secret)
	assert.True(t, cfg.Chats.LocalAI.Enabled)
	assert.Equal(t, "http://localhost:1234", cfg.Chats.LocalAI.URL)
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := writeFile(t, "config.toml", `
[server]
addr = ":9999"

[security]
secret = "file-secret"
`)
	t.Setenv("EXAMGATE_ADDR", ":7777")
	t.Setenv("EXAMGATE_SECRET", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Addr)
	assert.Equal(t, "env-secret", cfg.Security.Secret)
}

func TestValidateEnabledBackends(t *testing.T) {
	cfg := Default()
	cfg.Security.Secret = "x"

	cfg.Chats.OpenAI.Enabled = true
	cfg.Chats.OpenAI.Models = nil
	assert.Error(t, cfg.Validate(), "remote backend without models")

	cfg = Default()
	cfg.Security.Secret = "x"
	cfg.Chats.CopyPaste.Enabled = false
	assert.Error(t, cfg.Validate(), "no backend enabled")

	cfg = Default()
	cfg.Security.Secret = "x"
	cfg.Chats.LocalAI.Enabled = true
	cfg.Chats.LocalAI.URL = ""
	assert.Error(t, cfg.Validate(), "local backend without url")
}
