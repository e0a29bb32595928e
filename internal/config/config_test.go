// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := Default()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestSetDefaultsDerivesWSURL(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		want    string
	}{
		{"http", "http://127.0.0.1:8765", "ws://127.0.0.1:8765/ws"},
		{"https", "https://host.example.com", "wss://host.example.com/ws"},
		{"trailing slash", "http://127.0.0.1:8765/", "ws://127.0.0.1:8765/ws"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Host: HostConfig{BaseURL: tt.baseURL}}
			cfg.SetDefaults()
			if cfg.Host.WSURL != tt.want {
				t.Errorf("WSURL = %q, want %q", cfg.Host.WSURL, tt.want)
			}
		})
	}
}

func TestSetDefaultsKeepsExplicitWSURL(t *testing.T) {
	cfg := &Config{Host: HostConfig{WSURL: "wss://other/ws"}}
	cfg.SetDefaults()
	if cfg.Host.WSURL != "wss://other/ws" {
		t.Errorf("explicit WSURL was overwritten: %q", cfg.Host.WSURL)
	}
}

func TestLoadFromPathTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
project_id = "proj-x"

[host]
base_url = "http://10.0.0.5:9000"
plugin_id = "voice"

[tools]
mode = "sync"
poll_interval_ms = 250
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.ProjectID != "proj-x" {
		t.Errorf("ProjectID = %q", cfg.ProjectID)
	}
	if cfg.Host.BaseURL != "http://10.0.0.5:9000" {
		t.Errorf("BaseURL = %q", cfg.Host.BaseURL)
	}
	if cfg.Host.WSURL != "ws://10.0.0.5:9000/ws" {
		t.Errorf("derived WSURL = %q", cfg.Host.WSURL)
	}
	if cfg.Tools.Mode != "sync" {
		t.Errorf("Tools.Mode = %q", cfg.Tools.Mode)
	}
	if cfg.Tools.PollIntervalMs != 250 {
		t.Errorf("PollIntervalMs = %d", cfg.Tools.PollIntervalMs)
	}
	// Unset sections keep defaults.
	if cfg.Realtime.HeartbeatSecs != 30 {
		t.Errorf("HeartbeatSecs = %d, want default 30", cfg.Realtime.HeartbeatSecs)
	}
	if cfg.Host.BasePath != "/api/sdk" {
		t.Errorf("BasePath = %q, want default", cfg.Host.BasePath)
	}
}

func TestLoadFromPathJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"project_id":"json-proj","storage":{"driver":"sqlite"}}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.ProjectID != "json-proj" {
		t.Errorf("ProjectID = %q", cfg.ProjectID)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q", cfg.Storage.Driver)
	}
}

func TestLoadFromPathInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[tools]
mode = "sideways"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatal("expected validation error for bad tool mode")
	}
	if !strings.Contains(err.Error(), "tools.mode") {
		t.Errorf("error should name the offending field: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DAWNCHAT_HOST_URL", "http://override:1234")
	t.Setenv("DAWNCHAT_PROJECT_ID", "env-proj")
	t.Setenv("DAWNCHAT_TOOL_MODE", "async")
	t.Setenv("DAWNCHAT_NO_RECONNECT", "true")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()

	if cfg.Host.BaseURL != "http://override:1234" {
		t.Errorf("BaseURL = %q", cfg.Host.BaseURL)
	}
	if cfg.ProjectID != "env-proj" {
		t.Errorf("ProjectID = %q", cfg.ProjectID)
	}
	if cfg.Tools.Mode != "async" {
		t.Errorf("Tools.Mode = %q", cfg.Tools.Mode)
	}
	if !cfg.Realtime.ReconnectDisabled {
		t.Error("ReconnectDisabled should be true")
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad base url", func(c *Config) { c.Host.BaseURL = "not a url" }, "host.base_url"},
		{"bad ws scheme", func(c *Config) { c.Host.WSURL = "http://x/ws" }, "host.ws_url"},
		{"base path without slash", func(c *Config) { c.Host.BasePath = "api/sdk" }, "host.base_path"},
		{"bad tool mode", func(c *Config) { c.Tools.Mode = "maybe" }, "tools.mode"},
		{"poll too small", func(c *Config) { c.Tools.PollIntervalMs = 10 }, "tools.poll_interval_ms"},
		{"bad storage driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"negative backoff", func(c *Config) { c.Realtime.ReconnectBaseDelayMs = -1 }, "realtime.reconnect_base_delay_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.SetDefaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q should mention field %q", err, tt.field)
			}
		})
	}
}

func TestGetCoversEveryKey(t *testing.T) {
	cfg := Default()
	cfg.SetDefaults()
	for _, key := range Keys() {
		if _, err := cfg.Get(key); err != nil {
			t.Errorf("Get(%q): %v", key, err)
		}
	}
}

func TestSetRoundTrip(t *testing.T) {
	cfg := Default()

	if err := cfg.Set("host.plugin_id", "voice"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("tools.poll_interval_ms", "750"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("realtime.reconnect_disabled", "true"); err != nil {
		t.Fatal(err)
	}

	if cfg.Host.PluginID != "voice" {
		t.Errorf("PluginID = %q", cfg.Host.PluginID)
	}
	if cfg.Tools.PollIntervalMs != 750 {
		t.Errorf("PollIntervalMs = %d", cfg.Tools.PollIntervalMs)
	}
	if !cfg.Realtime.ReconnectDisabled {
		t.Error("ReconnectDisabled should be true")
	}
}

func TestSetRejectsBadValues(t *testing.T) {
	cfg := Default()
	if err := cfg.Set("tools.poll_interval_ms", "fast"); err == nil {
		t.Error("expected error for non-integer")
	}
	if err := cfg.Set("realtime.reconnect_disabled", "sometimes"); err == nil {
		t.Error("expected error for non-boolean")
	}
	if err := cfg.Set("no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestSaveJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := Default()
	cfg.ProjectID = "saved"
	cfg.SetDefaults()

	if err := SaveJSON(cfg, path); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.ProjectID != "saved" {
		t.Errorf("ProjectID = %q", loaded.ProjectID)
	}
}

func TestSaveTOMLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.ProjectID = "toml-saved"
	cfg.Host.PluginID = "voice"
	cfg.SetDefaults()

	if err := SaveTOML(cfg, path); err != nil {
		t.Fatalf("SaveTOML: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config file permissions = %o, want 0600", perm)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if loaded.ProjectID != "toml-saved" || loaded.Host.PluginID != "voice" {
		t.Errorf("round trip lost fields: %+v", loaded.Host)
	}
}

func TestClone(t *testing.T) {
	cfg := Default()
	cfg.Realtime.Capabilities = []string{"chat"}

	cp := cfg.Clone()
	cp.Realtime.Capabilities[0] = "mutated"
	cp.ProjectID = "other"

	if cfg.Realtime.Capabilities[0] != "chat" {
		t.Error("Clone shares the capabilities slice")
	}
	if cfg.ProjectID == "other" {
		t.Error("Clone shares scalar fields")
	}
}
