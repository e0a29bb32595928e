// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// the dawnchat SDK.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (DAWNCHAT_*)
//   - ~/.dawnchat/config.toml
//   - ~/.dawnchat/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Access settings:
//
//	url := cfg.Host.WSURL
//	interval := cfg.Realtime.HeartbeatInterval()
//
// A Watcher can follow the config file on disk and deliver reloaded
// configurations on change.
package config
