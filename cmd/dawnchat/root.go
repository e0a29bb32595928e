// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dawnchat/dawnchat-go/internal/config"
	"github.com/dawnchat/dawnchat-go/internal/toolgw"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "dawnchat",
	Short:        "Client for a dawnchat host",
	Long:         "dawnchat talks to a dawnchat host process: interactive chat, tool calls, model downloads and configuration.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.dawnchat/config.toml)")
}

// loadConfig resolves the effective configuration for this invocation.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromPath(configPath)
	}
	return config.Load()
}

// hostClient builds the HTTP client for the host's tool and download surface.
func hostClient(cfg *config.Config) *toolgw.Client {
	return toolgw.NewClient(cfg.Host.BaseURL).
		WithBasePath(cfg.Host.BasePath).
		WithPluginID(cfg.Host.PluginID).
		WithPollInterval(cfg.Tools.PollInterval()).
		WithWaitTimeout(cfg.Tools.WaitTimeout())
}

// printJSON pretty-prints a value to stdout.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return nil
}
