// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Command dawnchat is a command-line client for a dawnchat host: interactive
// chat over the realtime protocol, tool invocation, model download management
// and configuration.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
