// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolgw implements the tool invocation gateway: an HTTP client for
// submitting tool calls, polling task status, and cancelling tasks, plus a
// single-task orchestrator that drives one call through its full lifecycle.
//
// The client is a stateless request helper. Every failure it returns is an
// *Error carrying a stable code from the taxonomy in errors.go, a retriable
// flag, and whatever HTTP status and detail text the host provided.
//
// The orchestrator wraps the client in a small state machine:
//
//	idle -> pending -> running -> {completed, failed, cancelled}
//
// Synchronous tool calls (the host answers inline, no task id) skip the
// running state entirely. Every transition is emitted through an injectable
// events.Sink.
//
// Example:
//
//	client := toolgw.NewClient("http://127.0.0.1:8431")
//	orch := toolgw.NewOrchestrator(client, nil)
//	result, err := orch.Run(ctx, toolgw.CallRequest{
//	    ToolName:  "image.generate",
//	    Arguments: map[string]any{"prompt": "a lighthouse"},
//	})
package toolgw
