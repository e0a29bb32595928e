// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the ZMP wire protocol used between the DawnChat
// client SDK and the host.
//
// Every message on the wire is an Envelope: a JSON object carrying routing
// and correlation metadata (trace id, message id, project id, timestamp)
// around an opaque payload. The envelope type tag drives dispatch on both
// ends of the connection.
//
// # Key Types
//
//   - Envelope: one self-contained protocol message
//   - MessageType: the envelope type tag (handshake, heartbeat, tool_call, ...)
//   - Direction: request, response, or event
//   - RawMessage: the persisted form of an envelope used by the chat store
//
// # Usage
//
// Build an outbound envelope with defaults filled in:
//
//	env := protocol.Build(protocol.Envelope{
//	    Type:      protocol.TypeUserCommand,
//	    Direction: protocol.DirectionRequest,
//	    Payload:   map[string]any{"command": "summarize"},
//	}, "project-1")
//
// Decode an inbound frame:
//
//	env, err := protocol.Decode(data)
//	if err != nil {
//	    // malformed frame, report and drop
//	}
package protocol
