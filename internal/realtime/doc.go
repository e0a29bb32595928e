// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package realtime owns one logical connection to the host's envelope
// endpoint: connect, handshake, heartbeat, outbound queueing while
// disconnected, and automatic reconnect with exponential backoff.
//
// The connection moves through
//
//	idle -> connecting -> open -> closed -> (reconnecting -> connecting)*
//
// with error reachable from connecting and open. Sends are fire-and-forget:
// an envelope is queued in FIFO order and flushed when the transport is open,
// and transport failures surface only through the error listeners, never as
// a synchronous send error.
//
// Control traffic is intercepted: the handshake response populates the
// session info, and server heartbeat pings are echoed back with the same
// ping time. Everything else is forwarded to message listeners in arrival
// order.
package realtime
