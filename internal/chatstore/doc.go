// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chatstore holds the authoritative ordered message sequence for one
// chat session and derives the reconciled view used for display.
//
// The store keeps raw protocol messages exactly as they arrived, deduplicated
// by message id so a streaming message updated many times renders as a single
// growing entry. Persistence is delegated to a pluggable Adapter; two
// implementations ship with the SDK: a process-lifetime in-memory adapter and
// an embedded SQLite adapter.
//
// # Key Types
//
//   - Store: the per-session message store
//   - Adapter: the persistence contract (load/save/update/clear)
//   - UIMessage: the derived, reconciled view entry for rendering
//
// # Usage
//
//	store := chatstore.New(chatstore.Options{
//	    Namespace: "dawnchat",
//	    Adapter:   chatstore.NewMemoryAdapter(),
//	})
//	if err := store.LoadSession(ctx, "session-1"); err != nil { ... }
//	store.AddMessage(ctx, protocol.RawFromEnvelope(env))
//	view := store.UIMessages()
package chatstore
