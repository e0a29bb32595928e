// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatstore

import (
	"context"
	"sort"
	"sync"

	"github.com/dawnchat/dawnchat-go/internal/protocol"
)

// Adapter is the persistence contract for session messages.
//
// Every operation is independently failable. LoadSessionMessages should
// return messages sorted by timestamp, but the store re-sorts defensively.
// UpdateMessage is an upsert, semantically equivalent to SaveMessage.
type Adapter interface {
	LoadSessionMessages(ctx context.Context, key string) ([]protocol.RawMessage, error)
	SaveMessage(ctx context.Context, key string, msg protocol.RawMessage) error
	UpdateMessage(ctx context.Context, key string, msg protocol.RawMessage) error
	ClearSession(ctx context.Context, key string) error
}

// =============================================================================
// IN-MEMORY ADAPTER
// =============================================================================

// MemoryAdapter keeps one ordered message list per session key for the
// lifetime of the process. Safe for concurrent use.
type MemoryAdapter struct {
	mu       sync.Mutex
	sessions map[string][]protocol.RawMessage
}

// NewMemoryAdapter creates an empty in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{sessions: make(map[string][]protocol.RawMessage)}
}

// LoadSessionMessages returns a copy of the stored list sorted by timestamp.
func (a *MemoryAdapter) LoadSessionMessages(_ context.Context, key string) ([]protocol.RawMessage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	msgs := make([]protocol.RawMessage, len(a.sessions[key]))
	copy(msgs, a.sessions[key])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})
	return msgs, nil
}

// SaveMessage upserts the message into the session's list by id.
func (a *MemoryAdapter) SaveMessage(_ context.Context, key string, msg protocol.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upsert(key, msg)
	return nil
}

// UpdateMessage is the same upsert as SaveMessage.
func (a *MemoryAdapter) UpdateMessage(_ context.Context, key string, msg protocol.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upsert(key, msg)
	return nil
}

// ClearSession removes every message stored under the key.
func (a *MemoryAdapter) ClearSession(_ context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, key)
	return nil
}

// upsert must be called with the lock held.
func (a *MemoryAdapter) upsert(key string, msg protocol.RawMessage) {
	list := a.sessions[key]
	for i := range list {
		if list[i].ID == msg.ID {
			list[i] = msg
			return
		}
	}
	a.sessions[key] = append(list, msg)
}
