// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/dawnchat/dawnchat-go/internal/protocol"
)

// Options configures a Store.
type Options struct {
	// Namespace prefixes every storage key as "{namespace}:{sessionID}".
	// Empty means session ids are used as keys unchanged. This is the sole
	// isolation mechanism between consumers sharing one storage backend.
	Namespace string

	// Adapter is the persistence backend. Nil disables persistence: the
	// store still works, in memory only.
	Adapter Adapter
}

// Store holds the authoritative ordered raw-message sequence for one session.
//
// A Store is not safe for concurrent use: callers serialize LoadSession,
// AddMessage and ClearSession (await each before issuing the next), matching
// the single-threaded cooperative model of the protocol layer.
type Store struct {
	namespace string
	adapter   Adapter

	sessionID string
	raws      []protocol.RawMessage
	byID      map[string]int
}

// New creates a Store with the given options.
func New(opts Options) *Store {
	return &Store{
		namespace: opts.Namespace,
		adapter:   opts.Adapter,
		byID:      make(map[string]int),
	}
}

// SessionID returns the currently bound session id.
func (s *Store) SessionID() string {
	return s.sessionID
}

// sessionKey resolves the effective storage key for a session.
func (s *Store) sessionKey(sessionID string) string {
	if s.namespace == "" {
		return sessionID
	}
	return s.namespace + ":" + sessionID
}

// SetSession rebinds the active session id without touching loaded data.
// Callers that want the new session's messages follow up with LoadSession.
func (s *Store) SetSession(sessionID string) {
	s.sessionID = sessionID
}

// LoadSession replaces the in-memory sequence with the persisted messages
// for the session, sorted ascending by timestamp. Without an adapter this
// only rebinds the session id.
func (s *Store) LoadSession(ctx context.Context, sessionID string) error {
	s.sessionID = sessionID
	if s.adapter == nil {
		return nil
	}

	msgs, err := s.adapter.LoadSessionMessages(ctx, s.sessionKey(sessionID))
	if err != nil {
		return fmt.Errorf("failed to load session %q: %w", sessionID, err)
	}

	// Adapters should return sorted data; re-sort defensively.
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp < msgs[j].Timestamp
	})

	s.raws = msgs
	s.byID = make(map[string]int, len(msgs))
	for i := range msgs {
		s.byID[msgs[i].ID] = i
	}
	return nil
}

// AddMessage inserts or merges one raw message.
//
// A known id merges into the existing entry in place (position unchanged),
// which is what lets a streaming message updated many times render as one
// growing entry. A new id appends; insertion order defines display order.
func (s *Store) AddMessage(ctx context.Context, msg protocol.RawMessage) error {
	if idx, ok := s.byID[msg.ID]; ok {
		s.raws[idx].Merge(msg)
		if s.adapter != nil {
			if err := s.adapter.UpdateMessage(ctx, s.sessionKey(s.sessionID), s.raws[idx]); err != nil {
				return fmt.Errorf("failed to persist message update %q: %w", msg.ID, err)
			}
		}
		return nil
	}

	s.byID[msg.ID] = len(s.raws)
	s.raws = append(s.raws, msg)
	if s.adapter != nil {
		if err := s.adapter.SaveMessage(ctx, s.sessionKey(s.sessionID), msg); err != nil {
			return fmt.Errorf("failed to persist message %q: %w", msg.ID, err)
		}
	}
	return nil
}

// ClearSession clears persisted data for the session (current session when
// sessionID is empty) and resets the in-memory state.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		sessionID = s.sessionID
	}
	if s.adapter != nil {
		if err := s.adapter.ClearSession(ctx, s.sessionKey(sessionID)); err != nil {
			return fmt.Errorf("failed to clear session %q: %w", sessionID, err)
		}
	}
	s.raws = nil
	s.byID = make(map[string]int)
	return nil
}

// Len returns the number of raw messages held for the session.
func (s *Store) Len() int {
	return len(s.raws)
}

// Raw returns a copy of the raw sequence in display order.
func (s *Store) Raw() []protocol.RawMessage {
	out := make([]protocol.RawMessage, len(s.raws))
	copy(out, s.raws)
	return out
}

// UIMessages recomputes the reconciled view from the full raw sequence.
// The computation is pure and deterministic: two calls with no intervening
// AddMessage yield identical output.
func (s *Store) UIMessages() []UIMessage {
	return mergeMessages(s.raws)
}
