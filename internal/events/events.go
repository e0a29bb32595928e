// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events provides the structured observability channel for the SDK.
//
// Components emit Event values through a Sink. The default sink is a
// Broadcaster: a multi-subscriber fan-out that external listeners can attach
// to without the emitting component knowing about them.
package events

import (
	"sync"
	"time"
)

// Level classifies event severity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event is one structured observability record.
type Event struct {
	Level     Level          `json:"level"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sink receives events. Implementations must not block the emitter.
type Sink interface {
	Emit(ev Event)
}

// =============================================================================
// BROADCASTER
// =============================================================================

// subscriberBuffer is the per-subscriber channel depth. A slow subscriber
// loses events rather than stalling the emitter.
const subscriberBuffer = 100

// Broadcaster fans events out to any number of subscribers.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan Event)}
}

// Emit delivers the event to every subscriber. A missing timestamp is filled
// with the current time. Delivery is best-effort per subscriber.
func (b *Broadcaster) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop for them.
		}
	}
}

// Subscribe registers a new listener. The returned cancel func removes the
// subscription and closes the channel; calling it twice is safe.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Discard is a Sink that drops everything. Useful default for callers that
// do not care about observability.
type Discard struct{}

// Emit implements Sink.
func (Discard) Emit(Event) {}
