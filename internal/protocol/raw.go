// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

// SenderID identifies which side of the conversation produced a message.
type SenderID string

const (
	SenderUser      SenderID = "user"
	SenderAssistant SenderID = "assistant"
)

// RawMessage is the chat store's persisted unit, derived 1:1 from an
// envelope (or synthesized for local optimistic echoes).
//
// A RawMessage is unique by ID within a session's ordered sequence. Ordering
// is by arrival, never re-sorted except on initial load from storage.
type RawMessage struct {
	ID          string         `json:"id"`
	TraceID     string         `json:"trace_id"`
	MessageType MessageType    `json:"message_type"`
	ProjectID   string         `json:"project_id"`
	Payload     map[string]any `json:"payload"`
	Timestamp   int64          `json:"timestamp"`
	SenderID    SenderID       `json:"sender_id"`
	Status      string         `json:"status,omitempty"`
}

// RawFromEnvelope derives the persisted form of an envelope. The sender is
// inferred from the type tag: user commands and intervention responses
// originate from the user, everything else from the assistant.
func RawFromEnvelope(env Envelope) RawMessage {
	sender := SenderAssistant
	switch env.Type {
	case TypeUserCommand, TypeHumanInterventionResponse:
		sender = SenderUser
	}
	return RawMessage{
		ID:          env.MessageID,
		TraceID:     env.TraceID,
		MessageType: env.Type,
		ProjectID:   env.ProjectID,
		Payload:     env.Payload,
		Timestamp:   env.Timestamp,
		SenderID:    sender,
	}
}

// Merge overlays other onto m, field by field. Fields absent (zero) in other
// keep their existing values, so a streaming update that only carries a new
// payload does not wipe out sender or trace information captured earlier.
func (m *RawMessage) Merge(other RawMessage) {
	if other.TraceID != "" {
		m.TraceID = other.TraceID
	}
	if other.MessageType != "" {
		m.MessageType = other.MessageType
	}
	if other.ProjectID != "" {
		m.ProjectID = other.ProjectID
	}
	if other.Payload != nil {
		m.Payload = other.Payload
	}
	if other.Timestamp != 0 {
		m.Timestamp = other.Timestamp
	}
	if other.SenderID != "" {
		m.SenderID = other.SenderID
	}
	if other.Status != "" {
		m.Status = other.Status
	}
}
