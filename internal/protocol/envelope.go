// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package protocol defines the ZMP wire protocol used between the DawnChat
// client SDK and the host.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Protocol identity tags carried on every envelope.
const (
	// ProtocolName is the constant protocol tag.
	ProtocolName = "zmp"

	// ProtocolVersion is the wire protocol version.
	ProtocolVersion = "2.0"
)

// =============================================================================
// MESSAGE TYPES
// =============================================================================

// MessageType is the envelope type tag.
type MessageType string

// Recognized envelope types. Unrecognized types still round-trip through the
// codec; they surface as Unknown at the UI mapping layer.
const (
	TypeHandshake                 MessageType = "handshake"
	TypeHeartbeat                 MessageType = "heartbeat"
	TypeUserCommand               MessageType = "user_command"
	TypeAgentAck                  MessageType = "agent_ack"
	TypeAgentThought              MessageType = "agent_thought"
	TypeAgentPlan                 MessageType = "agent_plan"
	TypeTodoUpdate                MessageType = "todo_update"
	TypeToolCall                  MessageType = "tool_call"
	TypeToolResult                MessageType = "tool_result"
	TypeAgentStream               MessageType = "agent_stream"
	TypeAgentResponse             MessageType = "agent_response"
	TypeAgentError                MessageType = "agent_error"
	TypeHumanInterventionRequest  MessageType = "human_intervention_request"
	TypeHumanInterventionResponse MessageType = "human_intervention_response"
)

// String returns the string representation of the message type.
func (t MessageType) String() string {
	return string(t)
}

// Direction indicates which half of an exchange an envelope belongs to.
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
	DirectionEvent    Direction = "event"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// Context carries optional routing identifiers for an envelope.
type Context struct {
	TaskID     string `json:"task_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	StageID    string `json:"stage_id,omitempty"`
	TerminalID string `json:"terminal_id,omitempty"`
}

// Envelope is one protocol message on the wire.
//
// MessageID is unique per envelope; TraceID is shared across a request and
// its eventual response or stream chunks. Envelopes are never mutated after
// creation.
type Envelope struct {
	Protocol  string         `json:"protocol"`
	Version   string         `json:"version"`
	TraceID   string         `json:"trace_id"`
	MessageID string         `json:"message_id"`
	ProjectID string         `json:"project_id"`
	Timestamp int64          `json:"timestamp"` // milliseconds since epoch
	Type      MessageType    `json:"type"`
	Direction Direction      `json:"direction"`
	Context   *Context       `json:"context,omitempty"`
	Payload   map[string]any `json:"payload"`
}

// ErrMalformed indicates an inbound frame could not be parsed as an envelope.
var ErrMalformed = errors.New("malformed envelope")

// Build fills in the defaults of a partially constructed envelope and returns
// a structurally valid one. It never fails: missing identifiers get fresh
// unique values, a missing timestamp gets the current time, a missing project
// id is taken from projectID, and a nil payload becomes an empty map.
func Build(partial Envelope, projectID string) Envelope {
	env := partial
	env.Protocol = ProtocolName
	env.Version = ProtocolVersion

	if env.TraceID == "" {
		env.TraceID = NewID()
	}
	if env.MessageID == "" {
		env.MessageID = NewID()
	}
	if env.ProjectID == "" {
		env.ProjectID = projectID
	}
	if env.Timestamp == 0 {
		env.Timestamp = time.Now().UnixMilli()
	}
	if env.Direction == "" {
		env.Direction = DirectionRequest
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	return env
}

// Encode serializes the envelope to its JSON wire form.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses an inbound wire frame into an Envelope.
//
// A frame that is not valid JSON, or that has no type tag, is malformed.
// Unknown type tags are NOT an error; they pass through for the UI layer to
// render as unknown messages.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	return env, nil
}

// PayloadString returns the named payload field as a string, or "" when the
// field is absent or not a string.
func (e Envelope) PayloadString(key string) string {
	if s, ok := e.Payload[key].(string); ok {
		return s
	}
	return ""
}
