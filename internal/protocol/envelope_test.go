// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestBuildFillsDefaults(t *testing.T) {
	env := Build(Envelope{
		Type:      TypeUserCommand,
		Direction: DirectionRequest,
	}, "proj-1")

	if env.Protocol != ProtocolName {
		t.Errorf("Expected protocol %q, got %q", ProtocolName, env.Protocol)
	}
	if env.Version != ProtocolVersion {
		t.Errorf("Expected version %q, got %q", ProtocolVersion, env.Version)
	}
	if env.TraceID == "" {
		t.Error("TraceID should be generated")
	}
	if env.MessageID == "" {
		t.Error("MessageID should be generated")
	}
	if env.TraceID == env.MessageID {
		t.Error("TraceID and MessageID should be independent")
	}
	if env.ProjectID != "proj-1" {
		t.Errorf("Expected project id from config, got %q", env.ProjectID)
	}
	if env.Timestamp == 0 {
		t.Error("Timestamp should be filled")
	}
	if env.Payload == nil {
		t.Error("Payload should default to an empty map")
	}
}

func TestBuildPreservesExplicitFields(t *testing.T) {
	env := Build(Envelope{
		Type:      TypeHeartbeat,
		TraceID:   "trace-1",
		MessageID: "msg-1",
		ProjectID: "explicit",
		Timestamp: 42,
	}, "fallback")

	if env.TraceID != "trace-1" || env.MessageID != "msg-1" {
		t.Error("Explicit identifiers should not be replaced")
	}
	if env.ProjectID != "explicit" {
		t.Errorf("Expected explicit project id, got %q", env.ProjectID)
	}
	if env.Timestamp != 42 {
		t.Errorf("Expected explicit timestamp, got %d", env.Timestamp)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := Build(Envelope{
		Type:      TypeToolCall,
		Direction: DirectionEvent,
		Context:   &Context{TaskID: "task-1", SessionID: "s1"},
		Payload:   map[string]any{"tool_call_id": "x", "tool_name": "search"},
	}, "p")

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded.Type != TypeToolCall {
		t.Errorf("Expected type tool_call, got %s", decoded.Type)
	}
	if decoded.Context == nil || decoded.Context.TaskID != "task-1" {
		t.Error("Context should survive the round trip")
	}
	if decoded.PayloadString("tool_call_id") != "x" {
		t.Error("Payload should survive the round trip")
	}
}

func TestEncodeUsesWireFieldNames(t *testing.T) {
	env := Build(Envelope{Type: TypeHandshake}, "p")
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("Encoded envelope is not valid JSON: %v", err)
	}
	for _, key := range []string{"protocol", "version", "trace_id", "message_id", "project_id", "timestamp", "type", "direction", "payload"} {
		if _, ok := wire[key]; !ok {
			t.Errorf("Wire form missing field %q", key)
		}
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", "{nope"},
		{"missing type", `{"protocol":"zmp","version":"2.0","payload":{}}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.data))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("Expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestDecodeUnknownTypePasses(t *testing.T) {
	env, err := Decode([]byte(`{"protocol":"zmp","version":"2.0","type":"future_thing","payload":{"a":1}}`))
	if err != nil {
		t.Fatalf("Unknown types must not be decode errors: %v", err)
	}
	if env.Type != "future_thing" {
		t.Errorf("Expected type to pass through, got %s", env.Type)
	}
}

func TestNewIDFallback(t *testing.T) {
	// Force the degraded path: this is the behavior on constrained runtimes
	// without a usable entropy source.
	orig := uuidSource
	uuidSource = func() (uuid.UUID, error) { return uuid.UUID{}, errors.New("no entropy") }
	defer func() { uuidSource = orig }()

	a := NewID()
	b := NewID()
	if a == "" || b == "" {
		t.Fatal("Fallback ids should not be empty")
	}
	if a == b {
		t.Error("Fallback ids should still be unique")
	}
	if !strings.Contains(a, "-") {
		t.Errorf("Fallback id should be a timestamp+random composite, got %q", a)
	}
}

func TestRawFromEnvelopeSender(t *testing.T) {
	userEnv := Build(Envelope{Type: TypeUserCommand}, "p")
	if RawFromEnvelope(userEnv).SenderID != SenderUser {
		t.Error("user_command should come from the user")
	}

	hilEnv := Build(Envelope{Type: TypeHumanInterventionResponse}, "p")
	if RawFromEnvelope(hilEnv).SenderID != SenderUser {
		t.Error("human_intervention_response should come from the user")
	}

	agentEnv := Build(Envelope{Type: TypeAgentResponse}, "p")
	if RawFromEnvelope(agentEnv).SenderID != SenderAssistant {
		t.Error("agent messages should come from the assistant")
	}
}

func TestRawMessageMerge(t *testing.T) {
	m := RawMessage{
		ID:          "m1",
		TraceID:     "t1",
		MessageType: TypeAgentStream,
		Payload:     map[string]any{"content": "hel"},
		Timestamp:   100,
		SenderID:    SenderAssistant,
	}

	m.Merge(RawMessage{ID: "m1", Payload: map[string]any{"content": "hello"}})

	if m.TraceID != "t1" {
		t.Error("Fields absent in the update must be preserved")
	}
	if m.Payload["content"] != "hello" {
		t.Error("Payload should be replaced by the update")
	}
	if m.Timestamp != 100 {
		t.Error("Zero timestamp in the update must not clobber the original")
	}

	m.Merge(RawMessage{ID: "m1", Status: "done", Timestamp: 200})
	if m.Status != "done" || m.Timestamp != 200 {
		t.Error("Non-zero fields in the update must overwrite")
	}
}
