// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatstore

import (
	"testing"

	"github.com/dawnchat/dawnchat-go/internal/protocol"
)

func TestMapRawVariants(t *testing.T) {
	tests := []struct {
		name        string
		msgType     protocol.MessageType
		payload     map[string]any
		wantKind    UIKind
		wantContent string
	}{
		{"user command", protocol.TypeUserCommand, map[string]any{"content": "run it"}, UIKindUser, "run it"},
		{"user command legacy key", protocol.TypeUserCommand, map[string]any{"command": "ls"}, UIKindUser, "ls"},
		{"ack", protocol.TypeAgentAck, map[string]any{"content": "received"}, UIKindAck, "received"},
		{"thought", protocol.TypeAgentThought, map[string]any{"thought": "hmm"}, UIKindThought, "hmm"},
		{"stream delta", protocol.TypeAgentStream, map[string]any{"delta": "par"}, UIKindStream, "par"},
		{"error", protocol.TypeAgentError, map[string]any{"error": "boom"}, UIKindError, "boom"},
		{"structured content", protocol.TypeAgentResponse, map[string]any{"content": map[string]any{"a": float64(1)}}, UIKindResponse, `{"a":1}`},
		{"unrecognized type", protocol.MessageType("future_thing"), map[string]any{"x": "y"}, UIKindUnknown, `{"x":"y"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ui := mapRaw(protocol.RawMessage{ID: "m", MessageType: tt.msgType, Payload: tt.payload})
			if ui.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", ui.Kind, tt.wantKind)
			}
			if ui.Content != tt.wantContent {
				t.Errorf("content = %q, want %q", ui.Content, tt.wantContent)
			}
		})
	}
}

func TestMergeToolCallAndResult(t *testing.T) {
	raws := []protocol.RawMessage{
		{ID: "m1", MessageType: protocol.TypeUserCommand, Payload: map[string]any{"content": "compute"}},
		{ID: "m2", MessageType: protocol.TypeToolCall, Payload: map[string]any{
			"tool_call_id": "c1",
			"tool_name":    "calculator",
			"arguments":    map[string]any{"expr": "6*7"},
		}},
		{ID: "m3", MessageType: protocol.TypeToolResult, Payload: map[string]any{
			"tool_call_id": "c1",
			"success":      true,
			"result":       "42",
		}},
	}

	out := mergeMessages(raws)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2 (result folds into call)", len(out))
	}

	merged := out[1]
	if merged.Kind != UIKindToolResult {
		t.Errorf("kind = %q, want %q", merged.Kind, UIKindToolResult)
	}
	if merged.Result != "42" {
		t.Errorf("result = %q, want %q", merged.Result, "42")
	}
	if !merged.Success {
		t.Error("success not carried over")
	}
	if merged.ToolName != "calculator" {
		t.Errorf("tool name = %q, want it preserved from the call", merged.ToolName)
	}
	if args, ok := merged.Payload["arguments"].(map[string]any); !ok || args["expr"] != "6*7" {
		t.Errorf("arguments not preserved through the fold: %v", merged.Payload["arguments"])
	}
}

func TestMergeOrphanToolResultStandsAlone(t *testing.T) {
	raws := []protocol.RawMessage{
		{ID: "m1", MessageType: protocol.TypeToolResult, Payload: map[string]any{
			"tool_call_id": "nobody",
			"result":       "late",
		}},
	}
	out := mergeMessages(raws)
	if len(out) != 1 || out[0].Kind != UIKindToolResult {
		t.Fatalf("orphan result must appear as its own entry, got %+v", out)
	}
}

func TestMergeHILAccept(t *testing.T) {
	raws := []protocol.RawMessage{
		{ID: "m1", MessageType: protocol.TypeHumanInterventionRequest, Payload: map[string]any{
			"request_id": "r1",
			"content":    "Delete everything?",
		}},
		{ID: "m2", MessageType: protocol.TypeHumanInterventionResponse, Payload: map[string]any{
			"request_id": "r1",
			"action":     "accept",
		}},
	}

	out := mergeMessages(raws)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1 (response folds into request)", len(out))
	}
	got := out[0]
	if got.Kind != UIKindHILRequest {
		t.Errorf("kind = %q, want the original request entry", got.Kind)
	}
	if got.Status != HILStatusAccepted {
		t.Errorf("status = %q, want %q", got.Status, HILStatusAccepted)
	}
	if got.ResponseText != "Request approved" {
		t.Errorf("response text = %q, want default approval text", got.ResponseText)
	}
}

func TestMergeHILActions(t *testing.T) {
	tests := []struct {
		action     string
		wantStatus string
		wantText   string
	}{
		{"accept", HILStatusAccepted, "Request approved"},
		{"reject", HILStatusRejected, "Request rejected"},
		{"edit", HILStatusEdited, "Request edited"},
		{"", HILStatusAccepted, "Request resolved"},
	}
	for _, tt := range tests {
		t.Run("action="+tt.action, func(t *testing.T) {
			raws := []protocol.RawMessage{
				{ID: "m1", MessageType: protocol.TypeHumanInterventionRequest, Payload: map[string]any{"request_id": "r1"}},
				{ID: "m2", MessageType: protocol.TypeHumanInterventionResponse, Payload: map[string]any{"request_id": "r1", "action": tt.action}},
			}
			out := mergeMessages(raws)
			if len(out) != 1 {
				t.Fatalf("len = %d, want 1", len(out))
			}
			if out[0].Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", out[0].Status, tt.wantStatus)
			}
			if out[0].ResponseText != tt.wantText {
				t.Errorf("response text = %q, want %q", out[0].ResponseText, tt.wantText)
			}
		})
	}
}

func TestMergeHILResponseCarriesText(t *testing.T) {
	raws := []protocol.RawMessage{
		{ID: "m1", MessageType: protocol.TypeHumanInterventionRequest, Payload: map[string]any{"request_id": "r1"}},
		{ID: "m2", MessageType: protocol.TypeHumanInterventionResponse, Payload: map[string]any{
			"request_id": "r1",
			"action":     "edit",
			"response":   "use rm -i instead",
		}},
	}
	out := mergeMessages(raws)
	if len(out) != 1 || out[0].ResponseText != "use rm -i instead" {
		t.Fatalf("explicit response text must win over the default, got %+v", out)
	}
}

func TestMergeUnmatchedHILResponseDropped(t *testing.T) {
	raws := []protocol.RawMessage{
		{ID: "m1", MessageType: protocol.TypeAgentResponse, Payload: map[string]any{"content": "done"}},
		{ID: "m2", MessageType: protocol.TypeHumanInterventionResponse, Payload: map[string]any{
			"request_id": "never-asked",
			"action":     "accept",
		}},
	}
	out := mergeMessages(raws)
	if len(out) != 1 || out[0].Kind != UIKindResponse {
		t.Fatalf("a response with no open request must be dropped, got %+v", out)
	}
}

func TestMergeUntypedResponseMatchedByRequestID(t *testing.T) {
	// Responses often arrive without a recognized type; the request id plus
	// an action field is enough to fold them.
	raws := []protocol.RawMessage{
		{ID: "m1", MessageType: protocol.TypeHumanInterventionRequest, Payload: map[string]any{"request_id": "r1"}},
		{ID: "m2", MessageType: protocol.MessageType("weird"), Payload: map[string]any{
			"request_id": "r1",
			"action":     "reject",
		}},
	}
	out := mergeMessages(raws)
	if len(out) != 1 || out[0].Status != HILStatusRejected {
		t.Fatalf("untyped response with matching id must fold, got %+v", out)
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	raws := []protocol.RawMessage{
		{ID: "m1", MessageType: protocol.TypeToolCall, Payload: map[string]any{
			"tool_call_id": "c1",
			"arguments":    map[string]any{"a": "1"},
		}},
		{ID: "m2", MessageType: protocol.TypeToolResult, Payload: map[string]any{
			"tool_call_id": "c1",
			"result":       "ok",
		}},
	}
	_ = mergeMessages(raws)

	if raws[0].MessageType != protocol.TypeToolCall {
		t.Error("raw sequence mutated by merge pass")
	}
	if _, ok := raws[0].Payload["result"]; ok {
		t.Error("merge must not write into the raw call payload")
	}
	// The pass is deterministic: re-run yields the same shape.
	again := mergeMessages(raws)
	if len(again) != 1 || again[0].Result != "ok" {
		t.Fatalf("second pass differs: %+v", again)
	}
}
