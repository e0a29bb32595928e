// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chatstore

import (
	"encoding/json"

	"github.com/dawnchat/dawnchat-go/internal/protocol"
)

// =============================================================================
// UI MESSAGE KINDS
// =============================================================================

// UIKind is the variant tag of a derived UI message.
type UIKind string

const (
	UIKindUser           UIKind = "user"
	UIKindAck            UIKind = "ack"
	UIKindThought        UIKind = "thought"
	UIKindPlan           UIKind = "plan"
	UIKindTodoUpdate     UIKind = "todo_update"
	UIKindToolCall       UIKind = "tool_call"
	UIKindToolResult     UIKind = "tool_result"
	UIKindStream         UIKind = "stream"
	UIKindResponse       UIKind = "response"
	UIKindError          UIKind = "error"
	UIKindHILRequest     UIKind = "hil_request"
	UIKindHILResponseRaw UIKind = "hil_response_raw"
	UIKindUnknown        UIKind = "unknown"
)

// HIL request resolution statuses.
const (
	HILStatusPending  = "pending"
	HILStatusAccepted = "accepted"
	HILStatusRejected = "rejected"
	HILStatusEdited   = "edited"
)

// UIMessage is one entry of the derived, reconciled view. It is recomputed
// from the raw sequence on every read and never persisted.
type UIMessage struct {
	ID        string            `json:"id"`
	Kind      UIKind            `json:"kind"`
	SenderID  protocol.SenderID `json:"sender_id"`
	Timestamp int64             `json:"timestamp"`
	Content   string            `json:"content,omitempty"`

	// Tool call/result reconciliation
	ToolName   string         `json:"tool_name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty"`
	Success    bool           `json:"success,omitempty"`
	Result     string         `json:"result,omitempty"`
	ErrorText  string         `json:"error,omitempty"`

	// Human intervention reconciliation
	RequestID    string `json:"request_id,omitempty"`
	Status       string `json:"status,omitempty"`
	ResponseText string `json:"response_text,omitempty"`

	// Payload carries the raw payload for kinds that need it downstream.
	Payload map[string]any `json:"payload,omitempty"`
}

// mapRaw converts one raw message into its typed UI variant. The switch is
// exhaustive over the recognized protocol types; anything else falls into the
// explicit Unknown variant carrying the stringified payload.
func mapRaw(raw protocol.RawMessage) UIMessage {
	ui := UIMessage{
		ID:        raw.ID,
		SenderID:  raw.SenderID,
		Timestamp: raw.Timestamp,
		Payload:   raw.Payload,
	}

	switch raw.MessageType {
	case protocol.TypeUserCommand:
		ui.Kind = UIKindUser
		ui.Content = textField(raw.Payload, "content", "command")
	case protocol.TypeAgentAck:
		ui.Kind = UIKindAck
		ui.Content = textField(raw.Payload, "content", "message")
	case protocol.TypeAgentThought:
		ui.Kind = UIKindThought
		ui.Content = textField(raw.Payload, "content", "thought")
	case protocol.TypeAgentPlan:
		ui.Kind = UIKindPlan
		ui.Content = textField(raw.Payload, "content", "plan")
	case protocol.TypeTodoUpdate:
		ui.Kind = UIKindTodoUpdate
		ui.Content = textField(raw.Payload, "content")
	case protocol.TypeToolCall:
		ui.Kind = UIKindToolCall
		ui.ToolCallID = stringField(raw.Payload, "tool_call_id")
		ui.ToolName = stringField(raw.Payload, "tool_name")
		if args, ok := raw.Payload["arguments"].(map[string]any); ok {
			ui.Arguments = args
		}
	case protocol.TypeToolResult:
		ui.Kind = UIKindToolResult
		ui.ToolCallID = stringField(raw.Payload, "tool_call_id")
		ui.ToolName = stringField(raw.Payload, "tool_name")
		ui.Success, _ = raw.Payload["success"].(bool)
		ui.Result = textField(raw.Payload, "result")
		ui.ErrorText = stringField(raw.Payload, "error")
	case protocol.TypeAgentStream:
		ui.Kind = UIKindStream
		ui.Content = textField(raw.Payload, "content", "delta")
	case protocol.TypeAgentResponse:
		ui.Kind = UIKindResponse
		ui.Content = textField(raw.Payload, "content")
	case protocol.TypeAgentError:
		ui.Kind = UIKindError
		ui.Content = textField(raw.Payload, "error", "message", "content")
	case protocol.TypeHumanInterventionRequest:
		ui.Kind = UIKindHILRequest
		ui.RequestID = stringField(raw.Payload, "request_id")
		ui.Content = textField(raw.Payload, "content", "message")
		ui.Status = HILStatusPending
	case protocol.TypeHumanInterventionResponse:
		ui.Kind = UIKindHILResponseRaw
		ui.RequestID = stringField(raw.Payload, "request_id")
		ui.ResponseText = textField(raw.Payload, "response")
	case protocol.TypeHandshake, protocol.TypeHeartbeat:
		// Control messages never reach the store in normal operation, but a
		// synthesized echo should not panic the mapper.
		ui.Kind = UIKindUnknown
		ui.Content = stringifyPayload(raw.Payload)
	default:
		ui.Kind = UIKindUnknown
		ui.Content = stringifyPayload(raw.Payload)
	}
	return ui
}

// =============================================================================
// MERGE PASS
// =============================================================================

// defaultHILResponseText maps an intervention action to the display string
// used when the response carries no text of its own.
func defaultHILResponseText(action string) string {
	switch action {
	case "accept":
		return "Request approved"
	case "reject":
		return "Request rejected"
	case "edit":
		return "Request edited"
	default:
		return "Request resolved"
	}
}

// hilStatusForAction maps an intervention action to the request status.
func hilStatusForAction(action string) string {
	switch action {
	case "accept":
		return HILStatusAccepted
	case "reject":
		return HILStatusRejected
	case "edit":
		return HILStatusEdited
	default:
		return HILStatusAccepted
	}
}

// mergeMessages derives the reconciled UI sequence from the raw sequence.
//
// Two reconciliation rules fold later messages into earlier entries instead
// of appending:
//
//   - a tool_result folds into the open tool_call with the same call id,
//     upgrading that entry in place;
//   - a human-intervention response folds into the open request with the same
//     request id, resolving its status. A response with no open request is
//     dropped: there is nothing to attach it to.
//
// The pass is pure: raws is never mutated, and the scratch index tables live
// only for the duration of one call.
func mergeMessages(raws []protocol.RawMessage) []UIMessage {
	out := make([]UIMessage, 0, len(raws))
	openCalls := make(map[string]int)    // tool call id -> index in out
	openRequests := make(map[string]int) // HIL request id -> index in out

	for _, raw := range raws {
		ui := mapRaw(raw)

		switch ui.Kind {
		case UIKindToolCall:
			if ui.ToolCallID != "" {
				openCalls[ui.ToolCallID] = len(out)
			}
			out = append(out, ui)

		case UIKindToolResult:
			idx, ok := openCalls[ui.ToolCallID]
			if !ok || ui.ToolCallID == "" {
				// No open call to attach to; stands on its own.
				out = append(out, ui)
				continue
			}
			entry := &out[idx]
			entry.Kind = UIKindToolResult
			entry.Success = ui.Success
			entry.Result = ui.Result
			entry.ErrorText = ui.ErrorText
			if ui.ToolName != "" {
				entry.ToolName = ui.ToolName
			}
			// Merge payload fields, preserving the original arguments.
			entry.Payload = mergePayload(entry.Payload, ui.Payload, "arguments")
			delete(openCalls, ui.ToolCallID)

		case UIKindHILRequest:
			if ui.RequestID != "" {
				openRequests[ui.RequestID] = len(out)
			}
			out = append(out, ui)

		default:
			// A HIL response usually arrives typed unknown at the raw level;
			// recognize it by its request id against the open requests.
			if reqID := stringField(ui.Payload, "request_id"); reqID != "" {
				if idx, ok := openRequests[reqID]; ok && responseLike(ui) {
					entry := &out[idx]
					action := stringField(ui.Payload, "action")
					entry.Status = hilStatusForAction(action)
					entry.ResponseText = textField(ui.Payload, "response")
					if entry.ResponseText == "" {
						entry.ResponseText = defaultHILResponseText(action)
					}
					delete(openRequests, reqID)
					continue
				}
				if ui.Kind == UIKindHILResponseRaw {
					// Response with nothing to attach to: dropped entirely.
					continue
				}
			}
			out = append(out, ui)
		}
	}
	return out
}

// responseLike reports whether a message should be treated as a
// human-intervention response when its request id matches an open request.
func responseLike(ui UIMessage) bool {
	if ui.Kind == UIKindHILResponseRaw {
		return true
	}
	if ui.Kind != UIKindUnknown {
		return false
	}
	_, hasAction := ui.Payload["action"]
	_, hasResponse := ui.Payload["response"]
	return hasAction || hasResponse
}

// mergePayload overlays src onto a copy of dst, keeping dst's value for the
// named preserved keys.
func mergePayload(dst, src map[string]any, preserve ...string) map[string]any {
	merged := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		merged[k] = v
	}
	for k, v := range src {
		merged[k] = v
	}
	for _, k := range preserve {
		if v, ok := dst[k]; ok {
			merged[k] = v
		}
	}
	return merged
}

// =============================================================================
// PAYLOAD HELPERS
// =============================================================================

// stringField returns the payload field as a string, or "".
func stringField(payload map[string]any, key string) string {
	s, _ := payload[key].(string)
	return s
}

// textField returns the first present key rendered as display text. Non-string
// values are JSON-stringified so structured content still shows something.
func textField(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			return s
		}
		if data, err := json.Marshal(v); err == nil {
			return string(data)
		}
	}
	return ""
}

// stringifyPayload renders a payload for the unknown fallback variant.
func stringifyPayload(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(data)
}
