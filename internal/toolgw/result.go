// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolgw

import "encoding/json"

// NormalizeResult unwraps the layers hosts put around tool output.
//
// Three shapes occur in the wild and each is peeled where present:
//
//  1. a {"content": ...} wrapper around the actual value;
//  2. an MCP-style content list whose first element is {"text": "<json>"} —
//     the embedded JSON is parsed when it parses, otherwise the list stands;
//  3. a nested {"code": ..., "data": {"code": ..., "data": ...}} envelope,
//     collapsed so "data" points at the innermost payload.
func NormalizeResult(raw any) any {
	value := raw
	if m, ok := raw.(map[string]any); ok {
		if content, present := m["content"]; present {
			value = content
		}
	}

	if list, ok := value.([]any); ok && len(list) > 0 {
		if first, ok := list[0].(map[string]any); ok {
			if text, ok := first["text"].(string); ok {
				var parsed any
				if err := json.Unmarshal([]byte(text), &parsed); err == nil {
					value = parsed
				}
			}
		}
	}

	if m, ok := value.(map[string]any); ok {
		return unwrapEnvelope(m)
	}
	return value
}

// ExtractResultData returns the normalized result's "data" object, or an
// empty map when the result has no such shape.
func ExtractResultData(raw any) map[string]any {
	normalized := NormalizeResult(raw)
	if m, ok := normalized.(map[string]any); ok {
		if data, ok := m["data"].(map[string]any); ok {
			return data
		}
	}
	return map[string]any{}
}

// unwrapEnvelope collapses nested {code,data} envelopes without mutating the
// input map.
func unwrapEnvelope(result map[string]any) map[string]any {
	if _, hasCode := result["code"]; !hasCode {
		return result
	}
	if _, hasData := result["data"]; !hasData {
		return result
	}

	data := result["data"]
	for {
		m, ok := data.(map[string]any)
		if !ok {
			break
		}
		_, hasCode := m["code"]
		nested, hasData := m["data"]
		if !hasCode || !hasData {
			break
		}
		if _, ok := nested.(map[string]any); !ok {
			break
		}
		data = nested
	}

	normalized := make(map[string]any, len(result))
	for k, v := range result {
		normalized[k] = v
	}
	normalized["data"] = data
	return normalized
}
