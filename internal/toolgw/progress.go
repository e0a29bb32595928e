// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolgw

import (
	"encoding/json"
	"strconv"
)

// NormalizeProgress coerces a raw progress value into a [0,1] fraction.
//
// Hosts report progress inconsistently: some send a 0-1 fraction, some a
// 0-100 percentage, some a string, some nothing. The single rule applied
// everywhere progress is consumed:
//
//   - coerce to a number, non-numeric falls back to 0;
//   - a value above 1 is treated as a percentage and divided by 100;
//   - the result is clamped to [0,1].
func NormalizeProgress(raw any) float64 {
	v, ok := toFloat(raw)
	if !ok {
		return 0
	}
	if v > 1 {
		v /= 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// toFloat converts the numeric shapes JSON decoding and callers produce.
func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
