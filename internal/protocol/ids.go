// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package protocol

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// uuidSource generates a random UUID. Replaceable in tests to force the
// degraded fallback path.
var uuidSource = uuid.NewRandom

// NewID returns a collision-resistant identifier for trace and message ids.
//
// The preferred form is a cryptographically random UUID. When the secure
// generator is unavailable (constrained runtimes without an entropy source),
// it degrades to a timestamp+random composite. The composite is not
// cryptographically strong but keeps ids unique enough for correlation
// within a connection session.
func NewID() string {
	id, err := uuidSource()
	if err != nil {
		return fallbackID(time.Now())
	}
	return id.String()
}

// fallbackID builds a timestamp+random composite identifier. math/rand is
// acceptable here: this path only runs when the crypto source failed, and the
// timestamp prefix keeps composites unique across milliseconds.
func fallbackID(now time.Time) string {
	return fmt.Sprintf("%d-%06x%06x", now.UnixMilli(), rand.Intn(1<<24), rand.Intn(1<<24))
}
