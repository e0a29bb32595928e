// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package downloads drives background model downloads on the host.
//
// Three pieces:
//
//   - Facade: the HTTP surface for starting, inspecting, pausing, and
//     cancelling download tasks;
//   - Registry: a polling tracker keyed by task id — entries leave the
//     registry only by explicit clear, never automatically;
//   - IDStore: a small JSON file mapping caller keys (model ids) to the
//     host-assigned download task ids, written atomically so a crash never
//     leaves a torn file.
package downloads
