// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across packages.
//
// # Key Functions
//
//   - AtomicWriteFile: Crash-safe file writing with fsync and rename
//   - ReadFileIfExists: Read that treats a missing file as absent
//   - TruncateRunes, TruncateWidth: UTF-8 and display-width aware truncation
//   - MaskSecret: Redact credentials for display
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0600, 0700)
//	label := util.TruncateWidth(conv.Title, 24)
package util
