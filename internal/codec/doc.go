// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package codec translates stored conversations into chat-completion
// request bodies.
//
// The codec is pure: it never looks up model capabilities itself. Callers
// pass supportsVision from the catalog, and the codec decides between a
// plain-text and a multipart user turn.
package codec
