// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by the store, the send
// pipeline, the persistence layer and the presentation adapters.
//
// # Key Types
//
//   - Conversation: An ordered, independently titled chat session
//   - Message: One turn with role, content, delivery status and retry data
//   - Content: Plain text or a list of text/image parts, wire-compatible JSON
//   - RetryData: Inputs needed to re-attempt a failed exchange
//   - ModelData: One entry of the remote model catalog
//   - ChatSettings: API key, selected model and persona
//
// # Usage
//
// Build a multimodal user message:
//
//	msg := model.NewUserMessage("What is in this picture?", []string{"data:image/png;base64,..."})
//	urls := msg.Images()
//
// Check the retry invariant:
//
//	if msg.CanRetry() {
//	    fmt.Println(msg.RetryData.OriginalInput)
//	}
package model
