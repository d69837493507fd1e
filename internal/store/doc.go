// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store owns the in-memory collection of conversations.
//
// Every other component reads and writes conversations through Store. It
// emits an Event after each mutation so observers (the persistence mirror,
// the websocket hub) can react without the store knowing about them.
//
// # Key Types
//
//   - Store: Conversation collection plus current selection
//   - Event: Notification describing one mutation
//   - ConversationMeta: Listing summary used by the REPL and HTTP API
//
// # Usage
//
//	s := store.New(log)
//	conv := s.CreateConversation()
//	err := s.AppendMessage(conv.ID, model.NewUserMessage("hi", nil))
//	if errors.Is(err, store.ErrConversationNotFound) {
//	    // conversation was deleted concurrently
//	}
//
// # Invariants
//
// Messages are append-only. Titles are derived once, from the first user
// message. A failed message always carries retry data; a successful one
// never does.
package store
