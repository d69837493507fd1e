// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import "time"

// EventKind names a store mutation.
type EventKind string

const (
	EventConversationCreated EventKind = "conversation_created"
	EventConversationDeleted EventKind = "conversation_deleted"
	EventMessageAppended     EventKind = "message_appended"
	EventMessageUpdated      EventKind = "message_updated"
	EventTitleChanged        EventKind = "title_changed"
	EventCurrentChanged      EventKind = "current_changed"
)

// Event describes one mutation. Subscribers read the new state back from
// the store; events carry identifiers only.
type Event struct {
	Kind           EventKind `json:"kind"`
	ConversationID string    `json:"conversation_id,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	CurrentID      string    `json:"current_id"`
	At             time.Time `json:"at"`
}

// AffectsConversations reports whether the conversation collection
// changed.
func (e Event) AffectsConversations() bool {
	return e.Kind != EventCurrentChanged
}

// AffectsCurrent reports whether the current selection changed.
func (e Event) AffectsCurrent() bool {
	return e.Kind == EventCurrentChanged
}
