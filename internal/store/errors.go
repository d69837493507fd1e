// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

// Errors returned by Store. Use errors.Is to check for them.
var (
	ErrConversationNotFound = &ConversationError{Message: "conversation not found"}
	ErrMessageNotFound      = &ConversationError{Message: "message not found"}
	ErrInvalidTransition    = &ConversationError{Message: "invalid status transition"}
)

// ConversationError represents a conversation-related error.
type ConversationError struct {
	Message string
	ID      string
}

// Error implements the error interface.
func (e *ConversationError) Error() string {
	if e.ID != "" {
		return e.Message + ": " + e.ID
	}
	return e.Message
}

// Is implements errors.Is support. Two errors match when their messages
// match, regardless of ID.
func (e *ConversationError) Is(target error) bool {
	t, ok := target.(*ConversationError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}

func notFound(base *ConversationError, id string) error {
	return &ConversationError{Message: base.Message, ID: id}
}
