// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-readable name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status is the delivery state of a message.
//
// User messages are always StatusSuccess. Only the assistant leg of an
// exchange moves through sending -> success|error.
type Status string

const (
	StatusSending Status = "sending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusSending, StatusSuccess, StatusError:
		return true
	}
	return false
}

// =============================================================================
// CONTENT TYPE
// =============================================================================

// Part types used in multipart content.
const (
	PartText     = "text"
	PartImageURL = "image_url"
)

// ImageURL wraps an image reference (usually a data URI).
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of a multipart message body.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart creates an image_url content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url}}
}

// Content is either plain text or an ordered list of parts.
//
// It marshals to exactly the chat-completions wire shape: a JSON string when
// Parts is nil, a JSON array otherwise.
type Content struct {
	Text  string
	Parts []ContentPart
}

// TextContent creates plain text content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// PartsContent creates multipart content.
func PartsContent(parts ...ContentPart) Content {
	if parts == nil {
		parts = []ContentPart{}
	}
	return Content{Parts: parts}
}

// IsMultipart reports whether the content is a part list.
func (c Content) IsMultipart() bool {
	return c.Parts != nil
}

// PlainText returns the textual portion of the content. For multipart content
// the text parts are joined with newlines and images are ignored.
func (c Content) PlainText() string {
	if !c.IsMultipart() {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if p.Type == PartText {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// ImageURLs returns the image references carried by multipart content.
func (c Content) ImageURLs() []string {
	var urls []string
	for _, p := range c.Parts {
		if p.Type == PartImageURL && p.ImageURL != nil {
			urls = append(urls, p.ImageURL.URL)
		}
	}
	return urls
}

// Clone returns a deep copy of the content.
func (c Content) Clone() Content {
	if c.Parts == nil {
		return Content{Text: c.Text}
	}
	parts := make([]ContentPart, len(c.Parts))
	for i, p := range c.Parts {
		parts[i] = p
		if p.ImageURL != nil {
			img := *p.ImageURL
			parts[i].ImageURL = &img
		}
	}
	return Content{Text: c.Text, Parts: parts}
}

// MarshalJSON implements json.Marshaler.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON implements json.Unmarshaler. It accepts a string, an array of
// parts, or null.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = PartsContent(parts...)
		return nil
	default:
		return fmt.Errorf("content: unexpected JSON token %q", data[0])
	}
}

// =============================================================================
// RETRY DATA
// =============================================================================

// RetryData captures everything needed to re-attempt a failed exchange.
// It travels with the failed message so retries survive restarts.
type RetryData struct {
	OriginalInput  string   `json:"original_input"`
	Images         []string `json:"images,omitempty"`
	ConversationID string   `json:"conversation_id"`
	// UserMessageID is the stored user message of the failed turn.
	UserMessageID string `json:"user_message_id,omitempty"`
}

// Clone returns a deep copy.
func (r *RetryData) Clone() *RetryData {
	if r == nil {
		return nil
	}
	out := *r
	if r.Images != nil {
		out.Images = append([]string(nil), r.Images...)
	}
	return &out
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content Content `json:"content"`

	// Delivery state. RetryData is non-nil when Status is StatusError, and
	// stays attached while a retry is StatusSending.
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	RetryData *RetryData `json:"retry_data,omitempty"`
}

// NewMessage creates a new message with a generated ID.
func NewMessage(role Role, content Content) *Message {
	return &Message{
		ID:        NewID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
		Status:    StatusSuccess,
	}
}

// NewUserMessage creates a successful user message. With images the
// content is a part list, text first, so the images stay on the message
// for display even when the outbound request dropped them.
func NewUserMessage(text string, images []string) *Message {
	if len(images) == 0 {
		return NewMessage(RoleUser, TextContent(text))
	}
	parts := make([]ContentPart, 0, len(images)+1)
	parts = append(parts, TextPart(text))
	for _, img := range images {
		parts = append(parts, ImagePart(img))
	}
	return NewMessage(RoleUser, PartsContent(parts...))
}

// NewAssistantMessage creates a successful assistant reply.
func NewAssistantMessage(text string) *Message {
	return NewMessage(RoleAssistant, TextContent(text))
}

// NewErrorMessage creates a failed assistant message carrying its retry data.
func NewErrorMessage(errText string, retry *RetryData) *Message {
	msg := NewMessage(RoleAssistant, TextContent(""))
	msg.Status = StatusError
	msg.Error = errText
	msg.RetryData = retry
	return msg
}

// IsError reports whether the message failed.
func (m *Message) IsError() bool {
	return m.Status == StatusError
}

// CanRetry reports whether the message is a failed exchange that carries
// enough data to be re-attempted.
func (m *Message) CanRetry() bool {
	return m.Status == StatusError && m.RetryData != nil
}

// Consistent reports whether the retry data invariant holds: a failed
// message always carries retry data and a successful one never does. A
// message being retried is StatusSending and keeps its retry data.
func (m *Message) Consistent() bool {
	if m.Status == StatusError {
		return m.RetryData != nil
	}
	return m.RetryData == nil || m.Status == StatusSending
}

// Text returns the textual content of the message.
func (m *Message) Text() string {
	return m.Content.PlainText()
}

// Images returns the image references stored in the message content.
func (m *Message) Images() []string {
	return m.Content.ImageURLs()
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	out := *m
	out.Content = m.Content.Clone()
	out.RetryData = m.RetryData.Clone()
	return &out
}

// =============================================================================
// ID GENERATION
// =============================================================================

// NewID returns a process-wide unique identifier.
func NewID() string {
	return uuid.NewString()
}
