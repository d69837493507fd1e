// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"testing"
	"time"
)

// =============================================================================
// CONTENT TESTS
// =============================================================================

func TestContent_MarshalShapes(t *testing.T) {
	tests := []struct {
		name    string
		content Content
		want    string
	}{
		{
			name:    "plain text is a JSON string",
			content: TextContent("hello"),
			want:    `"hello"`,
		},
		{
			name:    "parts are a JSON array",
			content: PartsContent(TextPart("look"), ImagePart("data:image/png;base64,AA==")),
			want:    `[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AA=="}}]`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.content)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(data) != tc.want {
				t.Errorf("Marshal() = %s, want %s", data, tc.want)
			}
		})
	}
}

func TestContent_UnmarshalAcceptsBothShapes(t *testing.T) {
	var text Content
	if err := json.Unmarshal([]byte(`"hi"`), &text); err != nil {
		t.Fatalf("Unmarshal(string) error = %v", err)
	}
	if text.IsMultipart() || text.Text != "hi" {
		t.Errorf("Unmarshal(string) = %+v", text)
	}

	var parts Content
	if err := json.Unmarshal([]byte(`[{"type":"text","text":"a"},{"type":"image_url","image_url":{"url":"u"}}]`), &parts); err != nil {
		t.Fatalf("Unmarshal(array) error = %v", err)
	}
	if !parts.IsMultipart() || parts.PlainText() != "a" {
		t.Errorf("Unmarshal(array) = %+v", parts)
	}
	if urls := parts.ImageURLs(); len(urls) != 1 || urls[0] != "u" {
		t.Errorf("ImageURLs() = %v", urls)
	}

	var bad Content
	if err := json.Unmarshal([]byte(`42`), &bad); err == nil {
		t.Error("Unmarshal(number) expected error")
	}
}

func TestContent_CloneIsDeep(t *testing.T) {
	orig := PartsContent(ImagePart("a"))
	cp := orig.Clone()
	cp.Parts[0].ImageURL.URL = "b"
	if orig.Parts[0].ImageURL.URL != "a" {
		t.Error("Clone() shares image pointers with the original")
	}
}

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessage_RetryInvariant(t *testing.T) {
	ok := NewAssistantMessage("fine")
	if !ok.Consistent() || ok.CanRetry() {
		t.Errorf("success message: Consistent=%v CanRetry=%v", ok.Consistent(), ok.CanRetry())
	}

	failed := NewErrorMessage("boom", &RetryData{OriginalInput: "hi", ConversationID: "c1"})
	if !failed.Consistent() || !failed.CanRetry() {
		t.Errorf("error message: Consistent=%v CanRetry=%v", failed.Consistent(), failed.CanRetry())
	}

	broken := NewAssistantMessage("x")
	broken.RetryData = &RetryData{}
	if broken.Consistent() {
		t.Error("success message with retry data reported consistent")
	}

	retrying := failed.Clone()
	retrying.Status = StatusSending
	if !retrying.Consistent() {
		t.Error("message being retried should keep its retry data")
	}

	noData := NewAssistantMessage("")
	noData.Status = StatusError
	if noData.Consistent() {
		t.Error("error message without retry data reported consistent")
	}
}

func TestMessage_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewUserMessage("x", nil).ID
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestMessage_JSONRoundTripKeepsRetryData(t *testing.T) {
	msg := NewErrorMessage("HTTP 401", &RetryData{
		OriginalInput:  "describe",
		Images:         []string{"data:image/png;base64,AA=="},
		ConversationID: "conv-1",
		UserMessageID:  "msg-1",
	})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.Status != StatusError || got.RetryData == nil {
		t.Fatalf("round trip lost status or retry data: %+v", got)
	}
	if got.RetryData.OriginalInput != "describe" || got.RetryData.UserMessageID != "msg-1" {
		t.Errorf("RetryData = %+v", got.RetryData)
	}
}

func TestMessage_CloneIsDeep(t *testing.T) {
	msg := NewErrorMessage("e", &RetryData{Images: []string{"a"}})
	cp := msg.Clone()
	cp.RetryData.Images[0] = "b"
	cp.Status = StatusSuccess
	if msg.RetryData.Images[0] != "a" || msg.Status != StatusError {
		t.Error("Clone() shares state with the original")
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_NewHasPlaceholder(t *testing.T) {
	conv := NewConversation()
	if conv.Title != PlaceholderTitle {
		t.Errorf("Title = %q, want %q", conv.Title, PlaceholderTitle)
	}
	if !conv.IsEmpty() {
		t.Error("new conversation is not empty")
	}
}

func TestConversation_TouchAlwaysAdvances(t *testing.T) {
	conv := NewConversation()
	conv.UpdatedAt = time.Now().Add(time.Hour)
	prev := conv.UpdatedAt
	for i := 0; i < 3; i++ {
		conv.Touch()
		if !conv.UpdatedAt.After(prev) {
			t.Fatalf("Touch() #%d left UpdatedAt at %v", i, conv.UpdatedAt)
		}
		prev = conv.UpdatedAt
	}
}

func TestNewUserMessage_KeepsImagesInContent(t *testing.T) {
	plain := NewUserMessage("hi", nil)
	if plain.Content.IsMultipart() || plain.Text() != "hi" || plain.Images() != nil {
		t.Errorf("NewUserMessage(text) = %+v", plain.Content)
	}

	msg := NewUserMessage("describe", []string{"data:image/png;base64,AA==", "https://x/y.png"})
	if !msg.Content.IsMultipart() {
		t.Fatal("content with images is not multipart")
	}
	if got := msg.Content.Parts[0]; got.Type != PartText || got.Text != "describe" {
		t.Errorf("first part = %+v, want text", got)
	}
	if got := msg.Images(); len(got) != 2 || got[1] != "https://x/y.png" {
		t.Errorf("Images() = %v", got)
	}
	if msg.Text() != "describe" {
		t.Errorf("Text() = %q", msg.Text())
	}
}

func TestConversation_FindAndLastRetryable(t *testing.T) {
	conv := NewConversation()
	user := NewUserMessage("q", nil)
	failed := NewErrorMessage("e", &RetryData{ConversationID: conv.ID})
	conv.Messages = append(conv.Messages, user, failed, NewAssistantMessage("later"))

	if m, idx := conv.FindMessage(failed.ID); m != failed || idx != 1 {
		t.Errorf("FindMessage() = %v, %d", m, idx)
	}
	if _, idx := conv.FindMessage("missing"); idx != -1 {
		t.Errorf("FindMessage(missing) idx = %d", idx)
	}
	if got := conv.GetLastRetryable(); got != failed {
		t.Errorf("GetLastRetryable() = %v", got)
	}
}

// =============================================================================
// MODEL DATA TESTS
// =============================================================================

func TestModelData_Capabilities(t *testing.T) {
	tests := []struct {
		name      string
		model     ModelData
		free      bool
		vision    bool
		moderated bool
	}{
		{
			name:  "free text model",
			model: ModelData{Pricing: Pricing{Prompt: "0", Completion: "0"}},
			free:  true,
		},
		{
			name:  "paid prompt",
			model: ModelData{Pricing: Pricing{Prompt: "0.000001", Completion: "0"}},
		},
		{
			name:  "unparseable price is not free",
			model: ModelData{Pricing: Pricing{Prompt: "", Completion: "0"}},
		},
		{
			name: "vision via input modalities",
			model: ModelData{
				Pricing:      Pricing{Prompt: "1", Completion: "1"},
				Architecture: Architecture{InputModalities: []string{"text", "image"}},
			},
			vision: true,
		},
		{
			name: "vision via legacy modality",
			model: ModelData{
				Pricing:      Pricing{Prompt: "1", Completion: "1"},
				Architecture: Architecture{Modality: "text+image->text"},
			},
			vision: true,
		},
		{
			name: "moderated provider",
			model: ModelData{
				Pricing:     Pricing{Prompt: "1", Completion: "1"},
				TopProvider: TopProvider{IsModerated: true},
			},
			moderated: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.model.IsFree(); got != tc.free {
				t.Errorf("IsFree() = %v, want %v", got, tc.free)
			}
			if got := tc.model.SupportsVision(); got != tc.vision {
				t.Errorf("SupportsVision() = %v, want %v", got, tc.vision)
			}
			if got := tc.model.IsModerated(); got != tc.moderated {
				t.Errorf("IsModerated() = %v, want %v", got, tc.moderated)
			}
		})
	}
}

func TestChatSettings_Presence(t *testing.T) {
	s := ChatSettings{APIKey: "  ", Model: "m"}
	if s.HasAPIKey() {
		t.Error("whitespace key counted as present")
	}
	if !s.HasModel() {
		t.Error("model not counted as present")
	}
}
