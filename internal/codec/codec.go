// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/jeranaias/sessionchat/internal/cloud"
	"github.com/jeranaias/sessionchat/internal/model"
)

// MaxImageSize is the largest attachment accepted by LoadImage.
const MaxImageSize = 20 * 1024 * 1024

var (
	// ErrNotImage indicates attachment data that is not an image.
	ErrNotImage = errors.New("not an image")

	// ErrImageTooLarge indicates an attachment above MaxImageSize.
	ErrImageTooLarge = errors.New("image too large")
)

// =============================================================================
// OUTBOUND ENCODING
// =============================================================================

// EncodeOutbound builds the content of the user turn being sent.
//
// With a vision-capable model and at least one image the result is a part
// list: the text first, then one image_url part per image. Otherwise the
// result is plain text and the images are dropped.
func EncodeOutbound(text string, images []string, supportsVision bool) model.Content {
	if !supportsVision || len(images) == 0 {
		return model.TextContent(text)
	}
	parts := make([]model.ContentPart, 0, len(images)+1)
	parts = append(parts, model.TextPart(text))
	for _, img := range images {
		parts = append(parts, model.ImagePart(img))
	}
	return model.PartsContent(parts...)
}

// EncodeHistory converts stored messages into wire messages. Only settled
// successful turns are included; multimodal content is reduced to its text.
func EncodeHistory(messages []*model.Message) []cloud.ChatMessage {
	out := make([]cloud.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m == nil || m.Status != model.StatusSuccess {
			continue
		}
		out = append(out, cloud.ChatMessage{
			Role:    m.Role.String(),
			Content: model.TextContent(m.Text()),
		})
	}
	return out
}

// BuildRequestBody assembles the completion request: the persona as a
// system message, then history, then the current user turn.
func BuildRequestBody(persona string, history []cloud.ChatMessage, current model.Content, modelID string) cloud.ChatRequest {
	msgs := make([]cloud.ChatMessage, 0, len(history)+2)
	if strings.TrimSpace(persona) != "" {
		msgs = append(msgs, cloud.ChatMessage{Role: model.RoleSystem.String(), Content: model.TextContent(persona)})
	}
	msgs = append(msgs, history...)
	msgs = append(msgs, cloud.ChatMessage{Role: model.RoleUser.String(), Content: current})
	return cloud.ChatRequest{Model: modelID, Messages: msgs}
}

// =============================================================================
// IMAGE ATTACHMENTS
// =============================================================================

// ImageDataURI sniffs data and returns it as a base64 data URI.
func ImageDataURI(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNotImage
	}
	if len(data) > MaxImageSize {
		return "", ErrImageTooLarge
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}
	return "data:" + mt.String() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// LoadImage reads an image file and returns it as a data URI.
func LoadImage(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > MaxImageSize {
		return "", ErrImageTooLarge
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return ImageDataURI(data)
}

// IsDataURI reports whether s looks like an inline image reference.
func IsDataURI(s string) bool {
	return strings.HasPrefix(s, "data:image/")
}
