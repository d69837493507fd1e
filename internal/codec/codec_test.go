// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package codec

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessionchat/internal/cloud"
	"github.com/jeranaias/sessionchat/internal/model"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

func TestEncodeOutbound(t *testing.T) {
	images := []string{"data:image/png;base64,AA==", "data:image/jpeg;base64,BB=="}

	t.Run("vision model with images", func(t *testing.T) {
		c := EncodeOutbound("what is this", images, true)
		require.True(t, c.IsMultipart())
		require.Len(t, c.Parts, 3)
		assert.Equal(t, model.TextPart("what is this"), c.Parts[0])
		assert.Equal(t, images, c.ImageURLs())
	})

	t.Run("non-vision model drops images", func(t *testing.T) {
		c := EncodeOutbound("what is this", images, false)
		assert.False(t, c.IsMultipart())
		assert.Equal(t, "what is this", c.Text)
	})

	t.Run("vision model without images is plain text", func(t *testing.T) {
		c := EncodeOutbound("hi", nil, true)
		assert.False(t, c.IsMultipart())
	})
}

func TestEncodeHistory_SkipsFailedTurnsAndFlattens(t *testing.T) {
	user := model.NewUserMessage("look", []string{"data:image/png;base64,AA=="})
	reply := model.NewAssistantMessage("a cat")
	failed := model.NewErrorMessage("HTTP 500", &model.RetryData{OriginalInput: "again"})
	pending := model.NewAssistantMessage("")
	pending.Status = model.StatusSending

	got := EncodeHistory([]*model.Message{user, reply, failed, pending})
	require.Len(t, got, 2)
	assert.Equal(t, "user", got[0].Role)
	assert.Equal(t, model.TextContent("look"), got[0].Content)
	assert.Equal(t, "assistant", got[1].Role)
	assert.Equal(t, "a cat", got[1].Content.Text)
}

func TestBuildRequestBody_Order(t *testing.T) {
	history := []cloud.ChatMessage{
		{Role: "user", Content: model.TextContent("1")},
		{Role: "assistant", Content: model.TextContent("2")},
	}
	req := BuildRequestBody("You are terse.", history, model.TextContent("3"), "vendor/model:free")

	assert.Equal(t, "vendor/model:free", req.Model)
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "You are terse.", req.Messages[0].Content.Text)
	assert.Equal(t, "3", req.Messages[3].Content.Text)
	assert.Equal(t, "user", req.Messages[3].Role)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), `{"model":"vendor/model:free","messages":[{"role":"system","content":"You are terse."}`))
}

func TestBuildRequestBody_EmptyPersonaHasNoSystemMessage(t *testing.T) {
	req := BuildRequestBody("  ", nil, model.TextContent("hi"), "m")
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
}

func TestImageDataURI(t *testing.T) {
	uri, err := ImageDataURI(pngHeader)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "data:image/png;base64,"))
	assert.True(t, IsDataURI(uri))

	_, err = ImageDataURI([]byte("just some text"))
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = ImageDataURI(nil)
	assert.ErrorIs(t, err, ErrNotImage)
}

func TestLoadImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pixel.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0600))

	uri, err := LoadImage(path)
	require.NoError(t, err)
	assert.Contains(t, uri, "image/png")

	_, err = LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}
