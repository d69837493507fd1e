// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessionchat/internal/model"
)

const testKey = "sk-or-test-abcdefghijklmnopqrstuvwxyz0123456789"

func okCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":    "gen-1",
		"model": "test/model",
		"choices": []map[string]interface{}{
			{"message": map[string]interface{}{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
	})
}

// =============================================================================
// COMPLETION TESTS
// =============================================================================

func TestComplete_SendsHeadersAndBody(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		gotHeaders = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(data, &gotBody))
		okCompletion(w, "hi there")
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, SiteName: "test-app", SiteURL: "https://example.test"})
	resp, err := client.Complete(context.Background(), testKey, ChatRequest{
		Model: "test/model",
		Messages: []ChatMessage{
			{Role: "system", Content: model.TextContent("be brief")},
			{Role: "user", Content: model.PartsContent(model.TextPart("look"), model.ImagePart("data:image/png;base64,AA=="))},
		},
	})
	require.NoError(t, err)

	content, err := resp.Content()
	require.NoError(t, err)
	assert.Equal(t, "hi there", content)

	assert.Equal(t, "Bearer "+testKey, gotHeaders.Get("Authorization"))
	assert.Equal(t, "https://example.test", gotHeaders.Get("HTTP-Referer"))
	assert.Equal(t, "test-app", gotHeaders.Get("X-Title"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))

	assert.Equal(t, "test/model", gotBody["model"])
	msgs := gotBody["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "be brief", msgs[0].(map[string]interface{})["content"])
	parts := msgs[1].(map[string]interface{})["content"].([]interface{})
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[1].(map[string]interface{})["type"])
}

func TestComplete_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   error
	}{
		{"unauthorized with body", http.StatusUnauthorized, `{"error":{"code":401,"message":"No auth credentials found"}}`, ErrAuthFailed},
		{"payment required", http.StatusPaymentRequired, `{"error":{"message":"Insufficient credits"}}`, ErrInsufficientCredits},
		{"not found plain body", http.StatusNotFound, `nope`, ErrModelNotFound},
		{"rate limited", http.StatusTooManyRequests, ``, ErrRateLimited},
		{"server error", http.StatusBadGateway, `bad gateway`, ErrServerError},
		{"bad request", http.StatusBadRequest, `{"error":{"code":"invalid","message":"bad model"}}`, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer server.Close()

			client := NewClient(Options{BaseURL: server.URL})
			_, err := client.Complete(context.Background(), testKey, ChatRequest{Model: "m"})
			require.Error(t, err)

			var perr *ProtocolError
			require.True(t, errors.As(err, &perr), "want ProtocolError, got %T", err)
			assert.Equal(t, tc.status, perr.Status)
			assert.Equal(t, tc.status, StatusOf(err))
			if tc.kind != nil {
				assert.ErrorIs(t, err, tc.kind)
			}
			assert.False(t, IsTransport(err))
		})
	}
}

func TestComplete_MissingContentIsProtocolError(t *testing.T) {
	bodies := map[string]string{
		"no choices":     `{"choices":[]}`,
		"null content":   `{"choices":[{"message":{"role":"assistant","content":null}}]}`,
		"not json":       `<html>`,
		"array content":  `{"choices":[{"message":{"content":[{"type":"text","text":"x"}]}}]}`,
		"missing fields": `{}`,
	}

	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			}))
			defer server.Close()

			_, err := NewClient(Options{BaseURL: server.URL}).Complete(context.Background(), testKey, ChatRequest{Model: "m"})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestComplete_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(Options{BaseURL: url, Timeout: time.Second}).Complete(context.Background(), testKey, ChatRequest{Model: "m"})
	require.Error(t, err)
	assert.True(t, IsTransport(err), "want TransportError, got %T: %v", err, err)
}

func TestComplete_ConcurrentCallsUseTheirOwnKeys(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen[r.Header.Get("Authorization")]++
		mu.Unlock()
		okCompletion(w, "ok")
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := "sk-or-a"
			if i%2 == 1 {
				key = "sk-or-b"
			}
			_, err := client.Complete(context.Background(), key, ChatRequest{Model: "m"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, seen["Bearer sk-or-a"])
	assert.Equal(t, 10, seen["Bearer sk-or-b"])
}

func TestComplete_RateLimiterDelaysButDoesNotFail(t *testing.T) {
	var count atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count.Add(1)
		okCompletion(w, "ok")
	}))
	defer server.Close()

	client := NewClient(Options{BaseURL: server.URL, RequestsPerSecond: 50, Burst: 1})
	for i := 0; i < 3; i++ {
		_, err := client.Complete(context.Background(), testKey, ChatRequest{Model: "m"})
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), count.Load())
}

// =============================================================================
// MODEL LIST TESTS
// =============================================================================

func TestListModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		io.WriteString(w, `{"data":[
			{"id":"a/free","name":"Free One","pricing":{"prompt":"0","completion":"0"},
			 "architecture":{"input_modalities":["text","image"]},"top_provider":{"is_moderated":true}},
			{"id":"b/paid","name":"Paid","pricing":{"prompt":"0.001","completion":"0.002"}}
		]}`)
	}))
	defer server.Close()

	models, err := NewClient(Options{BaseURL: server.URL}).ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.True(t, models[0].IsFree())
	assert.True(t, models[0].SupportsVision())
	assert.True(t, models[0].IsModerated())
	assert.False(t, models[1].IsFree())
}

func TestListModels_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewClient(Options{BaseURL: server.URL}).ListModels(context.Background())
	assert.Equal(t, http.StatusServiceUnavailable, StatusOf(err))
}

// =============================================================================
// CREDENTIAL HELPER TESTS
// =============================================================================

func TestKeyFingerprint(t *testing.T) {
	assert.Equal(t, "none", KeyFingerprint(""))
	fp := KeyFingerprint(testKey)
	assert.Len(t, fp, 8)
	assert.NotContains(t, testKey, fp)
	assert.Equal(t, fp, KeyFingerprint("  "+testKey+" "))
}

func TestValidateAPIKey(t *testing.T) {
	assert.True(t, ValidateAPIKey(testKey))
	assert.False(t, ValidateAPIKey("sk-proj-abcdefghijklmnopqrstuvwxyz"))
	assert.False(t, ValidateAPIKey("sk-or-short"))
}
