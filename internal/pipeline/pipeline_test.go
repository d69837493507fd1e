// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/sessionchat/internal/catalog"
	"github.com/jeranaias/sessionchat/internal/cloud"
	"github.com/jeranaias/sessionchat/internal/metrics"
	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/settings"
	"github.com/jeranaias/sessionchat/internal/store"
)

const (
	testKey     = "sk-or-v1-test-key-0123456789"
	visionModel = "vendor/vision"
	textModel   = "vendor/text"
	pngURI      = "data:image/png;base64,iVBORw0KGgo="
)

// =============================================================================
// FAKE PROVIDER
// =============================================================================

type fakeResponse struct {
	status int
	body   string
	delay  time.Duration
}

func reply(text string) fakeResponse {
	content, _ := json.Marshal(text)
	return fakeResponse{
		status: http.StatusOK,
		body:   `{"id":"gen-1","model":"m","choices":[{"message":{"role":"assistant","content":` + string(content) + `}}]}`,
	}
}

func failure(status int) fakeResponse {
	return fakeResponse{status: status, body: `{"error":{"code":` + "\"" + http.StatusText(status) + "\"" + `,"message":"nope"}}`}
}

type captured struct {
	auth string
	req  cloud.ChatRequest
}

type fakeProvider struct {
	mu        sync.Mutex
	responses []fakeResponse
	requests  []captured
	server    *httptest.Server
}

func newFakeProvider(t *testing.T, responses ...fakeResponse) *fakeProvider {
	t.Helper()
	f := &fakeProvider{responses: responses}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req cloud.ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		f.requests = append(f.requests, captured{auth: r.Header.Get("Authorization"), req: req})
		resp := reply("ok")
		if len(f.responses) > 0 {
			resp = f.responses[0]
			if len(f.responses) > 1 {
				f.responses = f.responses[1:]
			}
		}
		f.mu.Unlock()

		time.Sleep(resp.delay)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.status)
		w.Write([]byte(resp.body))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeProvider) calls() []captured {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]captured(nil), f.requests...)
}

type fixture struct {
	pipe     *Pipeline
	store    *store.Store
	settings *settings.Holder
	catalog  *catalog.Catalog
	provider *fakeProvider
	conv     *model.Conversation
}

func newFixture(t *testing.T, cfg model.ChatSettings, responses ...fakeResponse) *fixture {
	t.Helper()
	provider := newFakeProvider(t, responses...)
	client := cloud.NewClient(cloud.Options{BaseURL: provider.server.URL})

	st := store.New(nil)
	holder := settings.New(cfg)
	cat := catalog.New(client, holder, nil, nil)
	vision := model.ModelData{ID: visionModel, Name: "Vision"}
	vision.Architecture.InputModalities = []string{"text", "image"}
	cat.Restore([]model.ModelData{vision, {ID: textModel, Name: "Text"}})

	return &fixture{
		pipe:     New(st, holder, cat, client, metrics.New(), nil),
		store:    st,
		settings: holder,
		catalog:  cat,
		provider: provider,
		conv:     st.CreateConversation(),
	}
}

func configured() model.ChatSettings {
	return model.ChatSettings{APIKey: testKey, Model: textModel, Persona: "You are terse."}
}

func (f *fixture) messages(t *testing.T) []*model.Message {
	t.Helper()
	conv, err := f.store.Conversation(f.conv.ID)
	require.NoError(t, err)
	return conv.Messages
}

func slowReply(text string, delay time.Duration) fakeResponse {
	r := reply(text)
	r.delay = delay
	return r
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestSend_NoAPIKeyRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t, model.ChatSettings{})

	_, err := f.pipe.Send(context.Background(), SendRequest{ConversationID: f.conv.ID, Text: "hello"})

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "api_key", ve.Field)
	assert.Empty(t, f.messages(t))
	assert.Empty(t, f.provider.calls())
	assert.Equal(t, model.PlaceholderTitle, f.store.Current().Title)
}

func TestSend_Validation(t *testing.T) {
	tests := []struct {
		name  string
		cfg   model.ChatSettings
		req   func(convID string) SendRequest
		field string
	}{
		{
			name:  "images without text",
			cfg:   configured(),
			req:   func(id string) SendRequest { return SendRequest{ConversationID: id, Text: "  ", Images: []string{pngURI}} },
			field: "text",
		},
		{
			name:  "no model",
			cfg:   model.ChatSettings{APIKey: testKey},
			req:   func(id string) SendRequest { return SendRequest{ConversationID: id, Text: "hi"} },
			field: "model",
		},
		{
			name:  "bad image reference",
			cfg:   configured(),
			req:   func(id string) SendRequest { return SendRequest{ConversationID: id, Text: "hi", Images: []string{"/etc/passwd"}} },
			field: "images",
		},
		{
			name:  "no conversation",
			cfg:   configured(),
			req:   func(string) SendRequest { return SendRequest{Text: "hi"} },
			field: "conversation_id",
		},
		{
			name:  "unknown conversation",
			cfg:   configured(),
			req:   func(string) SendRequest { return SendRequest{ConversationID: "missing", Text: "hi"} },
			field: "conversation_id",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.cfg)
			_, err := f.pipe.Send(context.Background(), tc.req(f.conv.ID))

			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tc.field, ve.Field)
			assert.Empty(t, f.messages(t))
			assert.Empty(t, f.provider.calls())
		})
	}
}

func TestSend_UnknownConversationWrapsStoreError(t *testing.T) {
	f := newFixture(t, configured())
	_, err := f.pipe.Send(context.Background(), SendRequest{ConversationID: "missing", Text: "hi"})
	assert.ErrorIs(t, err, store.ErrConversationNotFound)
	assert.True(t, IsValidation(err))
}

// =============================================================================
// FRESH SEND
// =============================================================================

func TestSend_Success(t *testing.T) {
	f := newFixture(t, configured(), reply("Hi there."))

	msg, err := f.pipe.Send(context.Background(), SendRequest{ConversationID: f.conv.ID, Text: "  hello world  "})
	require.NoError(t, err)

	assert.Equal(t, model.RoleAssistant, msg.Role)
	assert.Equal(t, model.StatusSuccess, msg.Status)
	assert.Equal(t, "Hi there.", msg.Text())
	assert.Nil(t, msg.RetryData)

	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.StatusSuccess, msgs[0].Status)
	assert.Equal(t, "hello world", msgs[0].Text())
	assert.Equal(t, msg.ID, msgs[1].ID)
	assert.Equal(t, "HELLO WORLD", f.store.Current().Title)

	calls := f.provider.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Bearer "+testKey, calls[0].auth)
	assert.Equal(t, textModel, calls[0].req.Model)
	require.Len(t, calls[0].req.Messages, 2)
	assert.Equal(t, "system", calls[0].req.Messages[0].Role)
	assert.Equal(t, "You are terse.", calls[0].req.Messages[0].Content.PlainText())
	assert.Equal(t, "user", calls[0].req.Messages[1].Role)
	assert.Equal(t, "hello world", calls[0].req.Messages[1].Content.PlainText())
}

func TestSend_VisionEncodingFollowsModel(t *testing.T) {
	for _, tc := range []struct {
		model     string
		multipart bool
	}{
		{visionModel, true},
		{textModel, false},
	} {
		t.Run(tc.model, func(t *testing.T) {
			cfg := configured()
			cfg.Model = tc.model
			f := newFixture(t, cfg)

			_, err := f.pipe.Send(context.Background(), SendRequest{ConversationID: f.conv.ID, Text: "what is this", Images: []string{pngURI}})
			require.NoError(t, err)

			calls := f.provider.calls()
			require.Len(t, calls, 1)
			current := calls[0].req.Messages[len(calls[0].req.Messages)-1].Content
			assert.Equal(t, tc.multipart, current.IsMultipart())
			assert.Equal(t, "what is this", current.PlainText())
			if tc.multipart {
				assert.Equal(t, []string{pngURI}, current.ImageURLs())
			} else {
				assert.Empty(t, current.ImageURLs())
			}

			// The stored user message keeps its images either way.
			stored := f.messages(t)[0]
			assert.True(t, stored.Content.IsMultipart())
			assert.Equal(t, "what is this", stored.Text())
			assert.Equal(t, []string{pngURI}, stored.Images())
		})
	}
}

func TestSend_HistoryExcludesFailedTurns(t *testing.T) {
	f := newFixture(t, configured(), failure(http.StatusInternalServerError), reply("second answer"))
	ctx := context.Background()

	first, err := f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "first"})
	require.NoError(t, err)
	require.Equal(t, model.StatusError, first.Status)

	_, err = f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "second"})
	require.NoError(t, err)

	calls := f.provider.calls()
	require.Len(t, calls, 2)
	var texts []string
	for _, m := range calls[1].req.Messages[1:] {
		texts = append(texts, m.Role+":"+m.Content.PlainText())
	}
	assert.Equal(t, []string{"user:first", "user:second"}, texts)
}

func TestSend_HTTP401ProducesRetryableError(t *testing.T) {
	f := newFixture(t, configured(), failure(http.StatusUnauthorized))

	msg, err := f.pipe.Send(context.Background(), SendRequest{ConversationID: f.conv.ID, Text: "hello", Images: []string{pngURI}})
	require.NoError(t, err)

	assert.Equal(t, model.StatusError, msg.Status)
	assert.Contains(t, msg.Error, "Authentication failed")
	require.NotNil(t, msg.RetryData)
	assert.Equal(t, "hello", msg.RetryData.OriginalInput)
	assert.Equal(t, []string{pngURI}, msg.RetryData.Images)
	assert.Equal(t, f.conv.ID, msg.RetryData.ConversationID)

	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, msgs[0].ID, msg.RetryData.UserMessageID)
	for _, m := range msgs {
		assert.False(t, m.Role == model.RoleAssistant && m.Status == model.StatusSuccess)
		assert.True(t, m.Consistent())
	}
}

func TestSend_MalformedAndTransportFailures(t *testing.T) {
	f := newFixture(t, configured(), fakeResponse{status: http.StatusOK, body: `{"choices":[]}`})
	msg, err := f.pipe.Send(context.Background(), SendRequest{ConversationID: f.conv.ID, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Unexpected response from the model provider", msg.Error)

	f.provider.server.Close()
	msg, err = f.pipe.Send(context.Background(), SendRequest{ConversationID: f.conv.ID, Text: "again"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, msg.Status)
	assert.Contains(t, msg.Error, "Network error")
	assert.NotNil(t, msg.RetryData)
}

// =============================================================================
// RETRY
// =============================================================================

func TestRetry_SuccessReplacesInPlace(t *testing.T) {
	f := newFixture(t, configured(), failure(http.StatusUnauthorized), reply("finally"))
	ctx := context.Background()

	failed, err := f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "hello"})
	require.NoError(t, err)
	require.Equal(t, model.StatusError, failed.Status)

	var mu sync.Mutex
	var transitions []model.Status
	f.store.Subscribe(func(e store.Event) {
		if e.Kind != store.EventMessageUpdated || e.MessageID != failed.ID {
			return
		}
		m, err := f.store.Message(e.ConversationID, e.MessageID)
		if err == nil {
			mu.Lock()
			transitions = append(transitions, m.Status)
			mu.Unlock()
		}
	})

	got, err := f.pipe.Retry(ctx, f.conv.ID, failed.ID)
	require.NoError(t, err)

	assert.Equal(t, failed.ID, got.ID)
	assert.Equal(t, model.StatusSuccess, got.Status)
	assert.Equal(t, "finally", got.Text())
	assert.Empty(t, got.Error)
	assert.Nil(t, got.RetryData)

	mu.Lock()
	assert.Equal(t, []model.Status{model.StatusSending, model.StatusSuccess}, transitions)
	mu.Unlock()

	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, failed.ID, msgs[1].ID)

	calls := f.provider.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].req.Messages, calls[1].req.Messages)
}

func TestRetry_FailureKeepsRetryData(t *testing.T) {
	f := newFixture(t, configured(), failure(http.StatusInternalServerError), failure(http.StatusTooManyRequests))
	ctx := context.Background()

	failed, err := f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "hello"})
	require.NoError(t, err)
	assert.Contains(t, failed.Error, "HTTP 500")

	got, err := f.pipe.Retry(ctx, f.conv.ID, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Contains(t, got.Error, "Rate limited")
	require.NotNil(t, got.RetryData)
	assert.Equal(t, failed.RetryData, got.RetryData)
	assert.True(t, got.CanRetry())
}

func TestRetry_UsesCurrentSettings(t *testing.T) {
	f := newFixture(t, configured(), failure(http.StatusNotFound), reply("ok"))
	ctx := context.Background()

	failed, err := f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "look", Images: []string{pngURI}})
	require.NoError(t, err)

	const newKey = "sk-or-v1-another-key-9876543210"
	f.settings.Update(func(s *model.ChatSettings) {
		s.Model = visionModel
		s.APIKey = newKey
		s.Persona = ""
	})

	_, err = f.pipe.Retry(ctx, f.conv.ID, failed.ID)
	require.NoError(t, err)

	calls := f.provider.calls()
	require.Len(t, calls, 2)
	retry := calls[1]
	assert.Equal(t, "Bearer "+newKey, retry.auth)
	assert.Equal(t, visionModel, retry.req.Model)
	require.Len(t, retry.req.Messages, 1)
	assert.True(t, retry.req.Messages[0].Content.IsMultipart())
}

func TestRetry_HistoryPrecedesOriginalTurn(t *testing.T) {
	f := newFixture(t, configured(),
		reply("one"),
		failure(http.StatusBadGateway),
		reply("three"),
		reply("two, again"),
	)
	ctx := context.Background()

	_, err := f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "q1"})
	require.NoError(t, err)
	failed, err := f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "q2"})
	require.NoError(t, err)
	_, err = f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "q3"})
	require.NoError(t, err)

	_, err = f.pipe.Retry(ctx, f.conv.ID, failed.ID)
	require.NoError(t, err)

	calls := f.provider.calls()
	require.Len(t, calls, 4)
	var texts []string
	for _, m := range calls[3].req.Messages[1:] {
		texts = append(texts, m.Content.PlainText())
	}
	assert.Equal(t, []string{"q1", "one", "q2"}, texts)
}

func TestRetry_RejectsNonFailedTargets(t *testing.T) {
	f := newFixture(t, configured(), reply("fine"))
	ctx := context.Background()

	ok, err := f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "hello"})
	require.NoError(t, err)

	_, err = f.pipe.Retry(ctx, f.conv.ID, ok.ID)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "message_id", ve.Field)

	_, err = f.pipe.Retry(ctx, f.conv.ID, "missing")
	assert.ErrorIs(t, err, store.ErrMessageNotFound)

	_, err = f.pipe.Retry(ctx, "missing", ok.ID)
	assert.ErrorIs(t, err, store.ErrConversationNotFound)

	assert.Len(t, f.provider.calls(), 1)
}

func TestRetry_RequiresCredential(t *testing.T) {
	f := newFixture(t, configured(), failure(http.StatusUnauthorized))
	ctx := context.Background()
	failed, err := f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "hello"})
	require.NoError(t, err)

	f.settings.Update(func(s *model.ChatSettings) { s.APIKey = "" })
	_, err = f.pipe.Retry(ctx, f.conv.ID, failed.ID)
	require.True(t, IsValidation(err))

	got, err := f.store.Message(f.conv.ID, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
}

func TestRetryLatest(t *testing.T) {
	f := newFixture(t, configured(), failure(http.StatusInternalServerError), reply("recovered"))
	ctx := context.Background()

	_, err := f.pipe.RetryLatest(ctx, f.conv.ID)
	require.True(t, IsValidation(err))

	failed, err := f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "hello"})
	require.NoError(t, err)

	got, err := f.pipe.RetryLatest(ctx, f.conv.ID)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, got.ID)
	assert.Equal(t, "recovered", got.Text())
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestSend_SerializedPerConversation(t *testing.T) {
	var inflight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		w.Write([]byte(reply("ok").body))
	}))
	defer server.Close()

	client := cloud.NewClient(cloud.Options{BaseURL: server.URL})
	st := store.New(nil)
	p := New(st, settings.New(configured()), nil, client, nil, nil)
	conv := st.CreateConversation()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Send(context.Background(), SendRequest{ConversationID: conv.ID, Text: "hi"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), peak.Load())
	got, err := st.Conversation(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 8)
	for i, m := range got.Messages {
		if i%2 == 0 {
			assert.Equal(t, model.RoleUser, m.Role)
		} else {
			assert.Equal(t, model.RoleAssistant, m.Role)
		}
	}
}

func TestSend_StoreStaysReadableDuringSend(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(reply("ok").body))
	}))
	defer server.Close()

	st := store.New(nil)
	p := New(st, settings.New(configured()), nil, cloud.NewClient(cloud.Options{BaseURL: server.URL}), nil, nil)
	conv := st.CreateConversation()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Send(context.Background(), SendRequest{ConversationID: conv.ID, Text: "slow"})
	}()

	require.Eventually(t, func() bool {
		c, err := st.Conversation(conv.ID)
		return err == nil && len(c.Messages) == 1
	}, time.Second, 5*time.Millisecond)

	other := st.CreateConversation()
	assert.Equal(t, other.ID, st.CurrentID())

	close(release)
	<-done
}

func TestSend_SettlesWhenCallerContextIsCancelled(t *testing.T) {
	f := newFixture(t, configured(), slowReply("still here", 200*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool { return len(f.provider.calls()) == 1 }, time.Second, 5*time.Millisecond)
		cancel()
	}()

	got, err := f.pipe.Send(ctx, SendRequest{ConversationID: f.conv.ID, Text: "hello"})
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.Equal(t, model.StatusSuccess, got.Status)
	assert.Equal(t, "still here", got.Text())
	assert.Nil(t, got.RetryData)

	msgs := f.messages(t)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.StatusSuccess, msgs[1].Status)
}

func TestRetry_SettlesWithCancelledContext(t *testing.T) {
	f := newFixture(t, configured(), failure(http.StatusBadGateway), reply("recovered"))

	failed, err := f.pipe.Send(context.Background(), SendRequest{ConversationID: f.conv.ID, Text: "hello"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := f.pipe.Retry(ctx, f.conv.ID, failed.ID)
	require.NoError(t, err)
	assert.Equal(t, failed.ID, got.ID)
	assert.Equal(t, model.StatusSuccess, got.Status)
	assert.Equal(t, "recovered", got.Text())
}

// =============================================================================
// ERROR DESCRIPTIONS
// =============================================================================

func TestDescribeError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&cloud.ProtocolError{Status: 401, Kind: cloud.ErrAuthFailed}, "Authentication failed: check your API key (HTTP 401)"},
		{&cloud.ProtocolError{Status: 402, Kind: cloud.ErrInsufficientCredits}, "Insufficient credits: add credits to your account (HTTP 402)"},
		{&cloud.ProtocolError{Status: 404, Kind: cloud.ErrModelNotFound}, "Model not found: select another model (HTTP 404)"},
		{&cloud.ProtocolError{Status: 429, Kind: cloud.ErrRateLimited}, "Rate limited: wait a moment, then retry (HTTP 429)"},
		{&cloud.ProtocolError{Status: 503, Kind: cloud.ErrServerError}, "The model provider is having trouble (HTTP 503)"},
		{&cloud.ProtocolError{Status: 200, Kind: cloud.ErrMalformedResponse}, "Unexpected response from the model provider"},
		{&cloud.ProtocolError{Status: 400, Message: "bad input"}, "Request failed (HTTP 400): bad input"},
		{&cloud.ProtocolError{Status: 418}, "Request failed (HTTP 418)"},
		{&cloud.TransportError{Op: "chat completion", Err: errors.New("dial tcp: refused")}, "Network error: could not reach the model provider"},
		{&cloud.TransportError{Op: "chat completion", Err: context.DeadlineExceeded}, "Request timed out before a reply arrived"},
		{errors.New("boom"), "Request failed: boom"},
		{nil, ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, DescribeError(tc.err))
	}
}
