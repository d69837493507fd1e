// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/sessionchat/internal/catalog"
	"github.com/jeranaias/sessionchat/internal/cloud"
	"github.com/jeranaias/sessionchat/internal/codec"
	"github.com/jeranaias/sessionchat/internal/metrics"
	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/settings"
	"github.com/jeranaias/sessionchat/internal/store"
)

// Completer performs one chat completion. *cloud.Client implements it.
type Completer interface {
	Complete(ctx context.Context, apiKey string, req cloud.ChatRequest) (*cloud.ChatResponse, error)
}

// SendRequest is one user turn.
type SendRequest struct {
	ConversationID string
	Text           string

	// Images are data URIs or http(s) URLs. They are always stored on the
	// user message but only sent to vision-capable models.
	Images []string
}

// Pipeline drives a message from user input to a settled assistant reply.
type Pipeline struct {
	store    *store.Store
	settings *settings.Holder
	catalog  *catalog.Catalog
	client   Completer
	metrics  *metrics.Metrics
	log      *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a pipeline. cat, m and log may be nil; without a catalog no
// model is treated as vision-capable.
func New(st *store.Store, holder *settings.Holder, cat *catalog.Catalog, client Completer, m *metrics.Metrics, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pipeline{
		store:    st,
		settings: holder,
		catalog:  cat,
		client:   client,
		metrics:  m,
		log:      log,
		locks:    make(map[string]*sync.Mutex),
	}
	st.Subscribe(func(e store.Event) {
		if e.Kind == store.EventConversationDeleted {
			p.forgetLock(e.ConversationID)
		}
	})
	return p
}

// conversationLock returns the mutex serializing sends to one
// conversation.
func (p *Pipeline) conversationLock(id string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	if l, ok := p.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	p.locks[id] = l
	return l
}

func (p *Pipeline) forgetLock(id string) {
	p.locksMu.Lock()
	delete(p.locks, id)
	p.locksMu.Unlock()
}

// =============================================================================
// SEND
// =============================================================================

// Send appends the user message, asks the provider for a reply, and
// appends the reply. The returned message is the assistant message.
//
// Provider failures do not produce an error: the reply is appended with
// status error and retry data, and returned. A non-nil error is either a
// *ValidationError (nothing was changed) or a store error when the
// conversation disappeared mid-flight.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (*model.Message, error) {
	text := strings.TrimSpace(req.Text)
	cfg := p.settings.Get()
	if err := p.validate(text, req.Images, cfg); err != nil {
		p.metrics.ObserveSend(metrics.KindSend, metrics.OutcomeInvalid)
		return nil, err
	}
	if req.ConversationID == "" {
		p.metrics.ObserveSend(metrics.KindSend, metrics.OutcomeInvalid)
		return nil, &ValidationError{Field: "conversation_id", Message: "no conversation selected"}
	}

	lock := p.conversationLock(req.ConversationID)
	lock.Lock()
	defer lock.Unlock()

	images := append([]string(nil), req.Images...)
	user := model.NewUserMessage(text, images)
	if err := p.store.AppendMessage(req.ConversationID, user); err != nil {
		p.metrics.ObserveSend(metrics.KindSend, metrics.OutcomeInvalid)
		return nil, &ValidationError{Field: "conversation_id", Message: "conversation does not exist", Err: err}
	}

	log := p.log.With(
		zap.String("conversation_id", req.ConversationID),
		zap.String("user_message_id", user.ID),
		zap.String("model", cfg.Model),
	)

	history, _ := p.historyBefore(req.ConversationID, user.ID)
	reply, err := p.complete(ctx, cfg, history, text, images)

	var msg *model.Message
	if err != nil {
		msg = model.NewErrorMessage(DescribeError(err), &model.RetryData{
			OriginalInput:  text,
			Images:         images,
			ConversationID: req.ConversationID,
			UserMessageID:  user.ID,
		})
		log.Warn("send_failed", zap.String("message_id", msg.ID), zap.Int("status", cloud.StatusOf(err)), zap.Error(err))
		p.metrics.ObserveSend(metrics.KindSend, metrics.OutcomeError)
	} else {
		msg = model.NewAssistantMessage(reply)
		log.Info("send_succeeded", zap.String("message_id", msg.ID), zap.Int("reply_runes", len([]rune(reply))))
		p.metrics.ObserveSend(metrics.KindSend, metrics.OutcomeSuccess)
	}

	if err := p.store.AppendMessage(req.ConversationID, msg); err != nil {
		log.Warn("reply_dropped", zap.Error(err))
		return nil, err
	}
	return msg, nil
}

// =============================================================================
// RETRY
// =============================================================================

// Retry re-sends the input preserved on a failed reply, using the current
// settings. On success the failed message becomes the reply in place
// (same id, new content, no error, no retry data). On failure it stays
// failed with the new error text and keeps its retry data.
func (p *Pipeline) Retry(ctx context.Context, conversationID, messageID string) (*model.Message, error) {
	cfg := p.settings.Get()
	if err := p.validateSettings(cfg); err != nil {
		p.metrics.ObserveSend(metrics.KindRetry, metrics.OutcomeInvalid)
		return nil, err
	}

	lock := p.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()

	target, err := p.store.Message(conversationID, messageID)
	if err != nil {
		p.metrics.ObserveSend(metrics.KindRetry, metrics.OutcomeInvalid)
		field := "message_id"
		if errors.Is(err, store.ErrConversationNotFound) {
			field = "conversation_id"
		}
		return nil, &ValidationError{Field: field, Message: "not found", Err: err}
	}
	if !target.CanRetry() {
		p.metrics.ObserveSend(metrics.KindRetry, metrics.OutcomeInvalid)
		return nil, &ValidationError{Field: "message_id", Message: "message is not a failed reply"}
	}
	retry := target.RetryData.Clone()

	if err := p.store.UpdateMessageStatus(conversationID, messageID, model.StatusSending, ""); err != nil {
		return nil, err
	}

	log := p.log.With(
		zap.String("conversation_id", conversationID),
		zap.String("message_id", messageID),
		zap.String("model", cfg.Model),
	)
	log.Info("retry_started")

	history := p.retryHistory(conversationID, messageID, retry.UserMessageID)
	reply, err := p.complete(ctx, cfg, history, retry.OriginalInput, retry.Images)
	if err != nil {
		log.Warn("retry_failed", zap.Int("status", cloud.StatusOf(err)), zap.Error(err))
		p.metrics.ObserveSend(metrics.KindRetry, metrics.OutcomeError)
		if uerr := p.store.FailRetry(conversationID, messageID, DescribeError(err)); uerr != nil {
			return nil, uerr
		}
	} else {
		log.Info("retry_succeeded", zap.Int("reply_runes", len([]rune(reply))))
		p.metrics.ObserveSend(metrics.KindRetry, metrics.OutcomeSuccess)
		if uerr := p.store.ResolveRetry(conversationID, messageID, model.TextContent(reply)); uerr != nil {
			return nil, uerr
		}
	}
	return p.store.Message(conversationID, messageID)
}

// RetryLatest retries the most recent failed reply in a conversation.
func (p *Pipeline) RetryLatest(ctx context.Context, conversationID string) (*model.Message, error) {
	conv, err := p.store.Conversation(conversationID)
	if err != nil {
		return nil, &ValidationError{Field: "conversation_id", Message: "not found", Err: err}
	}
	target := conv.GetLastRetryable()
	if target == nil {
		return nil, &ValidationError{Field: "message_id", Message: "nothing to retry"}
	}
	return p.Retry(ctx, conversationID, target.ID)
}

// =============================================================================
// HELPERS
// =============================================================================

func (p *Pipeline) validate(text string, images []string, cfg model.ChatSettings) error {
	if text == "" {
		return &ValidationError{Field: "text", Message: "message text is required"}
	}
	for _, img := range images {
		if !codec.IsDataURI(img) && !strings.HasPrefix(img, "https://") && !strings.HasPrefix(img, "http://") {
			return &ValidationError{Field: "images", Message: "images must be data URIs or http(s) URLs"}
		}
	}
	return p.validateSettings(cfg)
}

func (p *Pipeline) validateSettings(cfg model.ChatSettings) error {
	if !cfg.HasAPIKey() {
		return &ValidationError{Field: "api_key", Message: "no API key configured"}
	}
	if !cfg.HasModel() {
		return &ValidationError{Field: "model", Message: "no model selected"}
	}
	return nil
}

// historyBefore returns the messages preceding messageID. ok is false
// when the message is not in the conversation.
func (p *Pipeline) historyBefore(conversationID, messageID string) (history []*model.Message, ok bool) {
	conv, err := p.store.Conversation(conversationID)
	if err != nil {
		return nil, false
	}
	_, idx := conv.FindMessage(messageID)
	if idx < 0 {
		return nil, false
	}
	return conv.Messages[:idx], true
}

// retryHistory returns the messages preceding the user turn being
// retried. Retry data written without a user message id falls back to the
// nearest user message before the failed reply.
func (p *Pipeline) retryHistory(conversationID, failedID, userID string) []*model.Message {
	if userID != "" {
		if h, ok := p.historyBefore(conversationID, userID); ok {
			return h
		}
	}
	before, _ := p.historyBefore(conversationID, failedID)
	for i := len(before) - 1; i >= 0; i-- {
		if before[i].Role == model.RoleUser {
			return before[:i]
		}
	}
	return before
}

// complete builds the request for the current model and calls the
// provider. The call ignores cancellation of ctx: once started it runs to a
// reply or a failure, bounded by the client timeout.
func (p *Pipeline) complete(ctx context.Context, cfg model.ChatSettings, history []*model.Message, text string, images []string) (string, error) {
	ctx = context.WithoutCancel(ctx)
	vision := false
	if p.catalog != nil {
		vision = p.catalog.Capabilities(cfg.Model).SupportsVision
	}
	current := codec.EncodeOutbound(text, images, vision)
	body := codec.BuildRequestBody(cfg.Persona, codec.EncodeHistory(history), current, cfg.Model)

	p.log.Debug("completion_request",
		zap.String("model", cfg.Model),
		zap.Int("messages", len(body.Messages)),
		zap.Int("images", len(current.ImageURLs())),
		zap.Bool("vision", vision),
		zap.String("key", cloud.KeyFingerprint(cfg.APIKey)),
	)

	start := time.Now()
	resp, err := p.client.Complete(ctx, cfg.APIKey, body)
	p.metrics.ObserveCompletion(time.Since(start))
	if err != nil {
		return "", err
	}
	return resp.Content()
}
