// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/util"
)

// InterruptedError is the error text given to a retry that was still in
// flight when the previous process exited.
const InterruptedError = "Request was interrupted before a reply arrived"

// Store is the single source of truth for conversations and the current
// selection. All methods are safe for concurrent use. Returned values are
// copies; mutate through the Store methods only.
type Store struct {
	mu        sync.RWMutex
	convs     []*model.Conversation // newest first
	byID      map[string]*model.Conversation
	current   string
	observers util.Observers[Event]
	log       *zap.Logger
}

// New creates an empty store.
func New(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		byID: make(map[string]*model.Conversation),
		log:  log,
	}
}

// Subscribe registers fn for every mutation. Callbacks run after the store
// lock is released, on the goroutine that made the change.
func (s *Store) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.observers.Subscribe(fn)
}

func (s *Store) emit(events ...Event) {
	now := time.Now()
	for _, e := range events {
		e.At = now
		s.observers.Notify(e)
	}
}

// =============================================================================
// CONVERSATION LIFECYCLE
// =============================================================================

// CreateConversation adds an empty conversation at the head of the
// collection and makes it current.
func (s *Store) CreateConversation() *model.Conversation {
	conv := model.NewConversation()

	s.mu.Lock()
	s.convs = append([]*model.Conversation{conv}, s.convs...)
	s.byID[conv.ID] = conv
	s.current = conv.ID
	out := conv.Clone()
	s.mu.Unlock()

	s.log.Info("conversation_created", zap.String("conversation_id", conv.ID))
	s.emit(
		Event{Kind: EventConversationCreated, ConversationID: conv.ID, CurrentID: conv.ID},
		Event{Kind: EventCurrentChanged, ConversationID: conv.ID, CurrentID: conv.ID},
	)
	return out
}

// DeleteConversation removes a conversation. If it was current, the first
// remaining conversation becomes current, or none. Deleting an unknown id
// does nothing.
func (s *Store) DeleteConversation(id string) {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.byID, id)
	for i, c := range s.convs {
		if c.ID == id {
			s.convs = append(s.convs[:i], s.convs[i+1:]...)
			break
		}
	}
	currentChanged := false
	if s.current == id {
		s.current = ""
		if len(s.convs) > 0 {
			s.current = s.convs[0].ID
		}
		currentChanged = true
	}
	current := s.current
	s.mu.Unlock()

	s.log.Info("conversation_deleted", zap.String("conversation_id", id))
	events := []Event{{Kind: EventConversationDeleted, ConversationID: id, CurrentID: current}}
	if currentChanged {
		events = append(events, Event{Kind: EventCurrentChanged, ConversationID: current, CurrentID: current})
	}
	s.emit(events...)
}

// SetCurrent selects a conversation.
func (s *Store) SetCurrent(id string) error {
	s.mu.Lock()
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return notFound(ErrConversationNotFound, id)
	}
	changed := s.current != id
	s.current = id
	s.mu.Unlock()

	if changed {
		s.emit(Event{Kind: EventCurrentChanged, ConversationID: id, CurrentID: id})
	}
	return nil
}

// =============================================================================
// MESSAGE MUTATION
// =============================================================================

// AppendMessage appends a copy of msg to a conversation and advances its
// UpdatedAt. The first user message also sets the title, exactly once.
func (s *Store) AppendMessage(conversationID string, msg *model.Message) error {
	s.mu.Lock()
	conv, ok := s.byID[conversationID]
	if !ok {
		s.mu.Unlock()
		return notFound(ErrConversationNotFound, conversationID)
	}

	titled := false
	if conv.IsEmpty() && msg.Role == model.RoleUser && conv.Title == model.PlaceholderTitle {
		conv.Title = DeriveTitle(msg.Text())
		titled = true
	}
	conv.Messages = append(conv.Messages, msg.Clone())
	conv.Touch()
	current := s.current
	title := conv.Title
	s.mu.Unlock()

	s.log.Debug("message_appended",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", msg.ID),
		zap.String("role", msg.Role.String()),
		zap.String("status", string(msg.Status)),
	)
	events := []Event{{Kind: EventMessageAppended, ConversationID: conversationID, MessageID: msg.ID, CurrentID: current}}
	if titled {
		s.log.Debug("title_derived", zap.String("conversation_id", conversationID), zap.String("title", title))
		events = append(events, Event{Kind: EventTitleChanged, ConversationID: conversationID, CurrentID: current})
	}
	s.emit(events...)
	return nil
}

// UpdateMessageStatus changes the status of one message in place.
//
//   - StatusSending clears the error text and keeps retry data.
//   - StatusError sets the error text; the message must already carry
//     retry data.
//   - StatusSuccess clears the error text and drops retry data.
//
// Unknown conversations and messages leave the store untouched.
func (s *Store) UpdateMessageStatus(conversationID, messageID string, status model.Status, errText string) error {
	return s.mutateMessage(conversationID, messageID, func(m *model.Message) error {
		switch status {
		case model.StatusSending:
			m.Status = model.StatusSending
			m.Error = ""
		case model.StatusError:
			if m.RetryData == nil {
				return ErrInvalidTransition
			}
			m.Status = model.StatusError
			m.Error = errText
		case model.StatusSuccess:
			m.Status = model.StatusSuccess
			m.Error = ""
			m.RetryData = nil
		default:
			return ErrInvalidTransition
		}
		return nil
	})
}

// ResolveRetry turns a retried message into a genuine reply: same id, new
// content, status success, no error and no retry data.
func (s *Store) ResolveRetry(conversationID, messageID string, content model.Content) error {
	return s.mutateMessage(conversationID, messageID, func(m *model.Message) error {
		m.Content = content.Clone()
		m.Status = model.StatusSuccess
		m.Error = ""
		m.RetryData = nil
		m.Timestamp = time.Now()
		return nil
	})
}

// FailRetry records another failed attempt on a retried message: status
// error with the new error text, retry data kept.
func (s *Store) FailRetry(conversationID, messageID, errText string) error {
	return s.UpdateMessageStatus(conversationID, messageID, model.StatusError, errText)
}

func (s *Store) mutateMessage(conversationID, messageID string, fn func(*model.Message) error) error {
	s.mu.Lock()
	conv, ok := s.byID[conversationID]
	if !ok {
		s.mu.Unlock()
		return notFound(ErrConversationNotFound, conversationID)
	}
	msg, _ := conv.FindMessage(messageID)
	if msg == nil {
		s.mu.Unlock()
		return notFound(ErrMessageNotFound, messageID)
	}

	// Apply to a copy so a rejected transition changes nothing.
	next := msg.Clone()
	if err := fn(next); err != nil {
		s.mu.Unlock()
		return err
	}
	*msg = *next
	conv.Touch()
	current := s.current
	status := msg.Status
	s.mu.Unlock()

	s.log.Debug("message_updated",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", messageID),
		zap.String("status", string(status)),
	)
	s.emit(Event{Kind: EventMessageUpdated, ConversationID: conversationID, MessageID: messageID, CurrentID: current})
	return nil
}

// =============================================================================
// QUERIES
// =============================================================================

// Conversations returns copies of all conversations, newest first.
func (s *Store) Conversations() []*model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Conversation, len(s.convs))
	for i, c := range s.convs {
		out[i] = c.Clone()
	}
	return out
}

// Conversation returns a copy of one conversation.
func (s *Store) Conversation(id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.byID[id]
	if !ok {
		return nil, notFound(ErrConversationNotFound, id)
	}
	return conv.Clone(), nil
}

// Has reports whether a conversation exists.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byID[id]
	return ok
}

// Message returns a copy of one message.
func (s *Store) Message(conversationID, messageID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.byID[conversationID]
	if !ok {
		return nil, notFound(ErrConversationNotFound, conversationID)
	}
	msg, _ := conv.FindMessage(messageID)
	if msg == nil {
		return nil, notFound(ErrMessageNotFound, messageID)
	}
	return msg.Clone(), nil
}

// CurrentID returns the id of the current conversation, or "".
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Current returns a copy of the current conversation, or nil.
func (s *Store) Current() *model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if conv, ok := s.byID[s.current]; ok {
		return conv.Clone()
	}
	return nil
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// Snapshot returns a consistent copy of the whole collection and the
// current selection.
func (s *Store) Snapshot() ([]*model.Conversation, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Conversation, len(s.convs))
	for i, c := range s.convs {
		out[i] = c.Clone()
	}
	return out, s.current
}

// =============================================================================
// RESTORE
// =============================================================================

// Restore replaces the collection with persisted state. No events are
// emitted. Duplicate ids are dropped, and retries that were in flight when
// the state was saved become retryable errors again. An unknown currentID
// falls back to the first conversation.
func (s *Store) Restore(convs []*model.Conversation, currentID string) {
	byID := make(map[string]*model.Conversation, len(convs))
	list := make([]*model.Conversation, 0, len(convs))
	for _, c := range convs {
		if c == nil || c.ID == "" {
			continue
		}
		if _, dup := byID[c.ID]; dup {
			s.log.Warn("restore_duplicate_conversation", zap.String("conversation_id", c.ID))
			continue
		}
		c = c.Clone()
		if c.Messages == nil {
			c.Messages = make([]*model.Message, 0)
		}
		if c.Title == "" {
			c.Title = model.PlaceholderTitle
		}
		kept := c.Messages[:0]
		for _, m := range c.Messages {
			if m == nil {
				continue
			}
			switch {
			case m.RetryData != nil && m.Status != model.StatusError:
				m.Status = model.StatusError
				m.Error = InterruptedError
			case !m.Status.Valid():
				m.Status = model.StatusSuccess
			}
			kept = append(kept, m)
		}
		c.Messages = kept
		byID[c.ID] = c
		list = append(list, c)
	}

	if _, ok := byID[currentID]; !ok {
		currentID = ""
		if len(list) > 0 {
			currentID = list[0].ID
		}
	}

	s.mu.Lock()
	s.convs = list
	s.byID = byID
	s.current = currentID
	s.mu.Unlock()

	s.log.Info("store_restored", zap.Int("conversations", len(list)), zap.String("current_id", currentID))
}
