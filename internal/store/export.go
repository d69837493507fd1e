// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/util"
)

// ConversationMeta summarizes a conversation for listings.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	FailedCount  int       `json:"failed_count"`
	Preview      string    `json:"preview"`
	Current      bool      `json:"current"`
}

// List returns metadata for every conversation, in collection order.
func (s *Store) List() []ConversationMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	metas := make([]ConversationMeta, 0, len(s.convs))
	for _, c := range s.convs {
		metas = append(metas, metaOf(c, c.ID == s.current))
	}
	return metas
}

// Search returns conversations whose title or any message text contains
// query, case-insensitively. An empty query matches everything.
func (s *Store) Search(query string) []ConversationMeta {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.List()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]ConversationMeta, 0)
	for _, c := range s.convs {
		if strings.Contains(strings.ToLower(c.Title), query) {
			results = append(results, metaOf(c, c.ID == s.current))
			continue
		}
		for _, m := range c.Messages {
			if strings.Contains(strings.ToLower(m.Text()), query) {
				results = append(results, metaOf(c, c.ID == s.current))
				break
			}
		}
	}
	return results
}

func metaOf(c *model.Conversation, current bool) ConversationMeta {
	meta := ConversationMeta{
		ID:           c.ID,
		Title:        c.Title,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: len(c.Messages),
		Current:      current,
	}
	for _, m := range c.Messages {
		if m.IsError() {
			meta.FailedCount++
		}
		if meta.Preview == "" && m.Role == model.RoleUser {
			meta.Preview = util.TruncateRunes(util.SingleLine(m.Text()), 80)
		}
	}
	return meta
}

// ExportMarkdown renders a conversation as Markdown. Failed turns are
// rendered with their error text.
func (s *Store) ExportMarkdown(id string) (string, error) {
	conv, err := s.Conversation(id)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("# " + conv.Title + "\n\n")
	sb.WriteString("Created: " + conv.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range conv.Messages {
		sb.WriteString("**" + msg.Role.DisplayName() + "** (" + msg.Timestamp.Format("15:04") + "):\n\n")
		if msg.IsError() {
			sb.WriteString("> Error: " + msg.Error + "\n")
		} else {
			sb.WriteString(msg.Text())
			sb.WriteString("\n")
		}
		if n := len(msg.Images()); n > 0 {
			sb.WriteString("\n_" + pluralImages(n) + " attached_\n")
		}
		sb.WriteString("\n---\n\n")
	}
	return sb.String(), nil
}

func pluralImages(n int) string {
	if n == 1 {
		return "1 image"
	}
	return strconv.Itoa(n) + " images"
}
