// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings holds the process-wide chat settings.
//
// Settings change only through Update. Every change is published to
// subscribers, which is how the persistence mirror learns to save them.
// Readers always get a copy, so a send that started with one model keeps
// it even if the user switches models mid-flight.
package settings

import (
	"strings"
	"sync"

	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/util"
)

// Holder owns the current ChatSettings.
type Holder struct {
	mu        sync.RWMutex
	current   model.ChatSettings
	observers util.Observers[model.ChatSettings]
}

// New creates a holder with initial settings.
func New(initial model.ChatSettings) *Holder {
	return &Holder{current: normalize(initial)}
}

// Get returns a copy of the current settings.
func (h *Holder) Get() model.ChatSettings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Update applies fn to a copy of the settings and stores the result.
// Subscribers are notified only when something changed.
func (h *Holder) Update(fn func(*model.ChatSettings)) model.ChatSettings {
	h.mu.Lock()
	next := h.current
	fn(&next)
	next = normalize(next)
	changed := next != h.current
	h.current = next
	h.mu.Unlock()

	if changed {
		h.observers.Notify(next)
	}
	return next
}

// SetModelIfEmpty selects modelID unless a model is already chosen. It
// reports whether the selection was made.
func (h *Holder) SetModelIfEmpty(modelID string) bool {
	applied := false
	h.Update(func(s *model.ChatSettings) {
		if !s.HasModel() && modelID != "" {
			s.Model = modelID
			applied = true
		}
	})
	return applied
}

// Restore replaces the settings with persisted values without notifying
// subscribers.
func (h *Holder) Restore(s model.ChatSettings) {
	h.mu.Lock()
	h.current = normalize(s)
	h.mu.Unlock()
}

// Subscribe registers fn for settings changes.
func (h *Holder) Subscribe(fn func(model.ChatSettings)) (unsubscribe func()) {
	return h.observers.Subscribe(fn)
}

func normalize(s model.ChatSettings) model.ChatSettings {
	s.APIKey = strings.TrimSpace(s.APIKey)
	s.Model = strings.TrimSpace(s.Model)
	return s
}
