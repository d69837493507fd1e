// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package persist

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/jeranaias/sessionchat/internal/metrics"
	"github.com/jeranaias/sessionchat/internal/model"
)

// State reads and writes the four persisted documents as typed values.
// Loads never fail: missing, malformed or unreadable data is logged and
// treated as absent.
type State struct {
	backend Backend
	metrics *metrics.Metrics
	log     *zap.Logger
}

// NewState wraps backend. m and log may be nil.
func NewState(backend Backend, m *metrics.Metrics, log *zap.Logger) *State {
	if log == nil {
		log = zap.NewNop()
	}
	return &State{backend: backend, metrics: m, log: log}
}

// Backend returns the underlying backend.
func (s *State) Backend() Backend {
	return s.backend
}

// =============================================================================
// LOADERS
// =============================================================================

// LoadConversations returns the persisted conversations, newest first, or
// nil.
func (s *State) LoadConversations(ctx context.Context) []*model.Conversation {
	var convs []*model.Conversation
	if !s.load(ctx, KeyConversations, &convs) {
		return nil
	}
	return convs
}

// LoadSettings returns the persisted settings. ok is false when nothing
// usable was stored.
func (s *State) LoadSettings(ctx context.Context) (settings model.ChatSettings, ok bool) {
	ok = s.load(ctx, KeySettings, &settings)
	return settings, ok
}

// LoadCurrent returns the persisted current conversation id, or "".
func (s *State) LoadCurrent(ctx context.Context) string {
	var id *string
	if !s.load(ctx, KeyCurrent, &id) || id == nil {
		return ""
	}
	return *id
}

// LoadCatalog returns the persisted model list, or nil.
func (s *State) LoadCatalog(ctx context.Context) []model.ModelData {
	var list []model.ModelData
	if !s.load(ctx, KeyCatalog, &list) {
		return nil
	}
	return list
}

func (s *State) load(ctx context.Context, key string, dst interface{}) bool {
	data, ok, err := s.backend.Load(ctx, key)
	if err != nil {
		s.metrics.ObserveStorageError("load")
		s.log.Warn("state_load_failed", zap.String("key", key), zap.Error(err))
		return false
	}
	if !ok || len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.metrics.ObserveStorageError("decode")
		s.log.Warn("state_malformed", zap.String("key", key), zap.Int("bytes", len(data)), zap.Error(err))
		return false
	}
	return true
}

// =============================================================================
// WRITERS
// =============================================================================

// Encode marshals one document for key.
func Encode(key string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &StorageError{Op: "encode", Key: key, Err: err}
	}
	return data, nil
}

// SaveConversations writes the whole collection.
func (s *State) SaveConversations(ctx context.Context, convs []*model.Conversation) error {
	if convs == nil {
		convs = []*model.Conversation{}
	}
	return s.save(ctx, KeyConversations, convs)
}

// SaveSettings writes the settings document.
func (s *State) SaveSettings(ctx context.Context, settings model.ChatSettings) error {
	return s.save(ctx, KeySettings, settings)
}

// SaveCurrent writes the current conversation id. An empty id is stored
// as null.
func (s *State) SaveCurrent(ctx context.Context, id string) error {
	if id == "" {
		return s.save(ctx, KeyCurrent, nil)
	}
	return s.save(ctx, KeyCurrent, id)
}

// SaveCatalog writes the model list.
func (s *State) SaveCatalog(ctx context.Context, list []model.ModelData) error {
	if list == nil {
		list = []model.ModelData{}
	}
	return s.save(ctx, KeyCatalog, list)
}

func (s *State) save(ctx context.Context, key string, v interface{}) error {
	data, err := Encode(key, v)
	if err != nil {
		return err
	}
	return s.write(ctx, key, data)
}

func (s *State) write(ctx context.Context, key string, data []byte) error {
	if err := s.backend.Save(ctx, key, data); err != nil {
		s.metrics.ObserveStorageError("save")
		var serr *StorageError
		if !errors.As(err, &serr) {
			err = &StorageError{Op: "save", Key: key, Err: err}
		}
		return err
	}
	s.metrics.ObserveStorageWrite()
	s.log.Debug("state_saved", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}
