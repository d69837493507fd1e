// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jeranaias/sessionchat/internal/catalog"
	"github.com/jeranaias/sessionchat/internal/model"
	"github.com/jeranaias/sessionchat/internal/pipeline"
	"github.com/jeranaias/sessionchat/internal/store"
	"github.com/jeranaias/sessionchat/internal/util"
)

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	Conversations int    `json:"conversations"`
	Models        int    `json:"models"`
	CatalogStale  bool   `json:"catalog_stale"`
	HasAPIKey     bool   `json:"has_api_key"`
	Model         string `json:"model"`
	Subscribers   int    `json:"subscribers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.app.Settings.Get()
	health := HealthResponse{
		Status:        "ok",
		Version:       s.opts.Version,
		Uptime:        time.Since(s.started).Truncate(time.Second).String(),
		Conversations: s.app.Store.Len(),
		Models:        s.app.Catalog.Len(),
		CatalogStale:  s.app.Catalog.Stale(),
		HasAPIKey:     cfg.HasAPIKey(),
		Model:         cfg.Model,
		Subscribers:   s.hub.Clients(),
	}
	if health.CatalogStale || !health.HasAPIKey {
		health.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, health)
}

// ============================================================================
// CONVERSATIONS
// ============================================================================

// ConversationList is the body of GET /api/conversations.
type ConversationList struct {
	Conversations []store.ConversationMeta `json:"conversations"`
	CurrentID     string                   `json:"current_id"`
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	var metas []store.ConversationMeta
	if q := r.URL.Query().Get("q"); q != "" {
		metas = s.app.Store.Search(q)
	} else {
		metas = s.app.Store.List()
	}
	writeJSON(w, http.StatusOK, ConversationList{Conversations: metas, CurrentID: s.app.Store.CurrentID()})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, s.app.Store.CreateConversation())
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.app.Store.Conversation(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.app.Store.Has(id) {
		writeError(w, http.StatusNotFound, "conversation not found: "+id)
		return
	}
	s.app.Store.DeleteConversation(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportConversation(w http.ResponseWriter, r *http.Request) {
	md, err := s.app.Store.ExportMarkdown(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(md))
}

// CurrentRequest is the body of PUT /api/current.
type CurrentRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleGetCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, CurrentRequest{ID: s.app.Store.CurrentID()})
}

func (s *Server) handleSetCurrent(w http.ResponseWriter, r *http.Request) {
	var req CurrentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.app.Store.SetCurrent(req.ID); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CurrentRequest{ID: s.app.Store.CurrentID()})
}

// ============================================================================
// MESSAGES
// ============================================================================

// SendMessageRequest is the body of POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"`
}

// MessageResponse wraps the message produced by a send or retry. The
// message may itself be a failed reply carrying retry data.
type MessageResponse struct {
	ConversationID string         `json:"conversation_id"`
	Message        *model.Message `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req SendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := s.app.Pipeline.Send(r.Context(), pipeline.SendRequest{
		ConversationID: id,
		Text:           req.Text,
		Images:         req.Images,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{ConversationID: id, Message: msg})
}

func (s *Server) handleRetryMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg, err := s.app.Pipeline.Retry(r.Context(), id, chi.URLParam(r, "messageID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{ConversationID: id, Message: msg})
}

func (s *Server) handleRetryLatest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg, err := s.app.Pipeline.RetryLatest(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{ConversationID: id, Message: msg})
}

// ============================================================================
// MODELS
// ============================================================================

// ModelInfo is one entry of GET /api/models.
type ModelInfo struct {
	model.ModelData
	Capabilities catalog.Capabilities `json:"capabilities"`
}

// ModelsResponse is the body of GET /api/models and POST /api/models/refresh.
type ModelsResponse struct {
	Models   []ModelInfo `json:"models"`
	Count    int         `json:"count"`
	Total    int         `json:"total"`
	Stale    bool        `json:"stale"`
	Selected string      `json:"selected"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f catalog.Filters
	for name, dst := range map[string]*bool{
		"free":      &f.FreeOnly,
		"vision":    &f.VisionOnly,
		"moderated": &f.ModeratedOnly,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid boolean", Field: name})
			return
		}
		*dst = v
	}

	all := s.app.Catalog.Models()
	writeJSON(w, http.StatusOK, s.modelsResponse(catalog.Filter(all, q.Get("q"), f), len(all)))
}

func (s *Server) handleRefreshModels(w http.ResponseWriter, r *http.Request) {
	list, err := s.app.Catalog.Refresh(r.Context())
	if err != nil {
		var ferr *catalog.CatalogFetchError
		if errors.As(err, &ferr) {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: ferr.Error(), Stale: true})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.modelsResponse(list, len(list)))
}

func (s *Server) modelsResponse(list []model.ModelData, total int) ModelsResponse {
	infos := make([]ModelInfo, len(list))
	for i, m := range list {
		infos[i] = ModelInfo{
			ModelData: m,
			Capabilities: catalog.Capabilities{
				SupportsVision: m.SupportsVision(),
				IsFree:         m.IsFree(),
				IsModerated:    m.IsModerated(),
			},
		}
	}
	return ModelsResponse{
		Models:   infos,
		Count:    len(infos),
		Total:    total,
		Stale:    s.app.Catalog.Stale(),
		Selected: s.app.Settings.Get().Model,
	}
}

// ============================================================================
// SETTINGS
// ============================================================================

// SettingsView is ChatSettings with the credential masked.
type SettingsView struct {
	APIKey    string `json:"api_key"`
	HasAPIKey bool   `json:"has_api_key"`
	Model     string `json:"model"`
	Persona   string `json:"persona"`
}

func viewSettings(s model.ChatSettings) SettingsView {
	return SettingsView{
		APIKey:    util.MaskSecret(s.APIKey),
		HasAPIKey: s.HasAPIKey(),
		Model:     s.Model,
		Persona:   s.Persona,
	}
}

// SettingsUpdate is the body of PUT /api/settings. Absent fields are left
// unchanged.
type SettingsUpdate struct {
	APIKey  *string `json:"api_key"`
	Model   *string `json:"model"`
	Persona *string `json:"persona"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewSettings(s.app.Settings.Get()))
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Model != nil && strings.TrimSpace(*req.Model) == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "model must not be empty", Field: "model"})
		return
	}
	updated := s.app.Settings.Update(func(cs *model.ChatSettings) {
		if req.APIKey != nil {
			cs.APIKey = *req.APIKey
		}
		if req.Model != nil {
			cs.Model = *req.Model
		}
		if req.Persona != nil {
			cs.Persona = *req.Persona
		}
	})
	writeJSON(w, http.StatusOK, viewSettings(updated))
}

// ============================================================================
// LOGS
// ============================================================================

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer", Field: "limit"})
			return
		}
		limit = v
	}
	if limit > MaxLogEntries {
		limit = MaxLogEntries
	}
	entries, err := s.app.Log.Recent(r.URL.Query().Get("level"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
