// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jeranaias/sessionchat/internal/app"
	"github.com/jeranaias/sessionchat/internal/codec"
	"github.com/jeranaias/sessionchat/internal/pipeline"
	"github.com/jeranaias/sessionchat/internal/store"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:8787"

	// MaxRequestBodySize bounds JSON bodies. Sends may carry several
	// base64 images.
	MaxRequestBodySize = 4*codec.MaxImageSize + 1024*1024

	// MaxLogEntries caps GET /api/logs.
	MaxLogEntries = 500
)

// Options configures a Server.
type Options struct {
	// Addr is the listen address. Default: DefaultAddr
	Addr string

	// AuthToken, when set, is required on /api routes.
	AuthToken string

	// RequestsPerMinute limits each client IP on /api routes (0 = unlimited).
	RequestsPerMinute int

	// MetricsEnabled exposes GET /metrics.
	MetricsEnabled bool

	// Version is reported by /health.
	Version string
}

// Server is the HTTP and websocket front end of an App.
type Server struct {
	app     *app.App
	opts    Options
	router  chi.Router
	hub     *Hub
	server  *http.Server
	log     *zap.Logger
	started time.Time
}

// New creates a Server over a. The hub starts listening to a's components
// immediately.
func New(a *app.App, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	s := &Server{
		app:     a,
		opts:    opts,
		log:     a.Log.Module("server"),
		started: time.Now(),
	}
	s.hub = NewHub(a.Log.Module("ws"))
	s.hub.Attach(a.Store, a.Catalog, a.Settings)
	s.setupRoutes()
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.opts.Addr
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware(s.log))
	r.Use(RecoveryMiddleware(s.log))
	r.Use(SecurityHeadersMiddleware())

	r.Get("/health", s.handleHealth)
	if s.opts.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", s.app.Metrics.Handler())
	}

	var limiter *RateLimiter
	if s.opts.RequestsPerMinute > 0 {
		limiter = NewRateLimiter(s.opts.RequestsPerMinute)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(AuthMiddleware(s.opts.AuthToken, s.log))
		api.Use(RateLimitMiddleware(limiter, s.log))

		api.Route("/conversations", func(c chi.Router) {
			c.Get("/", s.handleListConversations)
			c.Post("/", s.handleCreateConversation)
			c.Route("/{id}", func(one chi.Router) {
				one.Get("/", s.handleGetConversation)
				one.Delete("/", s.handleDeleteConversation)
				one.Get("/export", s.handleExportConversation)
				one.Post("/messages", s.handleSendMessage)
				one.Post("/messages/{messageID}/retry", s.handleRetryMessage)
				one.Post("/retry", s.handleRetryLatest)
			})
		})
		api.Get("/current", s.handleGetCurrent)
		api.Put("/current", s.handleSetCurrent)

		api.Get("/models", s.handleListModels)
		api.Post("/models/refresh", s.handleRefreshModels)

		api.Get("/settings", s.handleGetSettings)
		api.Put("/settings", s.handleUpdateSettings)

		api.Get("/logs", s.handleLogs)
		api.Get("/events", s.hub.ServeHTTP)
	})

	s.router = r
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves until Shutdown is called. It returns nil after a
// clean shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("server_start", zap.String("addr", s.opts.Addr), zap.String("version", s.opts.Version))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects websocket clients and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	s.log.Info("server_shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
	Stale bool   `json:"stale,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// decodeBody decodes a bounded JSON body into dst and writes a 400 or 413
// on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// writeEngineError maps pipeline and store errors onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var verr *pipeline.ValidationError
	switch {
	case errors.Is(err, store.ErrConversationNotFound), errors.Is(err, store.ErrMessageNotFound):
		resp := ErrorResponse{Error: err.Error()}
		if errors.As(err, &verr) {
			resp.Field = verr.Field
		}
		writeJSON(w, http.StatusNotFound, resp)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
