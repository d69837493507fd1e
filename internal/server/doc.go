// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the chat engine over HTTP and a websocket event
// stream.
//
// # Endpoints
//
//   - GET    /health                                       - Health check
//   - GET    /metrics                                      - Prometheus metrics (optional)
//   - GET    /api/conversations?q=                         - List or search conversations
//   - POST   /api/conversations                            - Create a conversation
//   - GET    /api/conversations/{id}                       - Full conversation
//   - DELETE /api/conversations/{id}                       - Delete a conversation
//   - GET    /api/conversations/{id}/export                - Markdown export
//   - POST   /api/conversations/{id}/messages              - Send a message
//   - POST   /api/conversations/{id}/messages/{mid}/retry  - Retry a failed reply
//   - POST   /api/conversations/{id}/retry                 - Retry the latest failed reply
//   - GET    /api/current, PUT /api/current                - Current selection
//   - GET    /api/models?q=&free=&vision=&moderated=       - Filtered catalog
//   - POST   /api/models/refresh                           - Refresh the catalog
//   - GET    /api/settings, PUT /api/settings              - Chat settings (key masked)
//   - GET    /api/logs?level=&limit=                       - Recent log entries
//   - GET    /api/events                                   - WebSocket event stream
//
// Provider failures are not HTTP errors: a send that fails upstream still
// returns 201 with a message whose status is "error" and which carries
// retry data.
//
// # Middleware
//
//   - Request IDs and real client IPs (chi)
//   - zap request logging and panic recovery
//   - Optional Bearer token and per-IP rate limiting on /api
//   - Security headers
package server
