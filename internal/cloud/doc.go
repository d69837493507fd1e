// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the OpenRouter transport for the chat engine.
//
// OpenRouter exposes many LLM providers behind one chat-completions API.
// This package fetches the model catalog and posts completion requests,
// and classifies every failure as either a TransportError (no response)
// or a ProtocolError (an unusable response).
//
// # Key Types
//
//   - Client: HTTP client with rate limiting and a per-call credential
//   - ChatRequest, ChatMessage: Completion request body
//   - ChatResponse: Completion response with Content accessor
//   - TransportError, ProtocolError: Failure taxonomy
//
// # Usage
//
//	client := cloud.NewClient(cloud.Options{RequestsPerSecond: 5, Burst: 10})
//	resp, err := client.Complete(ctx, apiKey, cloud.ChatRequest{
//	    Model:    "openai/gpt-4o",
//	    Messages: []cloud.ChatMessage{{Role: "user", Content: model.TextContent("Hello")}},
//	})
//	if errors.Is(err, cloud.ErrAuthFailed) {
//	    // prompt for a new key
//	}
//
// # Security
//
// API keys are never logged. KeyFingerprint gives a stable, non-reversible
// identifier for log correlation.
package cloud
