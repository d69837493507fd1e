// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"errors"
	"fmt"

	"github.com/jeranaias/sessionchat/internal/cloud"
)

// ValidationError rejects a send or retry before anything is changed.
type ValidationError struct {
	Field   string
	Message string

	// Err is the underlying cause, if any (for example
	// store.ErrConversationNotFound).
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// DescribeError turns a completion failure into the text shown on the
// failed message.
func DescribeError(err error) string {
	if err == nil {
		return ""
	}
	if cloud.IsContextError(err) {
		return "Request timed out before a reply arrived"
	}
	if cloud.IsTransport(err) {
		return "Network error: could not reach the model provider"
	}

	var pe *cloud.ProtocolError
	if !errors.As(err, &pe) {
		return "Request failed: " + err.Error()
	}

	switch {
	case errors.Is(err, cloud.ErrAuthFailed):
		return fmt.Sprintf("Authentication failed: check your API key (HTTP %d)", pe.Status)
	case errors.Is(err, cloud.ErrInsufficientCredits):
		return fmt.Sprintf("Insufficient credits: add credits to your account (HTTP %d)", pe.Status)
	case errors.Is(err, cloud.ErrModelNotFound):
		return fmt.Sprintf("Model not found: select another model (HTTP %d)", pe.Status)
	case errors.Is(err, cloud.ErrRateLimited):
		return fmt.Sprintf("Rate limited: wait a moment, then retry (HTTP %d)", pe.Status)
	case errors.Is(err, cloud.ErrServerError):
		return fmt.Sprintf("The model provider is having trouble (HTTP %d)", pe.Status)
	case errors.Is(err, cloud.ErrMalformedResponse):
		return "Unexpected response from the model provider"
	case pe.Message != "":
		return fmt.Sprintf("Request failed (HTTP %d): %s", pe.Status, pe.Message)
	default:
		return fmt.Sprintf("Request failed (HTTP %d)", pe.Status)
	}
}
