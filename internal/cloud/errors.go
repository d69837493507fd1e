// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common provider failures. Match with errors.Is.
var (
	// ErrAuthFailed indicates an invalid or expired API key.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrInsufficientCredits indicates the account cannot pay for the request.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrModelNotFound indicates the requested model does not exist.
	ErrModelNotFound = errors.New("model not found")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")

	// ErrServerError indicates a 5xx from the provider.
	ErrServerError = errors.New("provider server error")

	// ErrMalformedResponse indicates a 2xx body without usable content.
	ErrMalformedResponse = errors.New("malformed response")
)

// TransportError is a failure to get any HTTP response at all.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

// Unwrap returns the underlying network error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError is a response that arrived but cannot be used: a non-2xx
// status, or a 2xx body without the expected fields.
type ProtocolError struct {
	Status  int
	Code    string
	Message string

	// Kind is one of the sentinel errors above, or nil.
	Kind error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("OpenRouter error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	case e.Message != "":
		return fmt.Sprintf("OpenRouter error (HTTP %d): %s", e.Status, e.Message)
	default:
		return fmt.Sprintf("OpenRouter error (HTTP %d)", e.Status)
	}
}

// Unwrap exposes the sentinel kind so errors.Is works.
func (e *ProtocolError) Unwrap() error {
	return e.Kind
}

// kindForStatus maps an HTTP status to a sentinel error.
func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthFailed
	case status == http.StatusPaymentRequired:
		return ErrInsufficientCredits
	case status == http.StatusNotFound:
		return ErrModelNotFound
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	case status >= 500:
		return ErrServerError
	default:
		return nil
	}
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// StatusOf returns the HTTP status carried by a ProtocolError, or 0.
func StatusOf(err error) int {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Status
	}
	return 0
}
