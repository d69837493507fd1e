// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// MODEL DATA TYPE
// =============================================================================

// Pricing holds per-unit costs as the provider sends them: decimal strings.
type Pricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
	Image      string `json:"image,omitempty"`
	Request    string `json:"request,omitempty"`
}

// Architecture describes what a model accepts and produces.
type Architecture struct {
	Modality         string   `json:"modality,omitempty"`
	InputModalities  []string `json:"input_modalities,omitempty"`
	OutputModalities []string `json:"output_modalities,omitempty"`
}

// TopProvider describes the provider currently serving a model.
type TopProvider struct {
	ContextLength       int  `json:"context_length,omitempty"`
	MaxCompletionTokens int  `json:"max_completion_tokens,omitempty"`
	IsModerated         bool `json:"is_moderated"`
}

// ModelData is one entry of the remote model catalog.
type ModelData struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	ContextLength int          `json:"context_length"`
	Pricing       Pricing      `json:"pricing"`
	Architecture  Architecture `json:"architecture"`
	TopProvider   TopProvider  `json:"top_provider"`
}

// DisplayName returns the human-readable name, falling back to the ID.
func (m ModelData) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// IsFree reports whether both prompt and completion cost zero.
// Unparseable prices are never free.
func (m ModelData) IsFree() bool {
	return isZeroPrice(m.Pricing.Prompt) && isZeroPrice(m.Pricing.Completion)
}

// SupportsVision reports whether the model accepts image input.
func (m ModelData) SupportsVision() bool {
	for _, mod := range m.Architecture.InputModalities {
		if strings.EqualFold(mod, "image") {
			return true
		}
	}
	if len(m.Architecture.InputModalities) == 0 && m.Architecture.Modality != "" {
		// Legacy form: "text+image->text".
		in, _, _ := strings.Cut(m.Architecture.Modality, "->")
		for _, mod := range strings.Split(in, "+") {
			if strings.EqualFold(strings.TrimSpace(mod), "image") {
				return true
			}
		}
	}
	return false
}

// IsModerated reports whether the serving provider moderates content.
func (m ModelData) IsModerated() bool {
	return m.TopProvider.IsModerated
}

// CapabilitiesString returns a short human-readable summary.
func (m ModelData) CapabilitiesString() string {
	var caps []string
	if m.IsFree() {
		caps = append(caps, "Free")
	}
	if m.SupportsVision() {
		caps = append(caps, "Vision")
	}
	if m.IsModerated() {
		caps = append(caps, "Moderated")
	}
	if m.ContextLength > 0 {
		caps = append(caps, formatContext(m.ContextLength))
	}
	if len(caps) == 0 {
		return "General purpose"
	}
	return strings.Join(caps, ", ")
}

func isZeroPrice(s string) bool {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil && f == 0
}

func formatContext(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%dK context", n/1000)
	}
	return fmt.Sprintf("%d context", n)
}

// =============================================================================
// CHAT SETTINGS
// =============================================================================

// ChatSettings is the process-wide configuration used for every send.
type ChatSettings struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	Persona string `json:"persona"`
}

// HasAPIKey reports whether a credential is configured.
func (s ChatSettings) HasAPIKey() bool {
	return strings.TrimSpace(s.APIKey) != ""
}

// HasModel reports whether a model is selected.
func (s ChatSettings) HasModel() bool {
	return strings.TrimSpace(s.Model) != ""
}
