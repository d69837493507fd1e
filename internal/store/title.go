// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// MaxTitleRunes is the title length before the truncation marker.
	MaxTitleRunes = 30

	// TitleTruncationMarker is appended to cut titles.
	TitleTruncationMarker = "..."

	// UntitledTitle is used when nothing of the first message survives
	// normalization.
	UntitledTitle = "UNTITLED.SESSION"
)

var upper = cases.Upper(language.Und)

// DeriveTitle turns the first user message into a conversation title.
//
// The text is uppercased and reduced to A-Z, 0-9, space and . - _ ? !
// Whitespace runs collapse to one space. Titles longer than MaxTitleRunes
// are cut and get TitleTruncationMarker appended.
func DeriveTitle(text string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range upper.String(text) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case allowedTitleRune(r):
			b.WriteRune(r)
			lastSpace = false
		}
	}

	title := strings.TrimSpace(b.String())
	if title == "" {
		return UntitledTitle
	}
	runes := []rune(title)
	if len(runes) > MaxTitleRunes {
		return strings.TrimRight(string(runes[:MaxTitleRunes]), " ") + TitleTruncationMarker
	}
	return title
}

func allowedTitleRune(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune(".-_?!", r)
}
