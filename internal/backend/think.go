// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import "strings"

// =============================================================================
// THINKING SPLITTER
// =============================================================================

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// SplitThinking separates a reasoning model's scratch work from its
// answer. Text between <think> and </think> is the thinking segment;
// text after </think> is the answer. With no markers the whole input is
// the answer. Stray unpaired markers are stripped rather than leaked.
func SplitThinking(s string) (thinking, answer string) {
	open := strings.Index(s, thinkOpen)
	end := strings.Index(s, thinkClose)

	switch {
	case open >= 0 && end > open:
		thinking = strings.TrimSpace(s[open+len(thinkOpen) : end])
		answer = strings.TrimSpace(s[:open] + s[end+len(thinkClose):])
	case end >= 0:
		// Close without open: everything before it was thinking.
		thinking = strings.TrimSpace(s[:end])
		answer = strings.TrimSpace(s[end+len(thinkClose):])
	case open >= 0:
		// Open without close: the model never finished thinking.
		thinking = strings.TrimSpace(s[open+len(thinkOpen):])
		answer = strings.TrimSpace(s[:open])
	default:
		answer = strings.TrimSpace(s)
	}

	answer = strings.ReplaceAll(answer, thinkOpen, "")
	answer = strings.ReplaceAll(answer, thinkClose, "")
	return thinking, strings.TrimSpace(answer)
}
