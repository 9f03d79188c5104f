// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package postprocess

import (
	"strings"
	"unicode/utf8"
)

// =============================================================================
// CHUNKING
// =============================================================================

// DefaultChunkLimit is the maximum size of one delivered chunk.
const DefaultChunkLimit = 2000

// Chunk splits s into pieces of at most limit bytes, preferring natural
// boundaries. Split priority: paragraph break past 50% of the limit,
// newline past 50%, sentence end past 30%, space past 30%, hard cut as
// the last resort. Boundary characters stay at the tail of the earlier
// chunk, so strings.Join(chunks, "") == s. Words are only ever cut when
// no boundary exists in the window at all.
func Chunk(s string, limit int) []string {
	if limit <= 0 {
		limit = DefaultChunkLimit
	}
	if len(s) <= limit {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	var chunks []string
	rest := s
	for len(rest) > limit {
		cut := splitPoint(rest, limit)
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// splitPoint returns where to cut window rest[:limit]. The returned
// index is exclusive and boundary characters land in the left piece.
func splitPoint(rest string, limit int) int {
	window := rest[:limit]

	// Paragraph break past the midpoint.
	if i := strings.LastIndex(window, "\n\n"); i >= limit/2 {
		return i + 2
	}
	// Any newline past the midpoint.
	if i := strings.LastIndexByte(window, '\n'); i >= limit/2 {
		return i + 1
	}
	// Sentence end past 30%.
	if i := lastSentenceEnd(window); i >= limit*3/10 {
		return i
	}
	// Space past 30%.
	if i := strings.LastIndexByte(window, ' '); i >= limit*3/10 {
		return i + 1
	}
	// Hard cut, backed up so a multi-byte rune is never split.
	cut := limit
	for cut > 0 && !utf8.RuneStart(rest[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}

// lastSentenceEnd returns the index just after the last ". ", "! " or
// "? " in window, or -1.
func lastSentenceEnd(window string) int {
	best := -1
	for _, sep := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(window, sep); i >= 0 && i+len(sep) > best {
			best = i + len(sep)
		}
	}
	return best
}
