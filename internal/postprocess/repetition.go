// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package postprocess

import (
	"regexp"
	"strings"
)

// =============================================================================
// REPETITION GUARD
// =============================================================================

const (
	// phraseLen is the sliding window, in words, used to detect loops.
	phraseLen = 10

	// maxPhraseRepeats is how often one phrase may appear before the
	// response is treated as degenerate output.
	maxPhraseRepeats = 3

	// keepSentences is how much of a looping response survives.
	keepSentences = 5
)

var sentenceEnd = regexp.MustCompile(`([.!?])\s+`)

// TruncateRepetition detects looping output. When any phrase of
// phraseLen words occurs more than maxPhraseRepeats times, the response
// is cut to its first keepSentences sentences. The returned flag tells
// the caller not to persist the turn.
func TruncateRepetition(s string) (string, bool) {
	words := strings.Fields(s)
	if len(words) < phraseLen*2 {
		return s, false
	}

	counts := make(map[string]int)
	looping := false
	for i := 0; i+phraseLen <= len(words); i++ {
		phrase := strings.ToLower(strings.Join(words[i:i+phraseLen], " "))
		counts[phrase]++
		if counts[phrase] > maxPhraseRepeats {
			looping = true
			break
		}
	}
	if !looping {
		return s, false
	}
	return firstSentences(s, keepSentences), true
}

func firstSentences(s string, n int) string {
	// Split keeping the terminator with its sentence.
	parts := sentenceEnd.ReplaceAllString(s, "$1\x00")
	sentences := strings.Split(parts, "\x00")
	if len(sentences) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(strings.Join(sentences[:n], " "))
}
