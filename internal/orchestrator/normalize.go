// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"regexp"

	"github.com/emberbot/ember/internal/util"
)

// =============================================================================
// INPUT NORMALIZATION
// =============================================================================

const (
	// maxInputLength caps how much of a message reaches the model.
	maxInputLength = 500

	// charSpamMinLength and charSpamRatio detect keyboard-mash input:
	// one rune making up most of a long message.
	charSpamMinLength = 20
	charSpamRatio     = 0.7

	// charSpamKeep is how much of a mashed message survives.
	charSpamKeep = 50
)

var (
	// userMention matches platform user-mention markup, capturing the ID.
	userMention = regexp.MustCompile(`<@!?(\d+)>`)

	// otherMention matches role and channel mention markup, which carries
	// no meaning for the model.
	otherMention = regexp.MustCompile(`<[@#]&?\d+>`)
)

// ReplaceMentions rewrites platform mention markup into plain text:
// user mentions become @displayName when the name is known, and leftover
// role/channel markup is stripped.
func ReplaceMentions(text string, names map[string]string) string {
	text = userMention.ReplaceAllStringFunc(text, func(m string) string {
		id := userMention.FindStringSubmatch(m)[1]
		if name, ok := names[id]; ok {
			return "@" + name
		}
		return "@user"
	})
	return otherMention.ReplaceAllString(text, "")
}

// NormalizeInput tames pathological input before it reaches the
// pipeline. Messages dominated by a single repeated character are cut
// hard; everything is capped at maxInputLength.
func NormalizeInput(text string) string {
	if isCharSpam(text) {
		text = util.TruncateRunesNoEllipsis(text, charSpamKeep)
	}
	return util.TruncateRunesNoEllipsis(text, maxInputLength)
}

func isCharSpam(text string) bool {
	runes := []rune(text)
	if len(runes) <= charSpamMinLength {
		return false
	}
	counts := make(map[rune]int)
	for _, r := range runes {
		counts[r]++
	}
	for _, n := range counts {
		if float64(n)/float64(len(runes)) > charSpamRatio {
			return true
		}
	}
	return false
}
