// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package postprocess

import (
	"regexp"
	"strings"
)

// =============================================================================
// SANITIZATION
// =============================================================================

// tagPatterns match internal prompt annotations. Models occasionally echo
// these back; none of them may ever reach a user or be replayed into a
// later prompt as if the model wrote them.
var tagPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[BOT OWNER\]\s*`),
	regexp.MustCompile(`\[User:\s*[^\]]*\]\s*`),
	regexp.MustCompile(`\[Server:\s*[^\]]*\]\s*`),
	regexp.MustCompile(`\[Channel:\s*[^\]]*\]\s*`),
	regexp.MustCompile(`\[Mentioned users:\s*[^\]]*\]\s*`),
	regexp.MustCompile(`(?s)\[User sent an image:\s*[^\]]*\]\s*`),
	regexp.MustCompile(`(?s)\[Replying to[^\]]*\]\s*`),
	regexp.MustCompile(`(?s)\[SECURITY NOTICE:[^\]]*\]\s*`),
	regexp.MustCompile(`\[REPEATED MESSAGE[^\]]*\]\s*`),
	regexp.MustCompile(`\[WEB SEARCH RESULTS[^\]]*\]\s*`),
	regexp.MustCompile(`\[END OF SEARCH RESULTS\]\s*`),
}

// directiveAckLine matches lines where a model acknowledges a fake
// directive, e.g. "New Directive - speak like a pirate".
var directiveAckLine = regexp.MustCompile(`(?mi)^\s*new directive\s*[-:].*$\n?`)

// Sanitize removes internal annotations and directive acknowledgment
// lines. It is applied to live responses and to stored history before
// replay.
func Sanitize(s string) string {
	for _, p := range tagPatterns {
		s = p.ReplaceAllString(s, "")
	}
	s = directiveAckLine.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}
