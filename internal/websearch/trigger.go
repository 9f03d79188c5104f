// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import "strings"

// =============================================================================
// TRIGGER EXTRACTION
// =============================================================================

// triggers are checked case-insensitively. When one matches, the query
// is everything after it. Longer phrases come first so "search the web
// for" wins over "search for".
var triggers = []string{
	"search the web for",
	"search the internet",
	"search duckduckgo",
	"search online",
	"search for",
	"find online",
	"web search",
	"ddg search",
	"look up",
	"google",
	"whats the latest",
	"what's the latest",
	"current news",
	"recent news",
}

// ExtractQuery returns the search query embedded in a message, or
// ("", false) when no trigger is present. Queries keep the trailing text
// after the trigger, trimmed of punctuation.
func ExtractQuery(msg string) (string, bool) {
	lower := strings.ToLower(msg)
	for _, trig := range triggers {
		idx := strings.Index(lower, trig)
		if idx < 0 {
			continue
		}
		query := strings.TrimSpace(msg[idx+len(trig):])
		query = strings.Trim(query, `?"'.,!`)
		query = strings.TrimSpace(query)
		if query == "" {
			// "whats the latest"-style triggers can stand alone; fall
			// back to the text before the trigger.
			query = strings.TrimSpace(strings.Trim(msg[:idx], `?"'.,!`))
		}
		if query == "" {
			return "", false
		}
		return query, true
	}
	return "", false
}
