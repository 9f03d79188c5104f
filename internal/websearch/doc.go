// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package websearch augments prompts with live search results.
//
// When a search-capable model receives a message carrying a search
// trigger, the query is extracted, run against DuckDuckGo's HTML
// endpoint, and the top result pages are fetched and distilled into a
// bounded text block appended to the user's message. Searches degrade
// gracefully: a failed search or empty result set falls back to the
// model's own knowledge.
package websearch
