// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend speaks the Ollama HTTP protocol to inference hosts.
//
// Chat-shaped models use POST /api/chat with a message list; models
// flagged UsesGenerate have their messages flattened into a single
// prompt for POST /api/generate. Streaming responses arrive as JSON
// lines with incremental content and a done flag. Reasoning models wrap
// their scratch work in <think> markers, which SplitThinking separates
// from the final answer.
package backend
