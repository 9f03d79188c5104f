// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation persists per-user chat history.
//
// Each conversation is keyed by (guild, user, model) and holds an ordered
// list of user/assistant messages. The store caps each conversation at a
// configurable length, trimming the oldest messages inside the same
// transaction that appends new ones.
package conversation
