// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt composes the message list sent to a model.
//
// Each model has a full system prompt and most have a compact reminder.
// The full prompt is sent on the first message and every tenth one after
// that; the reminder carries the turns in between. Models flagged
// AlwaysFullPrompt skip the cadence entirely. The composer also replays
// recent history (sanitized and truncated) and prefixes the current turn
// with context annotations the model consumes but must never echo.
package prompt
