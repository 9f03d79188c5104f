// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import "errors"

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrGuildDisabled means the bot is switched off in this guild.
	ErrGuildDisabled = errors.New("bot is disabled in this guild")

	// ErrBlacklisted means the sender may not use the bot.
	ErrBlacklisted = errors.New("user is blacklisted")

	// ErrMaintenance means the bot is in maintenance mode.
	ErrMaintenance = errors.New("bot is in maintenance mode")

	// ErrRateLimited means the sender is sending too fast.
	ErrRateLimited = errors.New("too many requests, slow down")

	// ErrQuotaExceeded means the sender's daily budget is spent.
	ErrQuotaExceeded = errors.New("daily usage limit reached")

	// ErrBackendUnavailable means the model host did not answer. The
	// failed turn is never persisted and nothing retries automatically.
	ErrBackendUnavailable = errors.New("model backend unavailable, try again shortly")

	// ErrSafetyBlocked means the response was withheld by the safety
	// filter and not persisted.
	ErrSafetyBlocked = errors.New("response withheld by safety filter")

	// ErrVisionOnly means a vision model was asked for plain chat.
	ErrVisionOnly = errors.New("this model only analyzes images, attach one or switch models")

	// ErrRegenerateLimit means a message has hit its regenerate cap.
	ErrRegenerateLimit = errors.New("regenerate limit reached for this message")
)
