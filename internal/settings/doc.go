// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings persists guild configuration and user preferences.
//
// Guild settings cover whether the bot responds at all, the default
// model, and whether admins have locked model choice. User preferences
// record each user's chosen model per guild. The package also owns the
// user blacklist and the global maintenance-mode flag.
package settings
