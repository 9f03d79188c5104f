// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and validates ember's runtime configuration.
//
// Configuration is read from a TOML file, with defaults applied for any
// missing values and environment variables (EMBER_*) taking precedence
// over both. Validate reports every problem at once so operators can fix
// a broken file in a single pass.
package config
