// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across the ember core.
//
// String helpers are rune-aware: conversation content, prompts and
// audit previews are all UTF-8 and must never be cut mid-character.
// AtomicWriteFile is used wherever a partially-written file would
// corrupt state (audit log rotation).
package util
