// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package guard detects prompt-injection attempts in user messages.
//
// A message that pattern-matches an instruction override is never passed
// to the model as-is. Only the configured owner may issue a directive,
// and only when the message carries the explicit directive marker; every
// other attempt is wrapped in a rejection notice so the model sees the
// text as quoted, untrusted input rather than an instruction.
package guard
