// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit records security-relevant pipeline decisions.
//
// Every directive attempt, safety block, spam suppression, and quota
// denial is appended as one JSON line to the audit log. Message excerpts
// are truncated before logging so the log never mirrors full user
// content. The log rotates by size.
package audit
