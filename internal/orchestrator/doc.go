// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator runs the full message pipeline.
//
// A chat request flows through guild gating, input normalization, the
// injection guard, spam detection, model resolution, quota checks,
// prompt composition, optional web search, backend dispatch, and
// post-processing before the exchange is persisted. A per-user lock
// serializes the whole pipeline for each user so concurrent messages
// cannot double-spend quota or interleave history writes. Failed calls
// leave no partial state behind.
package orchestrator
