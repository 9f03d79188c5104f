// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package spam tracks low-effort message streaks per user.
//
// Messages are normalized and bucketed (greetings, acknowledgments,
// laughter, or any run of very short messages). Repeating the exact same
// message past the threshold suppresses the response entirely; cycling
// through a bucket past the threshold flags the message so the model can
// call the repetition out instead of going silent.
package spam
