// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package postprocess cleans model output before it reaches users.
//
// The pipeline is sanitize, repetition check, safety check, chunk.
// Sanitize strips every internal prompt annotation a model might echo.
// The repetition check truncates degenerate looping output. The safety
// check blocks responses carrying mass-mention pings. Chunking splits
// long responses at natural boundaries without ever cutting a word, and
// is lossless: concatenating the chunks reproduces the input.
package postprocess
