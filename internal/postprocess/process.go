// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package postprocess

import (
	"errors"
	"strings"
)

// =============================================================================
// SAFETY
// =============================================================================

// ErrSafetyBlocked marks a response that was withheld entirely.
var ErrSafetyBlocked = errors.New("response blocked by safety filter")

// massMentions can ping an entire server. A model response carrying one
// is never delivered or persisted.
var massMentions = []string{"@everyone", "@here"}

// CheckSafety returns ErrSafetyBlocked when the (already sanitized)
// response contains a mass mention.
func CheckSafety(s string) error {
	for _, m := range massMentions {
		if strings.Contains(s, m) {
			return ErrSafetyBlocked
		}
	}
	return nil
}

// =============================================================================
// PIPELINE
// =============================================================================

// Result is the processed form of one model response.
type Result struct {
	// Text is the sanitized (and possibly repetition-truncated) body.
	Text string

	// Chunks is Text split to the delivery limit.
	Chunks []string

	// RepetitionTruncated marks degenerate output. Such turns are
	// delivered but not persisted.
	RepetitionTruncated bool
}

// Process runs the full pipeline on a raw model response. It returns
// ErrSafetyBlocked for responses that must be withheld.
func Process(raw string, chunkLimit int) (Result, error) {
	text := Sanitize(raw)

	if err := CheckSafety(text); err != nil {
		return Result{}, err
	}

	text, truncated := TruncateRepetition(text)

	return Result{
		Text:                text,
		Chunks:              Chunk(text, chunkLimit),
		RepetitionTruncated: truncated,
	}, nil
}
