// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package spam

import (
	"strings"
	"sync"
	"unicode/utf8"
)

// =============================================================================
// BUCKETS
// =============================================================================

// shortRunLength is the cutoff below which any two consecutive messages
// count as the same bucket regardless of content.
const shortRunLength = 3

var buckets = map[string][]string{
	"greeting":       {"hi", "hii", "hiii", "hey", "hello", "heyyy", "yo", "sup", "wsp", "helo", "henlo"},
	"acknowledgment": {"ok", "okay", "k", "kk", "kkk", "yes", "yeah", "yea", "ye", "no", "nah", "nope"},
	"laughter":       {"lol", "lmao", "haha", "hahaha", "lmfao", "xd", "xdd"},
}

var bucketOf = func() map[string]string {
	m := make(map[string]string)
	for name, words := range buckets {
		for _, w := range words {
			m[w] = name
		}
	}
	return m
}()

// =============================================================================
// VERDICT
// =============================================================================

// Verdict is the detector's decision for one message.
type Verdict int

const (
	// Pass means the message proceeds normally.
	Pass Verdict = iota
	// Flag means respond, but annotate the prompt so the model
	// addresses the repetition.
	Flag
	// Suppress means do not respond at all.
	Suppress
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Flag:
		return "flag"
	case Suppress:
		return "suppress"
	default:
		return "unknown"
	}
}

// =============================================================================
// DETECTOR
// =============================================================================

type state struct {
	last  string
	count int
}

// Detector tracks per-user repetition streaks.
type Detector struct {
	mu        sync.Mutex
	users     map[string]*state
	threshold int
}

// NewDetector returns a detector that acts once a streak reaches
// threshold consecutive messages.
func NewDetector(threshold int) *Detector {
	if threshold < 2 {
		threshold = 3
	}
	return &Detector{
		users:     make(map[string]*state),
		threshold: threshold,
	}
}

// Check records a message and returns the verdict for it. At threshold
// the verdict follows the match that got the streak there: an exact
// repeat of the previous message suppresses, a same-bucket relative
// only flags.
func (d *Detector) Check(userID, msg string) Verdict {
	norm := normalize(msg)

	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.users[userID]
	if st == nil {
		d.users[userID] = &state{last: norm, count: 1}
		return Pass
	}

	exact := norm == st.last
	switch {
	case exact, related(norm, st.last):
		st.count++
	default:
		st.last = norm
		st.count = 1
		return Pass
	}
	st.last = norm

	if st.count < d.threshold {
		return Pass
	}
	if exact {
		return Suppress
	}
	return Flag
}

// Reset clears a user's streak, e.g. after their conversation is cleared.
func (d *Detector) Reset(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.users, userID)
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

func normalize(msg string) string {
	return strings.ToLower(strings.TrimSpace(msg))
}

// related reports whether two normalized messages belong to the same
// low-effort category.
func related(a, b string) bool {
	if ba, ok := bucketOf[a]; ok {
		if bb, ok := bucketOf[b]; ok && ba == bb {
			return true
		}
	}
	return utf8.RuneCountInString(a) <= shortRunLength &&
		utf8.RuneCountInString(b) <= shortRunLength &&
		a != "" && b != ""
}
