// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"fmt"
	"strings"
	"sync"

	"github.com/emberbot/ember/internal/conversation"
	"github.com/emberbot/ember/internal/postprocess"
	"github.com/emberbot/ember/internal/registry"
	"github.com/emberbot/ember/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// historyEntryLimit bounds each replayed history entry.
	historyEntryLimit = 500

	// replyExcerptLimit bounds the quoted reply annotation.
	replyExcerptLimit = 300

	// imageDescriptionLimit bounds the image annotation.
	imageDescriptionLimit = 1500
)

// RepetitionTag is added when the spam detector flags a bucket streak so
// the model addresses the repetition instead of answering on loop.
const RepetitionTag = "[REPEATED MESSAGE: the user keeps sending variations of the same " +
	"low-effort message. Acknowledge it playfully and nudge them toward an actual topic.]\n"

// =============================================================================
// CONTEXT ANNOTATIONS
// =============================================================================

// Context carries per-message facts rendered as bracketed annotations in
// front of the user's text. Models consume them; the post-processor
// strips any that get echoed back.
type Context struct {
	IsOwner          bool
	UserName         string
	ServerName       string
	ChannelName      string
	Mentions         []string
	ReplyExcerpt     string
	ImageDescription string
	SpamFlagged      bool
}

func (c Context) render() string {
	var b strings.Builder
	if c.IsOwner {
		b.WriteString("[BOT OWNER] ")
	}
	if c.UserName != "" {
		fmt.Fprintf(&b, "[User: %s] ", c.UserName)
	}
	if c.ServerName != "" {
		fmt.Fprintf(&b, "[Server: %s] ", c.ServerName)
	}
	if c.ChannelName != "" {
		fmt.Fprintf(&b, "[Channel: #%s] ", strings.TrimPrefix(c.ChannelName, "#"))
	}
	if len(c.Mentions) > 0 {
		fmt.Fprintf(&b, "[Mentioned users: %s] ", strings.Join(c.Mentions, ", "))
	}
	if c.ReplyExcerpt != "" {
		fmt.Fprintf(&b, "[Replying to your message: %q] ",
			util.TruncateRunesNoEllipsis(c.ReplyExcerpt, replyExcerptLimit))
	}
	if c.ImageDescription != "" {
		fmt.Fprintf(&b, "[User sent an image: %s] ",
			util.TruncateRunesNoEllipsis(c.ImageDescription, imageDescriptionLimit))
	}
	if c.SpamFlagged {
		b.WriteString(RepetitionTag)
	}
	return b.String()
}

// =============================================================================
// COMPOSER
// =============================================================================

// Message is one entry in a composed prompt.
type Message struct {
	Role    string
	Content string
}

// Composer assembles prompts and tracks the full/reminder cadence.
type Composer struct {
	mu       sync.Mutex
	counters map[string]int

	// interval is how many turns pass between full prompt refreshes.
	interval int

	// historyWindow is how many stored messages are replayed.
	historyWindow int
}

// NewComposer creates a composer with the given cadence interval and
// history window.
func NewComposer(interval, historyWindow int) *Composer {
	if interval <= 0 {
		interval = 10
	}
	if historyWindow <= 0 {
		historyWindow = 10
	}
	return &Composer{
		counters:      make(map[string]int),
		interval:      interval,
		historyWindow: historyWindow,
	}
}

// Compose builds the message list for one turn: system prompt, replayed
// history, then the annotated user turn. It advances the cadence counter
// for models that use the reminder variant.
func (c *Composer) Compose(m registry.ModelDescriptor, userID string, history []conversation.Message, userText string, meta Context) []Message {
	system := c.systemFor(m, userID)

	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: "system", Content: system})

	start := 0
	if len(history) > c.historyWindow {
		start = len(history) - c.historyWindow
	}
	for _, h := range history[start:] {
		content := postprocess.Sanitize(h.Content)
		content = util.TruncateRunesNoEllipsis(content, historyEntryLimit)
		if content == "" {
			continue
		}
		msgs = append(msgs, Message{Role: string(h.Role), Content: content})
	}

	msgs = append(msgs, Message{Role: "user", Content: meta.render() + userText})
	return msgs
}

// systemFor picks full vs reminder and advances the cadence counter.
// The full prompt goes out on the first turn and every interval-th turn
// after that; reminders carry the rest.
func (c *Composer) systemFor(m registry.ModelDescriptor, userID string) string {
	if m.AlwaysFullPrompt {
		return SystemPromptFull(m.ID)
	}

	key := userID + "\x00" + m.ID

	c.mu.Lock()
	count := c.counters[key]
	c.counters[key] = count + 1
	c.mu.Unlock()

	if count == 0 || count%c.interval == 0 {
		return SystemPromptFull(m.ID)
	}
	return SystemPromptReminder(m.ID)
}

// ResetCadence clears a user's cadence counter for one model, or for all
// models when modelID is empty. Called when a conversation is cleared so
// the next turn gets the full prompt again.
func (c *Composer) ResetCadence(userID, modelID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if modelID != "" {
		delete(c.counters, userID+"\x00"+modelID)
		return
	}
	prefix := userID + "\x00"
	for k := range c.counters {
		if strings.HasPrefix(k, prefix) {
			delete(c.counters, k)
		}
	}
}
