// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/emberbot/ember/internal/audit"
	"github.com/emberbot/ember/internal/backend"
	"github.com/emberbot/ember/internal/conversation"
	"github.com/emberbot/ember/internal/guard"
	"github.com/emberbot/ember/internal/postprocess"
	"github.com/emberbot/ember/internal/prompt"
	"github.com/emberbot/ember/internal/quota"
	"github.com/emberbot/ember/internal/registry"
	"github.com/emberbot/ember/internal/settings"
	"github.com/emberbot/ember/internal/spam"
	"github.com/emberbot/ember/internal/websearch"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// quotaReservation is checked up front for character-budgeted
	// models; actual usage is consumed after the response arrives.
	quotaReservation = 500

	// maxRegenerates caps retries per original message.
	maxRegenerates = 3

	// Per-user overload defense: a small burst, then one request every
	// two seconds.
	limiterRate  = 2 * time.Second
	limiterBurst = 3
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// Request is one incoming chat message with its platform context.
type Request struct {
	GuildID   string
	ChannelID string
	UserID    string
	MessageID string

	Text string

	// Display context rendered into prompt annotations.
	UserName    string
	ServerName  string
	ChannelName string
	Mentions    []string

	// MentionNames maps mentioned user IDs to display names so raw
	// mention markup can be rewritten before composition.
	MentionNames map[string]string

	// ReplyExcerpt is set when the message replies to the bot.
	ReplyExcerpt string

	// ImageDescription is a caption for an attached image, empty when
	// the message carries none.
	ImageDescription string

	// OnChunk, when set, receives incremental answer text during
	// streaming dispatch. Thinking segments are not delivered.
	OnChunk func(content string)
}

// Result is the outcome of a processed message.
type Result struct {
	// Chunks is the delivery-ready response, split to the chunk limit.
	Chunks []string

	// ModelID that produced the response.
	ModelID string

	// ThinkingDuration is how long a reasoning model spent before its
	// answer started. Zero for non-thinking models.
	ThinkingDuration time.Duration

	// Suppressed means the spam detector swallowed the message and no
	// model was called.
	Suppressed bool

	// GuardRejected means the message was treated as an injection
	// attempt and the model saw it as quoted text.
	GuardRejected bool

	// SpamFlagged means the prompt carried the repetition annotation.
	SpamFlagged bool

	// RepetitionTruncated means degenerate output was cut short; the
	// exchange was delivered but not persisted.
	RepetitionTruncated bool

	// SearchUsed and SearchEmpty report the web-search augmentation.
	SearchUsed  bool
	SearchEmpty bool
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator wires every pipeline stage together.
type Orchestrator struct {
	ownerID  string
	reg      *registry.Registry
	conv     *conversation.Store
	quota    *quota.Tracker
	guard    *guard.Guard
	spam     *spam.Detector
	composer *prompt.Composer
	client   *backend.Client
	searcher *websearch.Searcher // nil disables search
	settings *settings.Store
	audit    *audit.Logger

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
	limiters  map[string]*rate.Limiter
	regens    map[string]int
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	OwnerID  string
	Registry *registry.Registry
	Conv     *conversation.Store
	Quota    *quota.Tracker
	Guard    *guard.Guard
	Spam     *spam.Detector
	Composer *prompt.Composer
	Client   *backend.Client
	Searcher *websearch.Searcher
	Settings *settings.Store
	Audit    *audit.Logger
}

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		ownerID:   d.OwnerID,
		reg:       d.Registry,
		conv:      d.Conv,
		quota:     d.Quota,
		guard:     d.Guard,
		spam:      d.Spam,
		composer:  d.Composer,
		client:    d.Client,
		searcher:  d.Searcher,
		settings:  d.Settings,
		audit:     d.Audit,
		userLocks: make(map[string]*sync.Mutex),
		limiters:  make(map[string]*rate.Limiter),
		regens:    make(map[string]int),
	}
}

func (o *Orchestrator) userLock(userID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		o.userLocks[userID] = l
	}
	return l
}

func (o *Orchestrator) limiter(userID string) *rate.Limiter {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.limiters[userID]
	if !ok {
		l = rate.NewLimiter(rate.Every(limiterRate), limiterBurst)
		o.limiters[userID] = l
	}
	return l
}

func (o *Orchestrator) isOwner(userID string) bool {
	return o.ownerID != "" && userID == o.ownerID
}

// =============================================================================
// CHAT PIPELINE
// =============================================================================

// Chat processes one message end to end.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Result, error) {
	// Gates that need no lock.
	gs, err := o.settings.Guild(ctx, req.GuildID)
	if err != nil {
		return nil, err
	}
	if !gs.Enabled {
		return nil, ErrGuildDisabled
	}
	if o.settings.Blacklisted(req.UserID) {
		return nil, ErrBlacklisted
	}
	if o.settings.Maintenance() && !o.isOwner(req.UserID) {
		return nil, ErrMaintenance
	}

	if !o.limiter(req.UserID).Allow() {
		return nil, ErrRateLimited
	}

	// Everything from the guard through persistence runs under the
	// user's lock so concurrent messages cannot race quota or history.
	lock := o.userLock(req.UserID)
	lock.Lock()
	defer lock.Unlock()

	return o.chatLocked(ctx, req, false)
}

// chatLocked runs the pipeline under the user's lock. Regenerated
// messages skip the spam detector: a retry is an explicit action on a
// message already accepted once, not a typed repeat.
func (o *Orchestrator) chatLocked(ctx context.Context, req Request, regen bool) (*Result, error) {
	text := NormalizeInput(ReplaceMentions(req.Text, req.MentionNames))

	// Injection guard.
	gres := o.guard.Evaluate(req.UserID, text)
	switch gres.Verdict {
	case guard.VerdictAccepted:
		o.logAudit(o.audit.LogDirective(req.GuildID, req.UserID, gres.Extract, true))
	case guard.VerdictRejected:
		o.logAudit(o.audit.LogDirective(req.GuildID, req.UserID, gres.Extract, false))
	}
	text = gres.Text

	// Spam detection.
	res := &Result{GuardRejected: gres.Verdict == guard.VerdictRejected}
	if !regen {
		switch o.spam.Check(req.UserID, req.Text) {
		case spam.Suppress:
			o.logAudit(o.audit.Log(audit.Event{
				EventType: audit.EventSpamSuppressed,
				GuildID:   req.GuildID,
				UserID:    req.UserID,
				Excerpt:   req.Text,
			}))
			res.Suppressed = true
			return res, nil
		case spam.Flag:
			res.SpamFlagged = true
		}
	}

	// Model resolution.
	modelID, err := o.settings.ResolveModel(ctx, req.GuildID, req.UserID)
	if err != nil {
		return nil, err
	}
	m, err := o.reg.Get(modelID)
	if err != nil {
		return nil, err
	}
	res.ModelID = m.ID

	if m.VisionOnly && req.ImageDescription == "" {
		return nil, ErrVisionOnly
	}

	// Quota check before spending backend time.
	amount := quotaReservation
	if m.DailyLimitKind == registry.LimitItems {
		amount = 1
	}
	if err := o.quota.Check(req.UserID, m.ID, amount); err != nil {
		var ee *quota.ExceededError
		if errors.As(err, &ee) {
			o.logAudit(o.audit.LogQuotaDenied(req.GuildID, req.UserID, m.ID, ee.Used, ee.Limit))
			return nil, ErrQuotaExceeded
		}
		return nil, err
	}

	// Compose the prompt.
	key := conversation.Key{GuildID: req.GuildID, UserID: req.UserID, ModelID: m.ID}
	history, err := o.conv.Load(ctx, key, 0)
	if err != nil {
		return nil, err
	}

	meta := prompt.Context{
		IsOwner:          o.isOwner(req.UserID),
		UserName:         req.UserName,
		ServerName:       req.ServerName,
		ChannelName:      req.ChannelName,
		Mentions:         req.Mentions,
		ReplyExcerpt:     req.ReplyExcerpt,
		ImageDescription: req.ImageDescription,
		SpamFlagged:      res.SpamFlagged,
	}

	turnText := text
	if m.HasWebSearch && o.searcher != nil {
		if query, ok := websearch.ExtractQuery(text); ok {
			res.SearchUsed = true
			block, err := o.searcher.Lookup(ctx, query)
			if err != nil {
				log.Printf("websearch failed user=%s query=%q err=%v", req.UserID, query, err)
				res.SearchEmpty = true
			} else {
				turnText = text + "\n\n" + block
			}
		}
	}

	msgs := o.composer.Compose(m, req.UserID, history, turnText, meta)

	// Dispatch.
	raw, thinkingDur, err := o.dispatch(ctx, m, msgs, req.OnChunk)
	if err != nil {
		if backend.IsUnavailable(err) {
			o.logAudit(o.audit.Log(audit.Event{
				EventType: audit.EventBackendError,
				GuildID:   req.GuildID,
				UserID:    req.UserID,
				ModelID:   m.ID,
				Metadata:  map[string]string{"error": err.Error()},
			}))
			return nil, ErrBackendUnavailable
		}
		return nil, err
	}
	res.ThinkingDuration = thinkingDur

	// Post-process.
	processed, err := postprocess.Process(raw, postprocess.DefaultChunkLimit)
	if err != nil {
		if errors.Is(err, postprocess.ErrSafetyBlocked) {
			o.logAudit(o.audit.LogSafetyBlock(req.GuildID, req.UserID, m.ID, "mass mention"))
			return nil, ErrSafetyBlocked
		}
		return nil, err
	}
	res.Chunks = processed.Chunks
	res.RepetitionTruncated = processed.RepetitionTruncated

	// Consume quota for the completed call.
	switch m.DailyLimitKind {
	case registry.LimitItems:
		err = o.quota.Consume(ctx, req.UserID, m.ID, 1)
	case registry.LimitCharacters:
		err = o.quota.Consume(ctx, req.UserID, m.ID, len(processed.Text))
	}
	if err != nil {
		log.Printf("quota consume failed user=%s model=%s err=%v", req.UserID, m.ID, err)
	}

	// Persist the exchange. Degenerate output is delivered but never
	// becomes history.
	if !processed.RepetitionTruncated {
		stored := req.Text
		if req.ImageDescription != "" {
			stored = "[Sent an image]\n" + stored
		}
		if err := o.conv.AppendExchange(ctx, key,
			conversation.Message{Role: conversation.RoleUser, Content: stored},
			conversation.Message{Role: conversation.RoleAssistant, Content: processed.Text},
		); err != nil {
			log.Printf("persist failed user=%s model=%s err=%v", req.UserID, m.ID, err)
		}
	}

	return res, nil
}

// dispatch sends the composed prompt to the backend. Thinking models
// stream so their reasoning can be timed and split out; everything else
// completes synchronously.
func (o *Orchestrator) dispatch(ctx context.Context, m registry.ModelDescriptor, msgs []prompt.Message, onChunk func(string)) (string, time.Duration, error) {
	bmsgs := make([]backend.Message, len(msgs))
	for i, msg := range msgs {
		bmsgs[i] = backend.Message{Role: msg.Role, Content: msg.Content}
	}

	if !m.ShowsThinking {
		raw, err := o.client.Complete(ctx, m, bmsgs)
		return raw, 0, err
	}

	var (
		full       strings.Builder
		start      = time.Now()
		answering  bool
		thinkDur   time.Duration
		sentAnswer string
	)
	// Raw chunks may straddle the thinking markers, so the delta handed
	// to onChunk is recomputed from the split answer each time. Thinking
	// text never reaches the callback.
	err := o.client.Stream(ctx, m, bmsgs, func(chunk backend.StreamChunk) {
		full.WriteString(chunk.Content)
		_, answer := backend.SplitThinking(full.String())
		if !answering && answer != "" {
			answering = true
			thinkDur = time.Since(start)
		}
		if onChunk != nil && len(answer) > len(sentAnswer) && strings.HasPrefix(answer, sentAnswer) {
			onChunk(answer[len(sentAnswer):])
			sentAnswer = answer
		}
	})
	if err != nil {
		return "", 0, err
	}

	_, answer := backend.SplitThinking(full.String())
	if !answering {
		thinkDur = time.Since(start)
	}
	return answer, thinkDur, nil
}

func (o *Orchestrator) logAudit(err error) {
	if err != nil {
		log.Printf("audit write failed: %v", err)
	}
}

// =============================================================================
// REGENERATE
// =============================================================================

// Regenerate reruns a message. The stored exchange from the previous
// attempt is dropped first so the retry does not see the answer it
// replaces. Each original message may be regenerated at most three
// times.
func (o *Orchestrator) Regenerate(ctx context.Context, req Request) (*Result, error) {
	o.mu.Lock()
	count := o.regens[req.MessageID]
	if count >= maxRegenerates {
		o.mu.Unlock()
		return nil, ErrRegenerateLimit
	}
	o.regens[req.MessageID] = count + 1
	o.mu.Unlock()

	lock := o.userLock(req.UserID)
	lock.Lock()
	defer lock.Unlock()

	modelID, err := o.settings.ResolveModel(ctx, req.GuildID, req.UserID)
	if err != nil {
		return nil, err
	}
	key := conversation.Key{GuildID: req.GuildID, UserID: req.UserID, ModelID: modelID}
	if err := o.conv.DropLastExchange(ctx, key); err != nil {
		return nil, err
	}

	return o.chatLocked(ctx, req, true)
}

// =============================================================================
// DATA OPERATIONS
// =============================================================================

// ClearConversation wipes a user's history for one model (or all when
// modelID is empty) and resets their cadence and spam state.
func (o *Orchestrator) ClearConversation(ctx context.Context, guildID, userID, modelID string) (int, error) {
	n, err := o.conv.Clear(ctx, guildID, userID, modelID)
	if err != nil {
		return 0, err
	}
	o.composer.ResetCadence(userID, modelID)
	o.spam.Reset(userID)
	return n, nil
}

// SetUserModel records a user's model choice after validating it.
func (o *Orchestrator) SetUserModel(ctx context.Context, guildID, userID, modelID string) error {
	m, err := o.reg.Get(modelID)
	if err != nil {
		return err
	}
	if err := o.settings.SetUserModel(ctx, guildID, userID, m.ID); err != nil {
		return err
	}
	o.logAudit(o.audit.Log(audit.Event{
		EventType: audit.EventModelSwitch,
		GuildID:   guildID,
		UserID:    userID,
		ModelID:   m.ID,
	}))
	return nil
}

// GetUserModel returns the model that would serve a user's next message.
func (o *Orchestrator) GetUserModel(ctx context.Context, guildID, userID string) (registry.ModelDescriptor, error) {
	modelID, err := o.settings.ResolveModel(ctx, guildID, userID)
	if err != nil {
		return registry.ModelDescriptor{}, err
	}
	return o.reg.Get(modelID)
}

// SetGuildEnabled turns the pipeline on or off for a guild.
func (o *Orchestrator) SetGuildEnabled(ctx context.Context, guildID string, enabled bool) error {
	return o.settings.SetGuildEnabled(ctx, guildID, enabled)
}

// SetGuildModel sets a guild's default model, optionally locking every
// user to it.
func (o *Orchestrator) SetGuildModel(ctx context.Context, guildID, modelID string, locked bool) error {
	m, err := o.reg.Get(modelID)
	if err != nil {
		return err
	}
	return o.settings.SetGuildModel(ctx, guildID, m.ID, locked)
}

// SetBlacklisted adds or removes a user from the blacklist.
func (o *Orchestrator) SetBlacklisted(ctx context.Context, userID string, blocked bool) error {
	var err error
	if blocked {
		err = o.settings.Blacklist(ctx, userID)
	} else {
		err = o.settings.Unblacklist(ctx, userID)
	}
	if err != nil {
		return err
	}
	o.logAudit(o.audit.Log(audit.Event{
		EventType: audit.EventBlacklist,
		UserID:    userID,
		Metadata:  map[string]string{"blocked": strconv.FormatBool(blocked)},
	}))
	return nil
}

// SetMaintenance toggles maintenance mode. While on, only the owner can
// chat.
func (o *Orchestrator) SetMaintenance(ctx context.Context, on bool) error {
	return o.settings.SetMaintenance(ctx, on)
}

// SetQuotaBypass exempts a user from quota checks, or restores them.
func (o *Orchestrator) SetQuotaBypass(ctx context.Context, userID string, bypass bool) error {
	if bypass {
		return o.quota.AddBypass(ctx, userID)
	}
	return o.quota.RemoveBypass(ctx, userID)
}

// SetModelLimit overrides a model's daily budget; zero or less restores
// the built-in value.
func (o *Orchestrator) SetModelLimit(ctx context.Context, modelID string, limit int) error {
	return o.quota.SetLimit(ctx, modelID, limit)
}

// QuotaStatus returns a user's budget for one model.
func (o *Orchestrator) QuotaStatus(userID, modelID string) (quota.Status, error) {
	return o.quota.Status(userID, modelID)
}

// ListModels returns every registered model.
func (o *Orchestrator) ListModels() []registry.ModelDescriptor {
	return o.reg.All()
}
