// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/emberbot/ember/internal/util"
)

// =============================================================================
// CONFIG TYPES
// =============================================================================

// Config is ember's top-level configuration.
type Config struct {
	// OwnerID is the user ID whose messages may issue directives and
	// who bypasses quota checks and safety filtering.
	OwnerID string `toml:"owner_id" json:"owner_id"`

	// DefaultModel is the model ID used when a user has no preference.
	DefaultModel string `toml:"default_model" json:"default_model"`

	Backend BackendConfig `toml:"backend" json:"backend"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Limits  LimitsConfig  `toml:"limits" json:"limits"`
	Prompt  PromptConfig  `toml:"prompt" json:"prompt"`
	Spam    SpamConfig    `toml:"spam" json:"spam"`
	Search  SearchConfig  `toml:"search" json:"search"`
	Audit   AuditConfig   `toml:"audit" json:"audit"`
}

// BackendConfig controls how ember reaches its inference backends.
type BackendConfig struct {
	// CloudURL is the Ollama-protocol endpoint for cloud-routed models.
	CloudURL string `toml:"cloud_url" json:"cloud_url"`

	// LocalURL is the Ollama-protocol endpoint for locally hosted models.
	LocalURL string `toml:"local_url" json:"local_url"`

	// ChatTimeoutSecs bounds a non-streaming chat completion.
	ChatTimeoutSecs int `toml:"chat_timeout_secs" json:"chat_timeout_secs"`

	// ThinkingTimeoutSecs bounds completions for models that emit
	// reasoning traces before their answer.
	ThinkingTimeoutSecs int `toml:"thinking_timeout_secs" json:"thinking_timeout_secs"`

	// StreamTimeoutSecs bounds an entire streaming response.
	StreamTimeoutSecs int `toml:"stream_timeout_secs" json:"stream_timeout_secs"`
}

// StorageConfig locates ember's on-disk state.
type StorageConfig struct {
	// DataDir holds the sqlite database and audit log. Created on demand.
	DataDir string `toml:"data_dir" json:"data_dir"`
}

// LimitsConfig tunes per-user daily quotas for limited models.
type LimitsConfig struct {
	// SageDailyChars is the daily character budget for the sage model.
	SageDailyChars int `toml:"sage_daily_chars" json:"sage_daily_chars"`

	// LensDailyImages is the daily image-analysis budget for lens.
	LensDailyImages int `toml:"lens_daily_images" json:"lens_daily_images"`
}

// PromptConfig tunes system prompt delivery.
type PromptConfig struct {
	// ReminderInterval is how many exchanges pass between full system
	// prompt refreshes. A compact reminder is sent in between.
	ReminderInterval int `toml:"reminder_interval" json:"reminder_interval"`

	// HistoryWindow is how many stored messages are replayed per request.
	HistoryWindow int `toml:"history_window" json:"history_window"`

	// MaxConversationLen caps stored messages per conversation.
	MaxConversationLen int `toml:"max_conversation_len" json:"max_conversation_len"`
}

// SpamConfig tunes low-effort message detection.
type SpamConfig struct {
	// StreakThreshold is how many consecutive same-category messages
	// trigger suppression.
	StreakThreshold int `toml:"streak_threshold" json:"streak_threshold"`
}

// SearchConfig tunes the web search augmentation for search-capable models.
type SearchConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`

	// MaxResults caps how many search hits are kept.
	MaxResults int `toml:"max_results" json:"max_results"`

	// MaxPages caps how many result pages are fetched for content.
	MaxPages int `toml:"max_pages" json:"max_pages"`

	// FetchTimeoutSecs bounds each page fetch.
	FetchTimeoutSecs int `toml:"fetch_timeout_secs" json:"fetch_timeout_secs"`
}

// AuditConfig controls security event logging.
type AuditConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`

	// MaxSizeMB rotates the audit log once it exceeds this size.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		OwnerID:      "",
		DefaultModel: "ember",

		Backend: BackendConfig{
			CloudURL:            "http://127.0.0.1:11434",
			LocalURL:            "http://127.0.0.1:11434",
			ChatTimeoutSecs:     120,
			ThinkingTimeoutSecs: 180,
			StreamTimeoutSecs:   300,
		},

		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},

		Limits: LimitsConfig{
			SageDailyChars:  2500,
			LensDailyImages: 5,
		},

		Prompt: PromptConfig{
			ReminderInterval:   10,
			HistoryWindow:      10,
			MaxConversationLen: 30,
		},

		Spam: SpamConfig{
			StreakThreshold: 3,
		},

		Search: SearchConfig{
			Enabled:          true,
			MaxResults:       5,
			MaxPages:         3,
			FetchTimeoutSecs: 8,
		},

		Audit: AuditConfig{
			Enabled:   true,
			MaxSizeMB: 10,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ember"
	}
	return filepath.Join(home, ".ember")
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from path, applies environment overrides, and
// validates the result. A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to load config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies EMBER_* environment variables over the loaded
// values. Environment always wins.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("EMBER_OWNER_ID"); v != "" {
		c.OwnerID = v
	}
	if v := os.Getenv("EMBER_DEFAULT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("EMBER_CLOUD_URL"); v != "" {
		c.Backend.CloudURL = v
	}
	if v := os.Getenv("EMBER_LOCAL_URL"); v != "" {
		c.Backend.LocalURL = v
	}
	if v := os.Getenv("EMBER_DATA_DIR"); v != "" {
		c.Storage.DataDir = v
	}
	if v := os.Getenv("EMBER_SEARCH_ENABLED"); v != "" {
		c.Search.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("EMBER_AUDIT_ENABLED"); v != "" {
		c.Audit.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("EMBER_REMINDER_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Prompt.ReminderInterval = n
		}
	}
}

// SetDefaults fills zero values that TOML decoding may have cleared.
func (c *Config) SetDefaults() {
	d := Default()
	if c.DefaultModel == "" {
		c.DefaultModel = d.DefaultModel
	}
	if c.Backend.CloudURL == "" {
		c.Backend.CloudURL = d.Backend.CloudURL
	}
	if c.Backend.LocalURL == "" {
		c.Backend.LocalURL = d.Backend.LocalURL
	}
	if c.Backend.ChatTimeoutSecs <= 0 {
		c.Backend.ChatTimeoutSecs = d.Backend.ChatTimeoutSecs
	}
	if c.Backend.ThinkingTimeoutSecs <= 0 {
		c.Backend.ThinkingTimeoutSecs = d.Backend.ThinkingTimeoutSecs
	}
	if c.Backend.StreamTimeoutSecs <= 0 {
		c.Backend.StreamTimeoutSecs = d.Backend.StreamTimeoutSecs
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = d.Storage.DataDir
	}
	if c.Limits.SageDailyChars <= 0 {
		c.Limits.SageDailyChars = d.Limits.SageDailyChars
	}
	if c.Limits.LensDailyImages <= 0 {
		c.Limits.LensDailyImages = d.Limits.LensDailyImages
	}
	if c.Prompt.ReminderInterval <= 0 {
		c.Prompt.ReminderInterval = d.Prompt.ReminderInterval
	}
	if c.Prompt.HistoryWindow <= 0 {
		c.Prompt.HistoryWindow = d.Prompt.HistoryWindow
	}
	if c.Prompt.MaxConversationLen <= 0 {
		c.Prompt.MaxConversationLen = d.Prompt.MaxConversationLen
	}
	if c.Spam.StreakThreshold <= 0 {
		c.Spam.StreakThreshold = d.Spam.StreakThreshold
	}
	if c.Search.MaxResults <= 0 {
		c.Search.MaxResults = d.Search.MaxResults
	}
	if c.Search.MaxPages <= 0 {
		c.Search.MaxPages = d.Search.MaxPages
	}
	if c.Search.FetchTimeoutSecs <= 0 {
		c.Search.FetchTimeoutSecs = d.Search.FetchTimeoutSecs
	}
	if c.Audit.MaxSizeMB <= 0 {
		c.Audit.MaxSizeMB = d.Audit.MaxSizeMB
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects all validation failures.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d validation error(s): %s", len(e), strings.Join(msgs, "; "))
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	for _, ep := range []struct {
		field string
		value string
	}{
		{"backend.cloud_url", c.Backend.CloudURL},
		{"backend.local_url", c.Backend.LocalURL},
	} {
		u, err := url.Parse(ep.value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   ep.field,
				Message: fmt.Sprintf("invalid URL '%s', must include scheme and host", ep.value),
			})
		}
	}

	if c.Backend.ChatTimeoutSecs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "backend.chat_timeout_secs",
			Message: "must be positive",
		})
	}
	if c.Backend.StreamTimeoutSecs < c.Backend.ChatTimeoutSecs {
		errs = append(errs, ValidationError{
			Field:   "backend.stream_timeout_secs",
			Message: "must be at least chat_timeout_secs",
		})
	}
	if c.Prompt.HistoryWindow > c.Prompt.MaxConversationLen {
		errs = append(errs, ValidationError{
			Field:   "prompt.history_window",
			Message: "cannot exceed max_conversation_len",
		})
	}
	if c.Spam.StreakThreshold < 2 {
		errs = append(errs, ValidationError{
			Field:   "spam.streak_threshold",
			Message: "must be at least 2",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to path as TOML, creating parent
// directories as needed. File mode is 0600; the owner ID is sensitive.
func (c *Config) Save(path string) error {
	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
