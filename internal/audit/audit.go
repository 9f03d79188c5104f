// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/emberbot/ember/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// MaxExcerptLength caps how much message text an event may carry.
const MaxExcerptLength = 200

// DefaultMaxFileSize is the default max file size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Event types recorded by the pipeline.
const (
	EventDirectiveAccepted = "directive_accepted"
	EventDirectiveRejected = "directive_rejected"
	EventSafetyBlock       = "safety_block"
	EventSpamSuppressed    = "spam_suppressed"
	EventQuotaDenied       = "quota_denied"
	EventModelSwitch       = "model_switch"
	EventBackendError      = "backend_error"
	EventBlacklist         = "blacklist_change"
)

// =============================================================================
// EVENT
// =============================================================================

// Event is a single audit log entry.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	GuildID   string            `json:"guild_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	ModelID   string            `json:"model_id,omitempty"`
	Excerpt   string            `json:"excerpt,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ToJSON formats the event as a single JSON line.
func (e *Event) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// =============================================================================
// LOGGER
// =============================================================================

// Logger appends events to a JSONL audit log with size-based rotation.
type Logger struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	enabled bool
	maxSize int64
}

// NewLogger opens (creating if needed) the audit log at path.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		path:    path,
		file:    file,
		enabled: true,
		maxSize: DefaultMaxFileSize,
	}, nil
}

// Log writes one event. A zero timestamp and empty ID are filled in.
func (l *Logger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || l.file == nil {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Excerpt = truncateExcerpt(event.Excerpt, MaxExcerptLength)

	line, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	if _, err := l.file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	return l.checkRotationLocked()
}

// LogDirective records a directive attempt and its outcome.
func (l *Logger) LogDirective(guildID, userID, text string, accepted bool) error {
	eventType := EventDirectiveRejected
	if accepted {
		eventType = EventDirectiveAccepted
	}
	return l.Log(Event{
		EventType: eventType,
		GuildID:   guildID,
		UserID:    userID,
		Excerpt:   text,
	})
}

// LogSafetyBlock records a blocked response.
func (l *Logger) LogSafetyBlock(guildID, userID, modelID, reason string) error {
	return l.Log(Event{
		EventType: EventSafetyBlock,
		GuildID:   guildID,
		UserID:    userID,
		ModelID:   modelID,
		Metadata:  map[string]string{"reason": reason},
	})
}

// LogQuotaDenied records a quota denial.
func (l *Logger) LogQuotaDenied(guildID, userID, modelID string, used, limit int) error {
	return l.Log(Event{
		EventType: EventQuotaDenied,
		GuildID:   guildID,
		UserID:    userID,
		ModelID:   modelID,
		Metadata: map[string]string{
			"used":  fmt.Sprintf("%d", used),
			"limit": fmt.Sprintf("%d", limit),
		},
	})
}

// =============================================================================
// ROTATION
// =============================================================================

func (l *Logger) checkRotationLocked() error {
	if l.maxSize <= 0 {
		return nil
	}
	info, err := l.file.Stat()
	if err != nil {
		return nil // Ignore stat errors
	}
	if info.Size() >= l.maxSize {
		return l.rotateLocked()
	}
	return nil
}

func (l *Logger) rotateLocked() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	rotatedPath := fmt.Sprintf("%s_%s%s", base, timestamp, ext)

	if err := os.Rename(l.path, rotatedPath); err != nil {
		l.file, _ = os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create new audit log after rotation: %w", err)
	}
	l.file = file
	return nil
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// SetMaxSize sets the maximum file size before rotation.
func (l *Logger) SetMaxSize(size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxSize = size
}

// SetEnabled toggles logging. Disabled loggers silently drop events.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Path returns the audit log path.
func (l *Logger) Path() string {
	return l.path
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func truncateExcerpt(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return util.TruncateRunesNoEllipsis(s, maxLen) + "..."
}
