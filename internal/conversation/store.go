// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrDatabaseError = errors.New("database error")
	ErrEmptyExchange = errors.New("exchange has no messages")
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Role identifies who authored a stored message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single stored conversation entry.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Key identifies one conversation.
type Key struct {
	GuildID string
	UserID  string
	ModelID string
}

// =============================================================================
// STORE
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	guild_id  TEXT NOT NULL,
	user_id   TEXT NOT NULL,
	model_id  TEXT NOT NULL,
	role      TEXT NOT NULL,
	content   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_key
	ON messages (guild_id, user_id, model_id, id);
`

// Store persists conversations in SQLite.
type Store struct {
	db *sql.DB

	// maxLen caps stored messages per conversation. Oldest are trimmed.
	maxLen int
}

// Open opens (creating if needed) the conversation database at path.
func Open(path string, maxLen int) (*Store, error) {
	if maxLen <= 0 {
		maxLen = 30
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, maxLen: maxLen}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// =============================================================================
// APPEND
// =============================================================================

// AppendExchange appends messages to a conversation and trims it to the
// configured cap, all in one transaction. Messages keep their given order.
func (s *Store) AppendExchange(ctx context.Context, key Key, msgs ...Message) error {
	if len(msgs) == 0 {
		return ErrEmptyExchange
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	insert, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (guild_id, user_id, model_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer insert.Close()

	for _, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := insert.ExecContext(ctx,
			key.GuildID, key.UserID, key.ModelID,
			string(m.Role), m.Content, ts.UnixMilli()); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
	}

	// Trim to cap: delete everything older than the newest maxLen rows.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages
		 WHERE guild_id = ? AND user_id = ? AND model_id = ?
		   AND id NOT IN (
			SELECT id FROM messages
			WHERE guild_id = ? AND user_id = ? AND model_id = ?
			ORDER BY id DESC LIMIT ?)`,
		key.GuildID, key.UserID, key.ModelID,
		key.GuildID, key.UserID, key.ModelID, s.maxLen); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

// Load returns up to limit most recent messages in chronological order.
// A limit of 0 returns the full stored conversation. A conversation that
// does not exist yields an empty slice, not an error.
func (s *Store) Load(ctx context.Context, key Key, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = s.maxLen
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM (
			SELECT id, role, content, created_at FROM messages
			WHERE guild_id = ? AND user_id = ? AND model_id = ?
			ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		key.GuildID, key.UserID, key.ModelID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var (
			role    string
			content string
			created int64
		)
		if err := rows.Scan(&role, &content, &created); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		msgs = append(msgs, Message{
			Role:      Role(role),
			Content:   content,
			Timestamp: time.UnixMilli(created).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return msgs, nil
}

// Count returns how many messages a conversation holds.
func (s *Store) Count(ctx context.Context, key Key) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages
		 WHERE guild_id = ? AND user_id = ? AND model_id = ?`,
		key.GuildID, key.UserID, key.ModelID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return n, nil
}

// =============================================================================
// CLEAR / DROP
// =============================================================================

// Clear removes a user's conversation for one model, or for every model
// when modelID is empty. Returns the number of messages removed.
func (s *Store) Clear(ctx context.Context, guildID, userID, modelID string) (int, error) {
	var (
		res sql.Result
		err error
	)
	if modelID == "" {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE guild_id = ? AND user_id = ?`,
			guildID, userID)
	} else {
		res, err = s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE guild_id = ? AND user_id = ? AND model_id = ?`,
			guildID, userID, modelID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DropLastExchange removes the most recent assistant message and the user
// message that preceded it. Used when regenerating a response so the
// retried prompt does not see the answer it is replacing.
func (s *Store) DropLastExchange(ctx context.Context, key Key) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer tx.Rollback()

	var assistantID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM messages
		 WHERE guild_id = ? AND user_id = ? AND model_id = ? AND role = ?
		 ORDER BY id DESC LIMIT 1`,
		key.GuildID, key.UserID, key.ModelID, string(RoleAssistant)).Scan(&assistantID)
	if errors.Is(err, sql.ErrNoRows) {
		return tx.Commit()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, assistantID); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	// Drop the user message that prompted it, if one precedes it.
	var userID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM messages
		 WHERE guild_id = ? AND user_id = ? AND model_id = ? AND role = ? AND id < ?
		 ORDER BY id DESC LIMIT 1`,
		key.GuildID, key.UserID, key.ModelID, string(RoleUser), assistantID).Scan(&userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	if err == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, userID); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}
