// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrDatabaseError = errors.New("database error")

	// ErrModelLocked means the guild admin pinned the model and user
	// preferences are ignored.
	ErrModelLocked = errors.New("model selection is locked for this guild")
)

// =============================================================================
// TYPES
// =============================================================================

// GuildSettings is one guild's configuration.
type GuildSettings struct {
	GuildID        string
	Enabled        bool
	DefaultModelID string
	ModelLocked    bool
}

// =============================================================================
// STORE
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS guilds (
	guild_id      TEXT PRIMARY KEY,
	enabled       INTEGER NOT NULL DEFAULT 1,
	default_model TEXT NOT NULL DEFAULT '',
	model_locked  INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS user_models (
	guild_id TEXT NOT NULL,
	user_id  TEXT NOT NULL,
	model_id TEXT NOT NULL,
	PRIMARY KEY (guild_id, user_id)
);
CREATE TABLE IF NOT EXISTS blacklist (
	user_id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS flags (
	name  TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// Store persists guild and user settings.
type Store struct {
	db *sql.DB

	// defaultModelID backs guilds with no explicit default.
	defaultModelID string

	mu          sync.RWMutex
	blacklist   map[string]bool
	maintenance bool
}

// Open opens (creating if needed) the settings database at path.
// defaultModelID is used for guilds that never set one.
func Open(path, defaultModelID string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &Store{
		db:             db,
		defaultModelID: defaultModelID,
		blacklist:      make(map[string]bool),
	}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT user_id FROM blacklist`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		s.blacklist[userID] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	var v int
	err = s.db.QueryRow(`SELECT value FROM flags WHERE name = 'maintenance'`).Scan(&v)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	s.maintenance = v != 0
	return nil
}

// =============================================================================
// GUILD SETTINGS
// =============================================================================

// Guild returns a guild's settings, with defaults for unknown guilds.
func (s *Store) Guild(ctx context.Context, guildID string) (GuildSettings, error) {
	gs := GuildSettings{
		GuildID:        guildID,
		Enabled:        true,
		DefaultModelID: s.defaultModelID,
	}

	var enabled, locked int
	var defaultModel string
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, default_model, model_locked FROM guilds WHERE guild_id = ?`,
		guildID).Scan(&enabled, &defaultModel, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return gs, nil
	}
	if err != nil {
		return gs, fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	gs.Enabled = enabled != 0
	gs.ModelLocked = locked != 0
	if defaultModel != "" {
		gs.DefaultModelID = defaultModel
	}
	return gs, nil
}

// SetGuildEnabled toggles whether the bot responds in a guild.
func (s *Store) SetGuildEnabled(ctx context.Context, guildID string, enabled bool) error {
	return s.upsertGuild(ctx, guildID, "enabled", boolTo(enabled))
}

// SetGuildModel sets a guild's default model and lock state.
func (s *Store) SetGuildModel(ctx context.Context, guildID, modelID string, locked bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO guilds (guild_id, default_model, model_locked) VALUES (?, ?, ?)
		 ON CONFLICT (guild_id) DO UPDATE SET default_model = excluded.default_model,
		                                     model_locked = excluded.model_locked`,
		guildID, modelID, boolTo(locked))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

func (s *Store) upsertGuild(ctx context.Context, guildID, column string, value int) error {
	// column is one of our own identifiers, never user input.
	q := fmt.Sprintf(
		`INSERT INTO guilds (guild_id, %s) VALUES (?, ?)
		 ON CONFLICT (guild_id) DO UPDATE SET %s = excluded.%s`, column, column, column)
	if _, err := s.db.ExecContext(ctx, q, guildID, value); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// =============================================================================
// USER MODEL PREFERENCES
// =============================================================================

// SetUserModel records a user's model choice. Fails with ErrModelLocked
// when the guild has pinned its model.
func (s *Store) SetUserModel(ctx context.Context, guildID, userID, modelID string) error {
	gs, err := s.Guild(ctx, guildID)
	if err != nil {
		return err
	}
	if gs.ModelLocked {
		return ErrModelLocked
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO user_models (guild_id, user_id, model_id) VALUES (?, ?, ?)
		 ON CONFLICT (guild_id, user_id) DO UPDATE SET model_id = excluded.model_id`,
		guildID, userID, modelID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// ResolveModel returns the model to use for a user: the guild's pinned
// model when locked, else the user's preference, else the guild default.
func (s *Store) ResolveModel(ctx context.Context, guildID, userID string) (string, error) {
	gs, err := s.Guild(ctx, guildID)
	if err != nil {
		return "", err
	}
	if gs.ModelLocked {
		return gs.DefaultModelID, nil
	}

	var modelID string
	err = s.db.QueryRowContext(ctx,
		`SELECT model_id FROM user_models WHERE guild_id = ? AND user_id = ?`,
		guildID, userID).Scan(&modelID)
	if errors.Is(err, sql.ErrNoRows) {
		return gs.DefaultModelID, nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return modelID, nil
}

// =============================================================================
// BLACKLIST
// =============================================================================

// Blacklist adds a user to the blacklist.
func (s *Store) Blacklist(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[userID] = true
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blacklist (user_id) VALUES (?)`, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Unblacklist removes a user from the blacklist.
func (s *Store) Unblacklist(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blacklist, userID)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM blacklist WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Blacklisted reports whether a user is blacklisted.
func (s *Store) Blacklisted(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blacklist[userID]
}

// =============================================================================
// MAINTENANCE MODE
// =============================================================================

// SetMaintenance toggles the global maintenance flag.
func (s *Store) SetMaintenance(ctx context.Context, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maintenance = on
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO flags (name, value) VALUES ('maintenance', ?)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value`, boolTo(on)); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Maintenance reports whether maintenance mode is active.
func (s *Store) Maintenance() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maintenance
}

func boolTo(b bool) int {
	if b {
		return 1
	}
	return 0
}
