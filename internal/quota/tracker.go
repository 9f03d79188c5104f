// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/emberbot/ember/internal/registry"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrDatabaseError = errors.New("database error")
)

// ExceededError reports a denied request with enough detail for a
// user-facing message.
type ExceededError struct {
	ModelID string
	Used    int
	Limit   int
	Kind    registry.LimitKind
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("daily %s limit reached for %s: %d/%d used",
		e.Kind, e.ModelID, e.Used, e.Limit)
}

// IsExceeded reports whether err is a quota denial.
func IsExceeded(err error) bool {
	var ee *ExceededError
	return errors.As(err, &ee)
}

// =============================================================================
// TRACKER
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS usage (
	user_id  TEXT NOT NULL,
	model_id TEXT NOT NULL,
	day      TEXT NOT NULL,
	used     INTEGER NOT NULL,
	PRIMARY KEY (user_id, model_id)
);
CREATE TABLE IF NOT EXISTS bypass (
	user_id TEXT PRIMARY KEY
);
CREATE TABLE IF NOT EXISTS limits (
	model_id    TEXT PRIMARY KEY,
	daily_limit INTEGER NOT NULL
);
`

type entry struct {
	day  string
	used int
}

// Tracker is the daily quota ledger.
type Tracker struct {
	mu      sync.Mutex
	db      *sql.DB
	reg     *registry.Registry
	ownerID string
	bypass  map[string]bool
	usage   map[string]*entry

	// limits holds admin overrides of per-model daily budgets.
	limits map[string]int

	// now is swapped in tests to exercise the day rollover.
	now func() time.Time
}

// Status is a point-in-time view of one user's budget for one model.
type Status struct {
	ModelID   string
	Limited   bool
	Kind      registry.LimitKind
	Used      int
	Limit     int
	Remaining int
	Bypassed  bool
}

// Open opens the quota database at path and loads today's ledger.
func Open(path string, reg *registry.Registry, ownerID string) (*Tracker, error) {
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

	t := &Tracker{
		db:      db,
		reg:     reg,
		ownerID: ownerID,
		bypass:  make(map[string]bool),
		usage:   make(map[string]*entry),
		limits:  make(map[string]int),
		now:     time.Now,
	}
	if err := t.load(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// Close releases the underlying database.
func (t *Tracker) Close() error {
	if t.db != nil {
		return t.db.Close()
	}
	return nil
}

func (t *Tracker) load() error {
	rows, err := t.db.Query(`SELECT user_id, model_id, day, used FROM usage`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer rows.Close()
	for rows.Next() {
		var userID, modelID, day string
		var used int
		if err := rows.Scan(&userID, &modelID, &day, &used); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		t.usage[usageKey(userID, modelID)] = &entry{day: day, used: used}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}

	brows, err := t.db.Query(`SELECT user_id FROM bypass`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer brows.Close()
	for brows.Next() {
		var userID string
		if err := brows.Scan(&userID); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		t.bypass[userID] = true
	}
	if err := brows.Err(); err != nil {
		return err
	}

	lrows, err := t.db.Query(`SELECT model_id, daily_limit FROM limits`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	defer lrows.Close()
	for lrows.Next() {
		var modelID string
		var limit int
		if err := lrows.Scan(&modelID, &limit); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseError, err)
		}
		t.limits[modelID] = limit
	}
	return lrows.Err()
}

func usageKey(userID, modelID string) string {
	return userID + "\x00" + modelID
}

// today returns the current UTC day. Budgets roll over at UTC midnight.
func (t *Tracker) today() string {
	return t.now().UTC().Format("2006-01-02")
}

// current returns the live entry for a user/model, clearing stale days.
// Caller must hold t.mu.
func (t *Tracker) current(userID, modelID string) *entry {
	key := usageKey(userID, modelID)
	e := t.usage[key]
	day := t.today()
	if e == nil {
		e = &entry{day: day}
		t.usage[key] = e
	} else if e.day != day {
		e.day = day
		e.used = 0
	}
	return e
}

func (t *Tracker) exempt(userID string) bool {
	return userID == t.ownerID && t.ownerID != "" || t.bypass[userID]
}

// limitFor resolves a model's effective daily limit, preferring an admin
// override over the built-in descriptor. Caller must hold t.mu.
func (t *Tracker) limitFor(m registry.ModelDescriptor) int {
	if override, ok := t.limits[m.ID]; ok {
		return override
	}
	return *m.DailyLimit
}

// =============================================================================
// CHECK / CONSUME
// =============================================================================

// Check reports whether a request of the given size may proceed. Character
// budgets deny when the request would overshoot; item budgets deny once
// the count is already at the limit, so a final item may still finish.
// Unlimited models, the owner, and bypassed users always pass.
func (t *Tracker) Check(userID, modelID string, amount int) error {
	m, err := t.reg.Get(modelID)
	if err != nil {
		return err
	}
	if !m.Limited() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exempt(userID) {
		return nil
	}

	e := t.current(userID, m.ID)
	limit := t.limitFor(m)
	switch m.DailyLimitKind {
	case registry.LimitItems:
		if e.used >= limit {
			return &ExceededError{ModelID: m.ID, Used: e.used, Limit: limit, Kind: m.DailyLimitKind}
		}
	default:
		if e.used+amount > limit {
			return &ExceededError{ModelID: m.ID, Used: e.used, Limit: limit, Kind: m.DailyLimitKind}
		}
	}
	return nil
}

// Consume records completed usage and flushes it to disk. The owner and
// bypassed users are never charged.
func (t *Tracker) Consume(ctx context.Context, userID, modelID string, amount int) error {
	m, err := t.reg.Get(modelID)
	if err != nil {
		return err
	}
	if !m.Limited() {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.exempt(userID) {
		return nil
	}

	e := t.current(userID, m.ID)
	e.used += amount

	_, err = t.db.ExecContext(ctx,
		`INSERT INTO usage (user_id, model_id, day, used) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id, model_id) DO UPDATE SET day = excluded.day, used = excluded.used`,
		userID, m.ID, e.day, e.used)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Status returns the user's current budget for a model.
func (t *Tracker) Status(userID, modelID string) (Status, error) {
	m, err := t.reg.Get(modelID)
	if err != nil {
		return Status{}, err
	}
	if !m.Limited() {
		return Status{ModelID: m.ID, Limited: false}, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.current(userID, m.ID)
	limit := t.limitFor(m)
	remaining := limit - e.used
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		ModelID:   m.ID,
		Limited:   true,
		Kind:      m.DailyLimitKind,
		Used:      e.used,
		Limit:     limit,
		Remaining: remaining,
		Bypassed:  t.exempt(userID),
	}, nil
}

// =============================================================================
// BYPASS MANAGEMENT
// =============================================================================

// AddBypass exempts a user from all quota checks until removed.
func (t *Tracker) AddBypass(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.bypass[userID] = true
	_, err := t.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO bypass (user_id) VALUES (?)`, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// RemoveBypass restores normal quota enforcement for a user.
func (t *Tracker) RemoveBypass(ctx context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.bypass, userID)
	_, err := t.db.ExecContext(ctx, `DELETE FROM bypass WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// =============================================================================
// LIMIT OVERRIDES
// =============================================================================

// SetLimit overrides a model's daily budget. A limit of zero or less
// clears the override and restores the built-in value. Models without a
// budget kind cannot acquire one at runtime.
func (t *Tracker) SetLimit(ctx context.Context, modelID string, limit int) error {
	m, err := t.reg.Get(modelID)
	if err != nil {
		return err
	}
	if !m.Limited() {
		return fmt.Errorf("model %s has no daily budget to adjust", m.ID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if limit <= 0 {
		delete(t.limits, m.ID)
		_, err = t.db.ExecContext(ctx, `DELETE FROM limits WHERE model_id = ?`, m.ID)
	} else {
		t.limits[m.ID] = limit
		_, err = t.db.ExecContext(ctx,
			`INSERT INTO limits (model_id, daily_limit) VALUES (?, ?)
			 ON CONFLICT (model_id) DO UPDATE SET daily_limit = excluded.daily_limit`,
			m.ID, limit)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseError, err)
	}
	return nil
}

// Limit returns the effective daily budget for a model.
func (t *Tracker) Limit(modelID string) (int, error) {
	m, err := t.reg.Get(modelID)
	if err != nil {
		return 0, err
	}
	if !m.Limited() {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limitFor(m), nil
}

// Bypassed reports whether a user is currently exempt.
func (t *Tracker) Bypassed(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exempt(userID)
}
