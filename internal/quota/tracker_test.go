// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package quota

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/emberbot/ember/internal/registry"
)

func newTestTracker(t *testing.T, ownerID string) (*Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "quota.db")
	tr, err := Open(path, registry.NewRegistry(), ownerID)
	if err != nil {
		t.Fatalf("open tracker: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr, path
}

// =============================================================================
// CHARACTER BUDGETS
// =============================================================================

func TestUnlimitedModelAlwaysPasses(t *testing.T) {
	tr, _ := newTestTracker(t, "")
	if err := tr.Check("u1", "ember", 1_000_000); err != nil {
		t.Errorf("unlimited model should pass, got %v", err)
	}
}

func TestCharacterBudgetDeniesOvershoot(t *testing.T) {
	tr, _ := newTestTracker(t, "")
	ctx := context.Background()

	// sage has a 2500 character daily budget.
	if err := tr.Check("u1", "sage", 2000); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := tr.Consume(ctx, "u1", "sage", 2000); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if err := tr.Check("u1", "sage", 400); err != nil {
		t.Errorf("request within budget should pass: %v", err)
	}
	err := tr.Check("u1", "sage", 600)
	if !IsExceeded(err) {
		t.Fatalf("overshoot should be denied, got %v", err)
	}
}

func TestItemBudgetDeniesAtLimit(t *testing.T) {
	tr, _ := newTestTracker(t, "")
	ctx := context.Background()

	// lens allows 5 items per day; a request while under the limit
	// passes even if it lands exactly on it.
	for i := 0; i < 5; i++ {
		if err := tr.Check("u1", "lens", 1); err != nil {
			t.Fatalf("item %d should pass: %v", i, err)
		}
		if err := tr.Consume(ctx, "u1", "lens", 1); err != nil {
			t.Fatalf("consume: %v", err)
		}
	}
	if err := tr.Check("u1", "lens", 1); !IsExceeded(err) {
		t.Errorf("sixth item should be denied, got %v", err)
	}
}

func TestBudgetsArePerUser(t *testing.T) {
	tr, _ := newTestTracker(t, "")
	ctx := context.Background()

	if err := tr.Consume(ctx, "u1", "sage", 2500); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := tr.Check("u1", "sage", 1); !IsExceeded(err) {
		t.Errorf("u1 should be exhausted, got %v", err)
	}
	if err := tr.Check("u2", "sage", 2500); err != nil {
		t.Errorf("u2 has a fresh budget, got %v", err)
	}
}

// =============================================================================
// EXEMPTIONS
// =============================================================================

func TestOwnerBypassesQuota(t *testing.T) {
	tr, _ := newTestTracker(t, "owner-1")
	ctx := context.Background()

	if err := tr.Consume(ctx, "owner-1", "sage", 10_000); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := tr.Check("owner-1", "sage", 10_000); err != nil {
		t.Errorf("owner should bypass quota, got %v", err)
	}
	st, err := tr.Status("owner-1", "sage")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Used != 0 {
		t.Errorf("owner usage should never be charged, got %d", st.Used)
	}
}

func TestBypassedUserIsNotCharged(t *testing.T) {
	tr, _ := newTestTracker(t, "")
	ctx := context.Background()

	if err := tr.AddBypass(ctx, "u1"); err != nil {
		t.Fatalf("add bypass: %v", err)
	}
	if err := tr.Consume(ctx, "u1", "sage", 100); err != nil {
		t.Fatalf("consume: %v", err)
	}

	st, err := tr.Status("u1", "sage")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Used != 0 {
		t.Errorf("bypassed consumption should be a no-op, got used=%d", st.Used)
	}
}

func TestBypassAddRemove(t *testing.T) {
	tr, _ := newTestTracker(t, "")
	ctx := context.Background()

	if err := tr.Consume(ctx, "u1", "sage", 2500); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := tr.AddBypass(ctx, "u1"); err != nil {
		t.Fatalf("add bypass: %v", err)
	}
	if err := tr.Check("u1", "sage", 9999); err != nil {
		t.Errorf("bypassed user should pass, got %v", err)
	}
	if err := tr.RemoveBypass(ctx, "u1"); err != nil {
		t.Fatalf("remove bypass: %v", err)
	}
	if err := tr.Check("u1", "sage", 9999); !IsExceeded(err) {
		t.Errorf("removal should restore enforcement, got %v", err)
	}
}

// =============================================================================
// ROLLOVER AND PERSISTENCE
// =============================================================================

func TestDayRolloverResetsBudget(t *testing.T) {
	tr, _ := newTestTracker(t, "")
	ctx := context.Background()

	day1 := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	tr.now = func() time.Time { return day1 }

	if err := tr.Consume(ctx, "u1", "sage", 2500); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := tr.Check("u1", "sage", 1); !IsExceeded(err) {
		t.Fatalf("budget should be exhausted, got %v", err)
	}

	// Ten minutes later it is a new UTC day.
	tr.now = func() time.Time { return day1.Add(10 * time.Minute) }
	if err := tr.Check("u1", "sage", 2500); err != nil {
		t.Errorf("new day should reset budget, got %v", err)
	}

	st, err := tr.Status("u1", "sage")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Used != 0 || st.Remaining != 2500 {
		t.Errorf("expected fresh status, got used=%d remaining=%d", st.Used, st.Remaining)
	}
}

func TestUsageSurvivesReopen(t *testing.T) {
	tr, path := newTestTracker(t, "")
	ctx := context.Background()

	if err := tr.Consume(ctx, "u1", "sage", 2000); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := tr.AddBypass(ctx, "u2"); err != nil {
		t.Fatalf("add bypass: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	tr2, err := Open(path, registry.NewRegistry(), "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer tr2.Close()

	st, err := tr2.Status("u1", "sage")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Used != 2000 {
		t.Errorf("usage should survive reopen, got %d", st.Used)
	}
	if !tr2.Bypassed("u2") {
		t.Error("bypass should survive reopen")
	}
}

func TestStatusUnlimitedModel(t *testing.T) {
	tr, _ := newTestTracker(t, "")
	st, err := tr.Status("u1", "ember")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Limited {
		t.Error("ember should report unlimited")
	}
}

// =============================================================================
// LIMIT OVERRIDES
// =============================================================================

func TestSetLimitOverridesBudget(t *testing.T) {
	tr, path := newTestTracker(t, "")
	ctx := context.Background()

	if err := tr.SetLimit(ctx, "sage", 100); err != nil {
		t.Fatalf("set limit: %v", err)
	}
	if err := tr.Check("u1", "sage", 200); err == nil {
		t.Error("request over the override should be denied")
	}
	if err := tr.Check("u1", "sage", 50); err != nil {
		t.Errorf("request within the override should pass: %v", err)
	}

	// Overrides persist across reopen.
	tr.Close()
	tr2, err := Open(path, registry.NewRegistry(), "")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer tr2.Close()
	if limit, _ := tr2.Limit("sage"); limit != 100 {
		t.Errorf("override should survive reopen, got %d", limit)
	}

	// Clearing restores the built-in budget.
	if err := tr2.SetLimit(ctx, "sage", 0); err != nil {
		t.Fatalf("clear limit: %v", err)
	}
	if limit, _ := tr2.Limit("sage"); limit != 2500 {
		t.Errorf("built-in budget should return, got %d", limit)
	}
}

func TestSetLimitRejectsUnlimitedModel(t *testing.T) {
	tr, _ := newTestTracker(t, "")
	if err := tr.SetLimit(context.Background(), "ember", 100); err == nil {
		t.Error("unlimited model cannot gain a budget at runtime")
	}
}
