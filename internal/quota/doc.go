// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package quota enforces per-user daily usage budgets for limited models.
//
// Usage is counted in characters or items depending on the model. Budgets
// reset lazily at UTC midnight: the first check of a new day clears the
// previous day's tally, so no background timer is needed. The ledger is
// held in memory behind a mutex and flushed to SQLite so restarts do not
// hand out fresh budgets mid-day.
package quota
