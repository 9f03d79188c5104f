// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package registry holds the static model capability descriptors.
//
// Every behavior that varies per model — backend endpoint shape,
// streaming thinking, web search, daily limits, prompt cadence — is
// expressed as a field on ModelDescriptor and consulted uniformly by
// the composer and dispatcher. Descriptors are immutable after startup.
package registry
