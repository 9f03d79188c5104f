// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// LIMIT KINDS
// =============================================================================

// LimitKind says what unit a model's daily limit counts.
type LimitKind string

const (
	// LimitCharacters counts response characters consumed per day.
	LimitCharacters LimitKind = "characters"

	// LimitItems counts discrete uses per day (e.g. image descriptions).
	LimitItems LimitKind = "items"
)

// =============================================================================
// MODEL DESCRIPTOR
// =============================================================================

// ModelDescriptor is the immutable capability record for one model.
type ModelDescriptor struct {
	// ID is the short identifier users select by
	ID string `json:"id"`

	// Name is the plain model name
	Name string `json:"name"`

	// DisplayName is the decorated name shown to users
	DisplayName string `json:"display_name"`

	// Description is a one-line explanation of the model's character
	Description string `json:"description"`

	// BackendModel is the model name sent to the inference backend
	BackendModel string `json:"backend_model"`

	// IsCloud selects the cloud backend host over the local one
	IsCloud bool `json:"is_cloud"`

	// SupportsImages enables attachment description for this model
	SupportsImages bool `json:"supports_images"`

	// VisionOnly marks models that only describe images and refuse chat
	VisionOnly bool `json:"vision_only"`

	// ShowsThinking enables streaming with <think> segment display
	ShowsThinking bool `json:"shows_thinking"`

	// HasWebSearch enables the web-search augmenter
	HasWebSearch bool `json:"has_web_search"`

	// UsesGenerate selects the flattened single-prompt endpoint
	// instead of the chat endpoint
	UsesGenerate bool `json:"uses_generate"`

	// AlwaysFullPrompt disables the reminder-prompt cadence
	AlwaysFullPrompt bool `json:"always_full_prompt"`

	// DailyLimit is the per-user per-day consumption cap.
	// nil means the model is never throttled.
	DailyLimit *int `json:"daily_limit,omitempty"`

	// DailyLimitKind says what unit DailyLimit counts
	DailyLimitKind LimitKind `json:"daily_limit_kind,omitempty"`

	// NumPredict caps generated tokens per request (0 = default)
	NumPredict int `json:"num_predict,omitempty"`

	// Temperature overrides the sampling temperature (0 = default)
	Temperature float64 `json:"temperature,omitempty"`

	// Color is the accent color callers may use when rendering
	Color int `json:"color"`
}

// Limited reports whether the model carries a daily limit.
func (m ModelDescriptor) Limited() bool {
	return m.DailyLimit != nil
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrModelNotFound is returned when a model ID has no descriptor.
// Fatal to the single request only; the caller surfaces a short
// user-facing message and does not retry.
var ErrModelNotFound = errors.New("model not found")

// =============================================================================
// REGISTRY
// =============================================================================

// Registry is a read-only model lookup built at startup.
type Registry struct {
	models    map[string]ModelDescriptor
	defaultID string
}

// DefaultModelID is the model used when neither the user nor the
// guild has picked one.
const DefaultModelID = "ember"

func limit(n int) *int { return &n }

// builtin is the shipped model set.
var builtin = map[string]ModelDescriptor{
	"ember": {
		ID:             "ember",
		Name:           "Ember",
		DisplayName:    "💬 Ember",
		Description:    "casual friend that matches your energy",
		BackendModel:   "gemma3:27b-cloud",
		IsCloud:        true,
		SupportsImages: true,
		Color:          0x9B59B6,
	},
	"sage": {
		ID:               "sage",
		Name:             "Sage",
		DisplayName:      "🧠 Sage",
		Description:      "deep thinker with visible reasoning",
		BackendModel:     "nemotron-3-nano:30b-cloud",
		IsCloud:          true,
		SupportsImages:   true,
		ShowsThinking:    true,
		HasWebSearch:     true,
		AlwaysFullPrompt: true,
		DailyLimit:       limit(2500),
		DailyLimitKind:   LimitCharacters,
		Color:            0x3498DB,
	},
	"scorcher": {
		ID:               "scorcher",
		Name:             "Scorcher",
		DisplayName:      "🔥 Scorcher",
		Description:      "roasts with no mercy",
		BackendModel:     "devstral-2:123b-cloud",
		IsCloud:          true,
		AlwaysFullPrompt: true,
		NumPredict:       3000,
		Color:            0xE74C3C,
	},
	"lens": {
		ID:             "lens",
		Name:           "Lens",
		DisplayName:    "👁️ Lens",
		Description:    "describes images for the other models",
		BackendModel:   "gemma3:27b-cloud",
		IsCloud:        true,
		SupportsImages: true,
		VisionOnly:     true,
		DailyLimit:     limit(5),
		DailyLimitKind: LimitItems,
		Color:          0xF39C12,
	},
}

// NewRegistry returns the registry of shipped models.
func NewRegistry() *Registry {
	return &Registry{models: builtin, defaultID: DefaultModelID}
}

// NewRegistryWithModels builds a registry from an explicit descriptor
// set. Used by tests and by deployments that override the model table.
func NewRegistryWithModels(models []ModelDescriptor, defaultID string) (*Registry, error) {
	if len(models) == 0 {
		return nil, errors.New("registry needs at least one model")
	}
	m := make(map[string]ModelDescriptor, len(models))
	for _, md := range models {
		if md.ID == "" {
			return nil, errors.New("model descriptor missing ID")
		}
		m[md.ID] = md
	}
	if _, ok := m[defaultID]; !ok {
		return nil, fmt.Errorf("default model %q not in registry", defaultID)
	}
	return &Registry{models: m, defaultID: defaultID}, nil
}

// Get looks up a model by ID.
func (r *Registry) Get(id string) (ModelDescriptor, error) {
	md, ok := r.models[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return md, nil
}

// Has reports whether a model ID exists.
func (r *Registry) Has(id string) bool {
	_, ok := r.models[strings.ToLower(strings.TrimSpace(id))]
	return ok
}

// Default returns the default model's descriptor.
func (r *Registry) Default() ModelDescriptor {
	return r.models[r.defaultID]
}

// DefaultID returns the default model ID.
func (r *Registry) DefaultID() string {
	return r.defaultID
}

// All returns every descriptor sorted by ID.
func (r *Registry) All() []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(r.models))
	for _, md := range r.models {
		out = append(out, md)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
