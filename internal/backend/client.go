// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/emberbot/ember/internal/registry"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from a backend host.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeUnavailable
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeInvalidResponse
)

// Sentinel errors for easy checking.
var (
	ErrUnavailable   = &ClientError{Type: ErrTypeUnavailable, Message: "backend is not reachable"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found on backend"}
)

// IsUnavailable reports whether err should surface as a generic
// "backend down, try again" message.
func IsUnavailable(err error) bool {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce.Type == ErrTypeUnavailable || ce.Type == ErrTypeTimeout
	}
	return false
}

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the backend client.
type ClientConfig struct {
	// CloudURL serves descriptors flagged IsCloud.
	CloudURL string

	// LocalURL serves everything else.
	LocalURL string

	// ChatTimeout bounds a non-streaming completion.
	ChatTimeout time.Duration

	// ThinkingTimeout replaces ChatTimeout for reasoning models.
	ThinkingTimeout time.Duration

	// StreamTimeout bounds an entire streaming response.
	StreamTimeout time.Duration
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		CloudURL:        "http://127.0.0.1:11434",
		LocalURL:        "http://127.0.0.1:11434",
		ChatTimeout:     120 * time.Second,
		ThinkingTimeout: 180 * time.Second,
		StreamTimeout:   300 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client dispatches completions to Ollama-protocol hosts.
// It is safe for concurrent use.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

// NewClient creates a backend client.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	d := DefaultClientConfig()
	if config.CloudURL == "" {
		config.CloudURL = d.CloudURL
	}
	if config.LocalURL == "" {
		config.LocalURL = d.LocalURL
	}
	if config.ChatTimeout == 0 {
		config.ChatTimeout = d.ChatTimeout
	}
	if config.ThinkingTimeout == 0 {
		config.ThinkingTimeout = d.ThinkingTimeout
	}
	if config.StreamTimeout == 0 {
		config.StreamTimeout = d.StreamTimeout
	}

	return &Client{
		config: config,
		// Per-request deadlines come from contexts; the transport
		// itself stays unbounded so streams are not cut short.
		httpClient: &http.Client{},
	}
}

func (c *Client) baseURL(m registry.ModelDescriptor) string {
	if m.IsCloud {
		return c.config.CloudURL
	}
	return c.config.LocalURL
}

func (c *Client) syncTimeout(m registry.ModelDescriptor) time.Duration {
	if m.ShowsThinking {
		return c.config.ThinkingTimeout
	}
	return c.config.ChatTimeout
}

func optionsFor(m registry.ModelDescriptor) *Options {
	numPredict := m.NumPredict
	if numPredict <= 0 {
		numPredict = 1024
	}
	temperature := m.Temperature
	if temperature <= 0 {
		temperature = 0.9
	}
	return &Options{NumPredict: numPredict, Temperature: temperature}
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that a backend host is reachable.
func (c *Client) CheckRunning(ctx context.Context, cloud bool) error {
	url := c.config.LocalURL
	if cloud {
		url = c.config.CloudURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &ClientError{Type: ErrTypeUnavailable, Message: "failed to create request", Cause: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeUnavailable,
			Message: "unexpected status from backend: " + resp.Status,
		}
	}
	return nil
}

// =============================================================================
// COMPLETIONS
// =============================================================================

// Complete sends a non-streaming completion and returns the raw response
// text. UsesGenerate models get the message list flattened into a single
// prompt; everything else goes through the chat endpoint.
func (c *Client) Complete(ctx context.Context, m registry.ModelDescriptor, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.syncTimeout(m))
	defer cancel()

	if m.UsesGenerate {
		return c.generate(ctx, m, messages)
	}
	return c.chat(ctx, m, messages)
}

func (c *Client) chat(ctx context.Context, m registry.ModelDescriptor, messages []Message) (string, error) {
	reqBody := ChatRequest{
		Model:    m.BackendModel,
		Messages: messages,
		Stream:   false,
		Options:  optionsFor(m),
	}

	var result ChatResponse
	if err := c.post(ctx, c.baseURL(m)+"/api/chat", reqBody, &result); err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

func (c *Client) generate(ctx context.Context, m registry.ModelDescriptor, messages []Message) (string, error) {
	reqBody := GenerateRequest{
		Model:   m.BackendModel,
		Prompt:  FlattenMessages(messages),
		Stream:  false,
		Options: optionsFor(m),
	}

	var result GenerateResponse
	if err := c.post(ctx, c.baseURL(m)+"/api/generate", reqBody, &result); err != nil {
		return "", err
	}
	return result.Response, nil
}

func (c *Client) post(ctx context.Context, url string, reqBody, result any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeUnavailable, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}
	// Any other non-2xx means the host cannot serve the request right
	// now; callers surface it as a generic backend-down message.
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return &ClientError{Type: ErrTypeUnavailable, Message: apiErr.Error}
		}
		return &ClientError{
			Type:    ErrTypeUnavailable,
			Message: "request failed: " + resp.Status,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	return nil
}

// =============================================================================
// STREAMING
// =============================================================================

// Stream sends a streaming completion and calls the callback for each
// chunk in arrival order. Returns when the stream completes, fails, or
// hits the stream timeout.
func (c *Client) Stream(ctx context.Context, m registry.ModelDescriptor, messages []Message, callback StreamCallback) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.StreamTimeout)
	defer cancel()

	var (
		url  string
		body []byte
		err  error
	)
	if m.UsesGenerate {
		url = c.baseURL(m) + "/api/generate"
		body, err = json.Marshal(GenerateRequest{
			Model:   m.BackendModel,
			Prompt:  FlattenMessages(messages),
			Stream:  true,
			Options: optionsFor(m),
		})
	} else {
		url = c.baseURL(m) + "/api/chat"
		body, err = json.Marshal(ChatRequest{
			Model:    m.BackendModel,
			Messages: messages,
			Stream:   true,
			Options:  optionsFor(m),
		})
	}
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &ClientError{Type: ErrTypeUnavailable, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ErrTimeout
		}
		return ErrUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return &ClientError{Type: ErrTypeUnavailable, Message: apiErr.Error}
		}
		return &ClientError{
			Type:    ErrTypeUnavailable,
			Message: "stream request failed: " + resp.Status,
		}
	}

	reader := NewStreamReader(resp.Body)
	return reader.Process(ctx, callback)
}

// =============================================================================
// PROMPT FLATTENING
// =============================================================================

// FlattenMessages renders a message list as a single generate-mode
// prompt. Roles become "System:", "User:" and "Assistant:" lines, with a
// trailing "Assistant:" cueing the model to respond.
func FlattenMessages(messages []Message) string {
	var b strings.Builder
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			b.WriteString("System: ")
		case "assistant":
			b.WriteString("Assistant: ")
		default:
			b.WriteString("User: ")
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
