// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/emberbot/ember/internal/registry"
)

func mustModel(t *testing.T, id string) registry.ModelDescriptor {
	t.Helper()
	m, err := registry.NewRegistry().Get(id)
	if err != nil {
		t.Fatalf("get model %s: %v", id, err)
	}
	return m
}

func clientFor(url string) *Client {
	return NewClient(&ClientConfig{CloudURL: url, LocalURL: url})
}

// =============================================================================
// CHAT
// =============================================================================

func TestCompleteChat(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(ChatResponse{
			Message: Message{Role: "assistant", Content: "hello back"},
			Done:    true,
		})
	}))
	defer srv.Close()

	m := mustModel(t, "ember")
	out, err := clientFor(srv.URL).Complete(context.Background(), m, []Message{
		{Role: "system", Content: "be friendly"},
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "hello back" {
		t.Errorf("unexpected response: %q", out)
	}
	if got.Stream {
		t.Error("non-streaming request should set stream=false")
	}
	if got.Model != m.BackendModel {
		t.Errorf("expected backend model %s, got %s", m.BackendModel, got.Model)
	}
	if got.Options == nil || got.Options.NumPredict != 1024 {
		t.Errorf("expected default num_predict 1024, got %+v", got.Options)
	}
	if got.Options.Temperature != 0.9 {
		t.Errorf("expected default temperature 0.9, got %v", got.Options.Temperature)
	}
}

func TestCompleteGenerateFlattens(t *testing.T) {
	var got GenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(GenerateResponse{Response: "done", Done: true})
	}))
	defer srv.Close()

	// scorcher is a generate-mode model with a raised num_predict.
	m := mustModel(t, "scorcher")
	out, err := clientFor(srv.URL).Complete(context.Background(), m, []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "q1"},
		{Role: "assistant", Content: "a1"},
		{Role: "user", Content: "q2"},
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if out != "done" {
		t.Errorf("unexpected response: %q", out)
	}

	want := "System: sys\nUser: q1\nAssistant: a1\nUser: q2\nAssistant:"
	if got.Prompt != want {
		t.Errorf("flattened prompt mismatch:\n got %q\nwant %q", got.Prompt, want)
	}
	if got.Options == nil || got.Options.NumPredict != 3000 {
		t.Errorf("scorcher should request num_predict 3000, got %+v", got.Options)
	}
}

// =============================================================================
// ERRORS
// =============================================================================

func TestCompleteBackendDown(t *testing.T) {
	c := clientFor("http://127.0.0.1:1") // nothing listens here
	_, err := c.Complete(context.Background(), mustModel(t, "ember"), []Message{
		{Role: "user", Content: "hi"},
	})
	if !IsUnavailable(err) {
		t.Errorf("expected unavailable classification, got %v", err)
	}
}

func TestCompleteModelMissing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := clientFor(srv.URL).Complete(context.Background(), mustModel(t, "ember"), []Message{
		{Role: "user", Content: "hi"},
	})
	var ce *ClientError
	if !errors.As(err, &ce) || ce.Type != ErrTypeModelNotFound {
		t.Errorf("expected model-not-found, got %v", err)
	}
}

func TestCompleteServerErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "model requires more memory"})
	}))
	defer srv.Close()

	_, err := clientFor(srv.URL).Complete(context.Background(), mustModel(t, "ember"), []Message{
		{Role: "user", Content: "hi"},
	})
	if err == nil || !strings.Contains(err.Error(), "more memory") {
		t.Errorf("expected backend error message surfaced, got %v", err)
	}
	if !IsUnavailable(err) {
		t.Errorf("a failing host should classify as unavailable, got %v", err)
	}
}

// =============================================================================
// STREAMING
// =============================================================================

func TestStreamDeliversChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, word := range []string{"Hello", " there", "!"} {
			fmt.Fprintf(w, `{"model":"m","message":{"role":"assistant","content":%q},"done":false}`+"\n", word)
			flusher.Flush()
		}
		fmt.Fprintln(w, `{"model":"m","message":{"role":"assistant","content":""},"done":true,"eval_count":3}`)
	}))
	defer srv.Close()

	var parts []string
	var final StreamChunk
	err := clientFor(srv.URL).Stream(context.Background(), mustModel(t, "sage"), []Message{
		{Role: "user", Content: "hi"},
	}, func(chunk StreamChunk) {
		if chunk.Done {
			final = chunk
			return
		}
		parts = append(parts, chunk.Content)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(parts, "") != "Hello there!" {
		t.Errorf("unexpected content: %q", strings.Join(parts, ""))
	}
	if !final.Done || final.CompletionTokens != 3 {
		t.Errorf("unexpected final chunk: %+v", final)
	}
}

func TestStreamSkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"ok"},"done":false}`)
		fmt.Fprintln(w, `this is not json`)
		fmt.Fprintln(w, `{"message":{"content":""},"done":true}`)
	}))
	defer srv.Close()

	var content strings.Builder
	err := clientFor(srv.URL).Stream(context.Background(), mustModel(t, "sage"), nil,
		func(chunk StreamChunk) { content.WriteString(chunk.Content) })
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if content.String() != "ok" {
		t.Errorf("unexpected content: %q", content.String())
	}
}

// =============================================================================
// THINKING SPLITTER
// =============================================================================

func TestSplitThinking(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		thinking string
		answer   string
	}{
		{
			name:     "paired markers",
			in:       "<think>user wants a joke</think>Why did the gopher cross the road?",
			thinking: "user wants a joke",
			answer:   "Why did the gopher cross the road?",
		},
		{
			name:   "no markers",
			in:     "just an answer",
			answer: "just an answer",
		},
		{
			name:     "close without open",
			in:       "leaked reasoning</think>the answer",
			thinking: "leaked reasoning",
			answer:   "the answer",
		},
		{
			name:     "open without close",
			in:       "partial<think>never finished",
			thinking: "never finished",
			answer:   "partial",
		},
		{
			name:   "empty input",
			in:     "",
			answer: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			thinking, answer := SplitThinking(tc.in)
			if thinking != tc.thinking {
				t.Errorf("thinking = %q, want %q", thinking, tc.thinking)
			}
			if answer != tc.answer {
				t.Errorf("answer = %q, want %q", answer, tc.answer)
			}
			if strings.Contains(answer, "<think>") || strings.Contains(answer, "</think>") {
				t.Errorf("markers leaked into answer: %q", answer)
			}
		})
	}
}

// =============================================================================
// FLATTENING
// =============================================================================

func TestFlattenEmptyList(t *testing.T) {
	if got := FlattenMessages(nil); got != "Assistant:" {
		t.Errorf("empty flatten should still cue the model: %q", got)
	}
}
