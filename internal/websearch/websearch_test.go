// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"unicode/utf8"
)

// =============================================================================
// TRIGGER EXTRACTION
// =============================================================================

func TestExtractQuery(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		trigger bool
	}{
		{"search the web for go generics", "go generics", true},
		{"can you look up the weather in oslo?", "the weather in oslo", true},
		{"google rust vs go", "rust vs go", true},
		{"what's the latest on the mars rover", "on the mars rover", true},
		{"ddg search \"quoted query\"", "quoted query", true},
		{"just a normal question", "", false},
		{"I searched everywhere yesterday", "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractQuery(tc.in)
		if ok != tc.trigger {
			t.Errorf("%q: trigger = %v, want %v", tc.in, ok, tc.trigger)
			continue
		}
		if ok && got != tc.want {
			t.Errorf("%q: query = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// =============================================================================
// SEARCH PARSING
// =============================================================================

const resultsPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fblog%2Fgenerics">Generics in Go</a>
  <div class="result__snippet">An introduction to type parameters.</div>
</div>
<div class="result">
  <a class="result__a" href="https://example.org/direct">Direct Link</a>
  <div class="result__snippet">A direct result.</div>
</div>
<div class="result">
  <a class="result__a" href="javascript:void(0)">Junk</a>
</div>
</body></html>`

func TestSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); q != "go generics" {
			t.Errorf("unexpected query param %q", q)
		}
		io.WriteString(w, resultsPage)
	}))
	defer srv.Close()

	s := NewSearcher(DefaultConfig())
	s.endpoint = srv.URL + "/html/"

	results, err := s.Search(context.Background(), "go generics")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 usable results, got %d", len(results))
	}
	if results[0].URL != "https://go.dev/blog/generics" {
		t.Errorf("redirect not unwrapped: %s", results[0].URL)
	}
	if results[0].Title != "Generics in Go" {
		t.Errorf("unexpected title: %s", results[0].Title)
	}
	if results[0].Snippet != "An introduction to type parameters." {
		t.Errorf("unexpected snippet: %s", results[0].Snippet)
	}
	if results[1].URL != "https://example.org/direct" {
		t.Errorf("direct link mangled: %s", results[1].URL)
	}
}

func TestSearchEmptyPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>no results</body></html>")
	}))
	defer srv.Close()

	s := NewSearcher(DefaultConfig())
	s.endpoint = srv.URL + "/html/"

	_, err := s.Search(context.Background(), "anything")
	if !errors.Is(err, ErrNoResults) {
		t.Errorf("expected ErrNoResults, got %v", err)
	}
}

func TestSearchRespectsMaxResults(t *testing.T) {
	var page strings.Builder
	page.WriteString("<html><body>")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&page, `<div class="result"><a class="result__a" href="https://example.org/%d">R%d</a></div>`, i, i)
	}
	page.WriteString("</body></html>")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, page.String())
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.MaxResults = 4
	s := NewSearcher(cfg)
	s.endpoint = srv.URL + "/html/"

	results, err := s.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 4 {
		t.Errorf("expected 4 results, got %d", len(results))
	}
}

// =============================================================================
// PAGE EXTRACTION
// =============================================================================

const contentPage = `<html><head><style>.x{}</style></head><body>
<nav>Home | About | Contact and plenty of other navigation text here</nav>
<header>Site header banner text that should never appear in output</header>
<h1>Understanding Goroutines</h1>
<p>Goroutines are lightweight threads managed by the Go runtime rather than the OS.</p>
<p>short</p>
<p>© 2025 Example Corp, all rights reserved, a line that must be dropped</p>
<li>Channels provide typed communication between goroutines</li>
<li>tiny li</li>
<script>console.log("never this")</script>
<footer>Footer text that is also stripped from extraction output</footer>
</body></html>`

func TestFetchPageExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, contentPage)
	}))
	defer srv.Close()

	s := NewSearcher(DefaultConfig())
	content := s.FetchPage(context.Background(), srv.URL)

	for _, want := range []string{
		"Understanding Goroutines",
		"lightweight threads",
		"Channels provide typed communication",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("missing %q in extracted content", want)
		}
	}
	for _, banned := range []string{"console.log", "navigation text", "header banner", "Footer text", "©", "short", "tiny li"} {
		if strings.Contains(content, banned) {
			t.Errorf("extracted content should not contain %q", banned)
		}
	}
}

func TestFetchPageDiscardsThinPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body><p>Barely anything useful on this page at all.</p></body></html>")
	}))
	defer srv.Close()

	s := NewSearcher(DefaultConfig())
	if content := s.FetchPage(context.Background(), srv.URL); content != "" {
		t.Errorf("thin page should be discarded, got %d chars", len(content))
	}
}

func TestFetchPageCapsLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>")
		for i := 0; i < 100; i++ {
			fmt.Fprintf(w, "<p>Paragraph %d with enough words to pass the length filter easily.</p>", i)
		}
		fmt.Fprint(w, "</body></html>")
	}))
	defer srv.Close()

	s := NewSearcher(DefaultConfig())
	content := s.FetchPage(context.Background(), srv.URL)
	if len(content) > 1500 {
		t.Errorf("page content should be capped at 1500, got %d", len(content))
	}
}

func TestFetchPageCapKeepsRunesIntact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>")
		for i := 0; i < 60; i++ {
			fmt.Fprintf(w, "<p>段落番号%dの日本語テキストで長さフィルタを確実に通過させるための文章です。</p>", i)
		}
		fmt.Fprint(w, "</body></html>")
	}))
	defer srv.Close()

	s := NewSearcher(DefaultConfig())
	content := s.FetchPage(context.Background(), srv.URL)
	if len(content) > 1500 {
		t.Errorf("page content should be capped at 1500, got %d", len(content))
	}
	if !utf8.ValidString(content) {
		t.Error("capped page content should remain valid UTF-8")
	}
}

// =============================================================================
// LOOKUP
// =============================================================================

func TestLookupAssemblesBlock(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/html/", func(w http.ResponseWriter, r *http.Request) {
		target := url.QueryEscape(srv.URL + "/page")
		fmt.Fprintf(w, `<html><body><div class="result">
			<a class="result__a" href="//duckduckgo.com/l/?uddg=%s">Result Title</a>
			<div class="result__snippet">snippet text</div>
		</div></body></html>`, target)
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, contentPage)
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	s := NewSearcher(DefaultConfig())
	s.endpoint = srv.URL + "/html/"

	block, err := s.Lookup(context.Background(), "goroutines")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !strings.HasPrefix(block, `[WEB SEARCH RESULTS for "goroutines"]`) {
		t.Errorf("missing header: %q", block[:60])
	}
	if !strings.HasSuffix(block, "[END OF SEARCH RESULTS]") {
		t.Error("missing footer")
	}
	for _, want := range []string{"Result Title", "snippet text", "Understanding Goroutines"} {
		if !strings.Contains(block, want) {
			t.Errorf("block missing %q", want)
		}
	}
}
