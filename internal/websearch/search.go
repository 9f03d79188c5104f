// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoResults means the search ran but found nothing usable.
	ErrNoResults = errors.New("no search results")
)

// =============================================================================
// SEARCHER
// =============================================================================

const (
	searchEndpoint = "https://html.duckduckgo.com/html/"

	// browserUA avoids bot-gated empty pages on result fetches.
	browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Result is one search hit.
type Result struct {
	Title   string
	URL     string
	Snippet string
}

// Config tunes the searcher.
type Config struct {
	// MaxResults caps how many hits are kept from the results page.
	MaxResults int

	// MaxPages caps how many result pages are fetched for content.
	MaxPages int

	// FetchTimeout bounds each page fetch.
	FetchTimeout time.Duration
}

// DefaultConfig returns the default searcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxResults:   5,
		MaxPages:     3,
		FetchTimeout: 8 * time.Second,
	}
}

// Searcher runs DuckDuckGo searches and distills result pages.
type Searcher struct {
	config     Config
	httpClient *http.Client

	// endpoint is swapped in tests.
	endpoint string
}

// NewSearcher creates a searcher.
func NewSearcher(config Config) *Searcher {
	d := DefaultConfig()
	if config.MaxResults <= 0 {
		config.MaxResults = d.MaxResults
	}
	if config.MaxPages <= 0 {
		config.MaxPages = d.MaxPages
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = d.FetchTimeout
	}
	return &Searcher{
		config:     config,
		httpClient: &http.Client{},
		endpoint:   searchEndpoint,
	}
}

// =============================================================================
// SEARCH
// =============================================================================

// Search runs a query and returns up to MaxResults hits.
func (s *Searcher) Search(ctx context.Context, query string) ([]Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.endpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	var results []Result
	doc.Find("a.result__a").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if len(results) >= s.config.MaxResults {
			return false
		}
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		target := unwrapRedirect(href)
		if target == "" {
			return true
		}
		r := Result{
			Title: strings.TrimSpace(sel.Text()),
			URL:   target,
		}
		if snippet := sel.Closest(".result").Find(".result__snippet").First(); snippet.Length() > 0 {
			r.Snippet = strings.TrimSpace(snippet.Text())
		}
		results = append(results, r)
		return true
	})

	if len(results) == 0 {
		return nil, ErrNoResults
	}
	return results, nil
}

// unwrapRedirect resolves DuckDuckGo's uddg= redirect links to the real
// target URL.
func unwrapRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if uddg := u.Query().Get("uddg"); uddg != "" {
		if target, err := url.QueryUnescape(uddg); err == nil {
			return target
		}
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return href
	}
	return ""
}
