// Copyright (c) 2024-2025 Ember Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package websearch

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/emberbot/ember/internal/util"
)

// =============================================================================
// PAGE EXTRACTION
// =============================================================================

const (
	// pageContentCap bounds how much text one page contributes.
	pageContentCap = 1500

	// pageContentMin discards pages that yielded almost nothing.
	pageContentMin = 100
)

// FetchPage fetches a result page and distills its visible content.
// Pages that fail, time out, or yield too little text return "".
func (s *Searcher) FetchPage(ctx context.Context, pageURL string) string {
	ctx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}

	content := extractContent(doc)
	if len(content) < pageContentMin {
		return ""
	}
	return content
}

// extractContent harvests headings, paragraphs, and list items after
// stripping chrome elements.
func extractContent(doc *goquery.Document) string {
	doc.Find("script, style, nav, header, footer").Remove()

	var parts []string

	doc.Find("h1, h2, h3").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if i >= 5 {
			return false
		}
		if t := collapse(sel.Text()); len(t) > 5 {
			parts = append(parts, t)
		}
		return true
	})

	doc.Find("p").Each(func(_ int, sel *goquery.Selection) {
		t := collapse(sel.Text())
		if len(t) > 30 && !strings.Contains(t, "©") {
			parts = append(parts, t)
		}
	})

	doc.Find("li").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if i >= 20 {
			return false
		}
		if t := collapse(sel.Text()); len(t) > 20 {
			parts = append(parts, t)
		}
		return true
	})

	return util.TruncateBytes(strings.Join(parts, "\n"), pageContentCap)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// =============================================================================
// BLOCK ASSEMBLY
// =============================================================================

// Lookup runs the full pipeline: search, fetch the top pages, and render
// everything as a prompt block. Returns ErrNoResults when nothing useful
// came back.
func (s *Searcher) Lookup(ctx context.Context, query string) (string, error) {
	results, err := s.Search(ctx, query)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[WEB SEARCH RESULTS for %q]\n", query)

	fetched := 0
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n%s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			b.WriteString(r.Snippet + "\n")
		}
		if fetched < s.config.MaxPages {
			if content := s.FetchPage(ctx, r.URL); content != "" {
				b.WriteString(content + "\n")
				fetched++
			}
		}
	}

	b.WriteString("\n[END OF SEARCH RESULTS]")
	return b.String(), nil
}
