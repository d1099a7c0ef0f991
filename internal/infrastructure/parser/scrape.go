package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"paperscope/internal/config"
	"paperscope/internal/domain"
	"paperscope/internal/source"
)

// ExtractionRule describes how to pull items out of one site's HTML: a row
// selector plus per-row selectors for the title, link and an optional
// description. Link and Description may be empty; the link then comes from
// the first anchor inside the title element, and the description stays blank.
type ExtractionRule struct {
	Row         string
	Title       string
	Link        string
	Description string
}

// Built-in rules for the scraped sources. Keyed by SourceConfig.Rule.
var extractionRules = map[string]ExtractionRule{
	"hf":    {Row: "article", Title: "h3", Link: "a[href^='/papers/']", Description: "p"},
	"pwc":   {Row: ".paper-card", Title: "h1 a", Link: "h1 a", Description: ".item-strip-abstract"},
	"gh":    {Row: "article.Box-row", Title: "h2 a", Link: "h2 a", Description: "p.col-9"},
	"batch": {Row: "article", Title: "h2", Link: "a", Description: "div.prose p"},
}

// ScrapeFetcher pulls items from HTML pages via source-specific rules.
type ScrapeFetcher struct {
	client *http.Client
	logger *slog.Logger
}

var _ source.Fetcher = (*ScrapeFetcher)(nil)

// NewScrapeFetcher wires an HTTP client; timeout defaults to 20 seconds.
func NewScrapeFetcher(client *http.Client, logger *slog.Logger) *ScrapeFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &ScrapeFetcher{client: client, logger: logger}
}

// Kind identifies the adapter inside the registry.
func (s *ScrapeFetcher) Kind() string {
	return config.KindScrape
}

// Fetch downloads the page and applies the source's extraction rule. Rows
// missing a title or link are skipped; a missing description is tolerated.
func (s *ScrapeFetcher) Fetch(ctx context.Context, src config.SourceConfig) ([]domain.RawItem, error) {
	rule, ok := extractionRules[src.Rule]
	if !ok {
		return nil, &domain.FetchError{SourceID: src.ID, Err: fmt.Errorf("unknown extraction rule %q", src.Rule)}
	}

	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, &domain.FetchError{SourceID: src.ID, Err: fmt.Errorf("invalid source url: %w", err)}
	}

	doc, err := s.fetchDocument(ctx, src)
	if err != nil {
		return nil, err
	}

	fetchedAt := time.Now().UTC()
	items := make([]domain.RawItem, 0, src.MaxResults)
	seen := map[string]struct{}{}

	doc.Find(rule.Row).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if len(items) >= src.MaxResults {
			return false
		}

		title := strings.TrimSpace(row.Find(rule.Title).First().Text())
		link := extractLink(row, rule, base)
		if title == "" || link == "" {
			if s.logger != nil {
				s.logger.Debug("skipping row without title or link", "source", src.ID)
			}
			return true
		}

		key := stripQuery(link)
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}

		description := ""
		if rule.Description != "" {
			description = strings.TrimSpace(row.Find(rule.Description).First().Text())
		}

		items = append(items, domain.RawItem{
			SourceID:          src.ID,
			ExternalKey:       key,
			Title:             title,
			BodyText:          description,
			OriginLink:        link,
			Category:          src.Category,
			PublishedAt:       fetchedAt,
			TimestampInferred: true,
		})
		return true
	})

	return items, nil
}

func (s *ScrapeFetcher) fetchDocument(ctx context.Context, src config.SourceConfig) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, &domain.FetchError{SourceID: src.ID, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{SourceID: src.ID, Err: fmt.Errorf("request page: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.FetchError{SourceID: src.ID, Err: fmt.Errorf("page returned %s", resp.Status)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{SourceID: src.ID, Err: fmt.Errorf("parse document: %w", err)}
	}

	return doc, nil
}

func extractLink(row *goquery.Selection, rule ExtractionRule, base *url.URL) string {
	sel := rule.Link
	if sel == "" {
		sel = rule.Title + " a, a"
	}

	href, ok := row.Find(sel).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}

	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

// stripQuery drops query parameters and fragments so tracking parameters do
// not split one article into many identities.
func stripQuery(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
