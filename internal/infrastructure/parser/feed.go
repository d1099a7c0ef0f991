package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"paperscope/internal/config"
	"paperscope/internal/domain"
	"paperscope/internal/source"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Trailing version markers like 2303.12345v2 collapse to the unversioned id
// so revisions of the same paper map to one record.
var versionSuffix = regexp.MustCompile(`v\d+$`)

// FeedFetcher pulls items from RSS/Atom feeds.
type FeedFetcher struct {
	client *http.Client
	fp     *gofeed.Parser
	logger *slog.Logger
}

var _ source.Fetcher = (*FeedFetcher)(nil)

// NewFeedFetcher wires an HTTP client; timeout defaults to 20 seconds.
func NewFeedFetcher(client *http.Client, logger *slog.Logger) *FeedFetcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &FeedFetcher{client: client, fp: gofeed.NewParser(), logger: logger}
}

// Kind identifies the adapter inside the registry.
func (f *FeedFetcher) Kind() string {
	return config.KindFeed
}

// Fetch downloads and parses the source feed, mapping at most MaxResults
// entries to raw items. Entries without a title or link are skipped.
func (f *FeedFetcher) Fetch(ctx context.Context, src config.SourceConfig) ([]domain.RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, &domain.FetchError{SourceID: src.ID, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &domain.FetchError{SourceID: src.ID, Err: fmt.Errorf("request feed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.FetchError{SourceID: src.ID, Err: fmt.Errorf("feed returned %s", resp.Status)}
	}

	feed, err := f.fp.Parse(resp.Body)
	if err != nil {
		return nil, &domain.FetchError{SourceID: src.ID, Err: fmt.Errorf("parse feed: %w", err)}
	}

	items := make([]domain.RawItem, 0, src.MaxResults)
	for _, entry := range feed.Items {
		if len(items) >= src.MaxResults {
			break
		}

		item, ok := f.mapEntry(entry, src)
		if !ok {
			if f.logger != nil {
				f.logger.Debug("skipping feed entry without title or link", "source", src.ID)
			}
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

func (f *FeedFetcher) mapEntry(entry *gofeed.Item, src config.SourceConfig) (domain.RawItem, bool) {
	title := strings.TrimSpace(entry.Title)
	link := strings.TrimSpace(entry.Link)
	if title == "" || link == "" {
		return domain.RawItem{}, false
	}

	key := strings.TrimSpace(entry.GUID)
	if key == "" {
		key = link
	}
	key = versionSuffix.ReplaceAllString(key, "")

	publishedAt := time.Now().UTC()
	inferred := true
	if entry.PublishedParsed != nil {
		publishedAt = entry.PublishedParsed.UTC()
		inferred = false
	} else if entry.UpdatedParsed != nil {
		publishedAt = entry.UpdatedParsed.UTC()
		inferred = false
	}

	body := entry.Description
	if body == "" {
		body = entry.Content
	}

	return domain.RawItem{
		SourceID:          src.ID,
		ExternalKey:       key,
		Title:             title,
		BodyText:          strings.TrimSpace(body),
		OriginLink:        link,
		PDFLink:           pdfLink(entry),
		Category:          src.Category,
		PublishedAt:       publishedAt,
		TimestampInferred: inferred,
	}, true
}

func pdfLink(entry *gofeed.Item) string {
	for _, enc := range entry.Enclosures {
		if enc.Type == "application/pdf" {
			return enc.URL
		}
	}
	for _, link := range entry.Links {
		if strings.Contains(link, "/pdf/") || strings.HasSuffix(link, ".pdf") {
			return link
		}
	}
	return ""
}
