package parser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"paperscope/internal/config"
	"paperscope/internal/domain"
)

const scrapeFixture = `<!DOCTYPE html>
<html><body>
  <div class="row">
    <h3 class="entry-title"><a href="/papers/one?utm_source=feed&utm_medium=web">Paper One</a></h3>
    <p class="excerpt">First description.</p>
  </div>
  <div class="row">
    <h3 class="entry-title"><a href="/papers/two">Paper Two</a></h3>
  </div>
  <div class="row">
    <h3 class="entry-title"></h3>
    <p class="excerpt">Row without title or link.</p>
  </div>
</body></html>`

func scrapeSource(url string) config.SourceConfig {
	return config.SourceConfig{
		ID:         "test_site",
		Kind:       config.KindScrape,
		URL:        url,
		Category:   domain.CategoryNews,
		Rule:       "rows",
		MaxResults: 20,
	}
}

func init() {
	extractionRules["rows"] = ExtractionRule{
		Row:         "div.row",
		Title:       "h3.entry-title",
		Link:        "h3.entry-title a",
		Description: "p.excerpt",
	}
}

func TestScrapeFetcherExtractsRows(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(scrapeFixture))
	}))
	defer server.Close()

	f := NewScrapeFetcher(server.Client(), nil)
	items, err := f.Fetch(context.Background(), scrapeSource(server.URL))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items (row without title skipped), got %d", len(items))
	}

	if items[0].Title != "Paper One" {
		t.Fatalf("unexpected title: %s", items[0].Title)
	}
	if items[0].BodyText != "First description." {
		t.Fatalf("unexpected description: %s", items[0].BodyText)
	}
	if items[1].BodyText != "" {
		t.Fatalf("missing description must degrade to empty, got %q", items[1].BodyText)
	}
	if !items[0].TimestampInferred {
		t.Fatalf("scraped items carry inferred timestamps")
	}
}

func TestScrapeFetcherStripsQueryFromKey(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(scrapeFixture))
	}))
	defer server.Close()

	f := NewScrapeFetcher(server.Client(), nil)
	items, err := f.Fetch(context.Background(), scrapeSource(server.URL))
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}

	want := server.URL + "/papers/one"
	if items[0].ExternalKey != want {
		t.Fatalf("expected tracking parameters stripped: want %s, got %s", want, items[0].ExternalKey)
	}
}

func TestScrapeFetcherStatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	f := NewScrapeFetcher(server.Client(), nil)
	_, err := f.Fetch(context.Background(), scrapeSource(server.URL))

	var fetchErr *domain.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError on non-2xx status, got %v", err)
	}
}

func TestScrapeFetcherUnknownRule(t *testing.T) {
	t.Parallel()

	src := scrapeSource("https://example.org")
	src.Rule = "nope"

	f := NewScrapeFetcher(nil, nil)
	_, err := f.Fetch(context.Background(), src)

	var fetchErr *domain.FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError for unknown rule, got %v", err)
	}
}
