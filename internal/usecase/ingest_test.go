package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperscope/internal/config"
	"paperscope/internal/domain"
	"paperscope/internal/ports"
	"paperscope/internal/source"
)

type fakeFetcher struct {
	items map[string][]domain.RawItem
	fail  map[string]bool
}

func (f *fakeFetcher) Kind() string { return config.KindFeed }

func (f *fakeFetcher) Fetch(_ context.Context, src config.SourceConfig) ([]domain.RawItem, error) {
	if f.fail[src.ID] {
		return nil, &domain.FetchError{SourceID: src.ID, Err: fmt.Errorf("boom")}
	}
	return f.items[src.ID], nil
}

// memStore mirrors the Postgres upsert contract: descriptive fields follow
// the fresh write, enrichment fields only move from nil to a value.
type memStore struct {
	mu        sync.Mutex
	items     map[string]domain.EnrichedItem
	qa        map[uuid.UUID][]domain.QAEntry
	alwaysNew bool
}

func newMemStore() *memStore {
	return &memStore{
		items: map[string]domain.EnrichedItem{},
		qa:    map[uuid.UUID][]domain.QAEntry{},
	}
}

func identity(sourceID, externalKey string) string { return sourceID + "|" + externalKey }

func (m *memStore) Exists(_ context.Context, sourceID, externalKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alwaysNew {
		return false, nil
	}
	_, ok := m.items[identity(sourceID, externalKey)]
	return ok, nil
}

func (m *memStore) Upsert(_ context.Context, item domain.EnrichedItem) (domain.EnrichedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := identity(item.SourceID, item.ExternalKey)
	if existing, ok := m.items[key]; ok {
		item.ID = existing.ID
		item.CreatedAt = existing.CreatedAt
		item.Favorite = existing.Favorite
		if item.TranslatedTitle == nil {
			item.TranslatedTitle = existing.TranslatedTitle
		}
		if item.TranslatedBody == nil {
			item.TranslatedBody = existing.TranslatedBody
		}
		if item.StructuredSummary == nil {
			item.StructuredSummary = existing.StructuredSummary
		}
		if item.ShortDigest == nil {
			item.ShortDigest = existing.ShortDigest
		}
		if item.EnrichedAt == nil {
			item.EnrichedAt = existing.EnrichedAt
		}
	} else {
		item.ID = uuid.New()
		item.CreatedAt = time.Now().UTC()
	}

	m.items[key] = item
	return item, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (domain.EnrichedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.ID == id {
			return item, nil
		}
	}
	return domain.EnrichedItem{}, fmt.Errorf("not found")
}

func (m *memStore) List(_ context.Context, _ ports.ListFilter) ([]domain.EnrichedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.EnrichedItem, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	return out, nil
}

func (m *memStore) SetFavorite(_ context.Context, _ uuid.UUID, _ bool) error { return nil }

func (m *memStore) AppendQA(_ context.Context, itemID uuid.UUID, q, a string) (domain.QAEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := domain.QAEntry{ID: uuid.New(), ItemID: itemID, Question: q, Answer: a, CreatedAt: time.Now()}
	m.qa[itemID] = append(m.qa[itemID], entry)
	return entry, nil
}

func (m *memStore) ListQA(_ context.Context, itemID uuid.UUID) ([]domain.QAEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.qa[itemID], nil
}

func (m *memStore) get(sourceID, externalKey string) (domain.EnrichedItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[identity(sourceID, externalKey)]
	return item, ok
}

type fakeEnricher struct {
	failTitles map[string]bool
}

func (f *fakeEnricher) Translate(_ context.Context, text string) string { return "ja:" + text }

func (f *fakeEnricher) Summarize(_ context.Context, title, _ string) (string, string, error) {
	if f.failTitles[title] {
		return "", "", &domain.EnrichmentError{Attempts: 5, Err: fmt.Errorf("unreachable")}
	}
	return "summary of " + title + "\nhighlight", "highlight", nil
}

func (f *fakeEnricher) Answer(_ context.Context, _, _, _ string) (string, error) {
	return "an answer", nil
}

type captureNotifier struct {
	mu      sync.Mutex
	digests []string
}

func (n *captureNotifier) PublishDigest(_ context.Context, digest string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.digests = append(n.digests, digest)
	return nil
}

func rawItem(sourceID, key, title string) domain.RawItem {
	return domain.RawItem{
		SourceID:    sourceID,
		ExternalKey: key,
		Title:       title,
		BodyText:    "abstract of " + title,
		OriginLink:  "https://example.org/" + key,
		Category:    domain.CategoryPaper,
		PublishedAt: time.Now().UTC(),
	}
}

func testSources(ids ...string) []config.SourceConfig {
	out := make([]config.SourceConfig, 0, len(ids))
	for _, id := range ids {
		out = append(out, config.SourceConfig{ID: id, Kind: config.KindFeed, MaxResults: 20})
	}
	return out
}

func newTestIngestor(fetcher *fakeFetcher, store ports.ItemStore, enricher ports.Enricher, notifier ports.Notifier, sources []config.SourceConfig) *Ingestor {
	registry := source.NewRegistry()
	registry.Register(fetcher)
	return NewIngestor(IngestorDeps{
		Registry: registry,
		Sources:  sources,
		Store:    store,
		Enricher: enricher,
		Notifier: notifier,
	})
}

func TestPartialFailureIsolation(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{items: map[string][]domain.RawItem{
		"src": {rawItem("src", "a", "First"), rawItem("src", "b", "Second"), rawItem("src", "c", "Third")},
	}}
	store := newMemStore()
	enricher := &fakeEnricher{failTitles: map[string]bool{"Second": true}}

	ing := newTestIngestor(fetcher, store, enricher, nil, testSources("src"))
	require.NoError(t, ing.RunOnce(context.Background(), "src"))

	first, ok := store.get("src", "a")
	require.True(t, ok)
	assert.True(t, first.Enriched())

	second, ok := store.get("src", "b")
	require.True(t, ok, "failed item must still be persisted")
	assert.False(t, second.Enriched())
	assert.Nil(t, second.StructuredSummary)

	third, ok := store.get("src", "c")
	require.True(t, ok)
	assert.True(t, third.Enriched())
}

func TestRunTwiceIsIdempotent(t *testing.T) {
	t.Parallel()

	items := []domain.RawItem{rawItem("src", "a", "First"), rawItem("src", "b", "Second")}
	fetcher := &fakeFetcher{items: map[string][]domain.RawItem{"src": items}}
	store := newMemStore()
	// Simulate the dedup-gate race: every item looks new, so the second run
	// goes through the upsert path again.
	store.alwaysNew = true

	ing := newTestIngestor(fetcher, store, &fakeEnricher{}, nil, testSources("src"))
	require.NoError(t, ing.RunOnce(context.Background(), "src"))

	// Second run with a completely broken enrichment backend.
	broken := &fakeEnricher{failTitles: map[string]bool{"First": true, "Second": true}}
	ing2 := newTestIngestor(fetcher, store, broken, nil, testSources("src"))
	require.NoError(t, ing2.RunOnce(context.Background(), "src"))

	store.mu.Lock()
	count := len(store.items)
	store.mu.Unlock()
	assert.Equal(t, 2, count, "re-running must not create duplicate records")

	first, _ := store.get("src", "a")
	require.NotNil(t, first.StructuredSummary, "re-ingest must not clobber earlier enrichment")
	assert.True(t, first.Enriched())
}

func TestDuplicateKeysWithinRunCollapse(t *testing.T) {
	t.Parallel()

	// Same normalized identity seen twice in one fetch (e.g. v1 and v2 of a
	// paper collapsing to one key).
	fetcher := &fakeFetcher{items: map[string][]domain.RawItem{
		"src": {rawItem("src", "2303.12345", "Rev one"), rawItem("src", "2303.12345", "Rev two")},
	}}
	store := newMemStore()

	ing := newTestIngestor(fetcher, store, &fakeEnricher{}, nil, testSources("src"))
	require.NoError(t, ing.RunOnce(context.Background(), "src"))

	store.mu.Lock()
	count := len(store.items)
	store.mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestSourceIsolation(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		items: map[string][]domain.RawItem{"good": {rawItem("good", "a", "First")}},
		fail:  map[string]bool{"bad": true},
	}
	store := newMemStore()
	notifier := &captureNotifier{}

	ing := newTestIngestor(fetcher, store, &fakeEnricher{}, notifier, testSources("bad", "good"))
	ing.RunAll(context.Background())

	_, ok := store.get("good", "a")
	assert.True(t, ok, "healthy source must complete despite the broken one")

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.digests, 1)
	assert.Contains(t, notifier.digests[0], "good: 1")
}

func TestRunOnceUnknownSource(t *testing.T) {
	t.Parallel()

	ing := newTestIngestor(&fakeFetcher{}, newMemStore(), &fakeEnricher{}, nil, testSources("src"))
	assert.Error(t, ing.RunOnce(context.Background(), "missing"))
}
