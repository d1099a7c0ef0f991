package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"paperscope/internal/config"
	"paperscope/internal/domain"
	"paperscope/internal/ports"
	"paperscope/internal/source"
)

// IngestorDeps wires all driven adapters into the ingestion orchestrator.
type IngestorDeps struct {
	Registry   *source.Registry
	Sources    []config.SourceConfig
	Store      ports.ItemStore
	Enricher   ports.Enricher
	Notifier   ports.Notifier
	Logger     *slog.Logger
	RunTimeout time.Duration
}

// Ingestor runs the fetch -> dedup -> enrich -> persist pipeline per source.
// It holds no state of its own; each run is stateless apart from the store.
type Ingestor struct {
	registry   *source.Registry
	sources    []config.SourceConfig
	store      ports.ItemStore
	enricher   ports.Enricher
	notifier   ports.Notifier
	logger     *slog.Logger
	runTimeout time.Duration
}

// NewIngestor constructs the orchestration component.
func NewIngestor(deps IngestorDeps) *Ingestor {
	timeout := deps.RunTimeout
	if timeout <= 0 {
		timeout = 20 * time.Minute
	}
	return &Ingestor{
		registry:   deps.Registry,
		sources:    deps.Sources,
		store:      deps.Store,
		enricher:   deps.Enricher,
		notifier:   deps.Notifier,
		logger:     deps.Logger,
		runTimeout: timeout,
	}
}

// RunAll executes one ingestion run for every configured source. Sources run
// concurrently and independently: one source's failure never reaches the
// others. A run digest is published when a notifier is configured.
func (o *Ingestor) RunAll(ctx context.Context) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := make(map[string]int, len(o.sources))

	for _, src := range o.sources {
		wg.Add(1)
		go func(src config.SourceConfig) {
			defer wg.Done()

			ingested, err := o.runSource(ctx, src)
			if err != nil {
				o.warn("source run failed", "source", src.ID, "error", err)
				return
			}

			mu.Lock()
			counts[src.ID] = ingested
			mu.Unlock()
		}(src)
	}
	wg.Wait()

	if o.notifier != nil {
		if digest := buildRunDigest(counts); digest != "" {
			if err := o.notifier.PublishDigest(ctx, digest); err != nil {
				o.warn("publish run digest", "error", err)
			}
		}
	}
}

// RunOnce executes one ingestion run for a single source.
func (o *Ingestor) RunOnce(ctx context.Context, sourceID string) error {
	for _, src := range o.sources {
		if src.ID == sourceID {
			_, err := o.runSource(ctx, src)
			return err
		}
	}
	return fmt.Errorf("unknown source %s", sourceID)
}

// runSource performs Fetch -> per item {Dedup -> Enrich -> Upsert}. A fetch
// failure ends this source's run; an enrichment failure degrades to partial
// persistence of that item only; a store failure aborts the run, leaving
// already persisted items valid for the next schedule tick.
func (o *Ingestor) runSource(ctx context.Context, src config.SourceConfig) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	fetcher, err := o.registry.Resolve(src.Kind)
	if err != nil {
		return 0, &domain.FetchError{SourceID: src.ID, Err: err}
	}

	items, err := fetcher.Fetch(ctx, src)
	if err != nil {
		return 0, err
	}
	o.debug("fetched items", "source", src.ID, "count", len(items))

	ingested := 0
	for _, raw := range items {
		exists, err := o.store.Exists(ctx, raw.SourceID, raw.ExternalKey)
		if err != nil {
			return ingested, err
		}
		if exists {
			continue
		}

		enriched := o.enrich(ctx, raw)
		if _, err := o.store.Upsert(ctx, enriched); err != nil {
			return ingested, err
		}
		ingested++
	}

	o.debug("source run done", "source", src.ID, "new_items", ingested)
	return ingested, nil
}

// enrich produces the persisted shape for one raw item. A summarization
// failure leaves every enrichment field nil; the item is still persisted and
// retried on demand or on the next run. Translation degrades inside the
// client and never fails.
func (o *Ingestor) enrich(ctx context.Context, raw domain.RawItem) domain.EnrichedItem {
	item := domain.EnrichedItem{RawItem: raw}
	if o.enricher == nil {
		return item
	}

	summary, digest, err := o.enricher.Summarize(ctx, raw.Title, raw.BodyText)
	if err != nil {
		o.warn("enrichment failed, persisting partial item",
			"source", raw.SourceID, "key", raw.ExternalKey, "error", err)
		return item
	}

	translatedTitle := o.enricher.Translate(ctx, raw.Title)
	translatedBody := o.enricher.Translate(ctx, raw.BodyText)
	now := time.Now().UTC()

	item.TranslatedTitle = &translatedTitle
	item.TranslatedBody = &translatedBody
	item.StructuredSummary = &summary
	item.ShortDigest = &digest
	item.EnrichedAt = &now
	return item
}

func buildRunDigest(counts map[string]int) string {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return ""
	}

	digest := fmt.Sprintf("Ingestion run: %d new items\n", total)
	for id, n := range counts {
		if n > 0 {
			digest += fmt.Sprintf("- %s: %d\n", id, n)
		}
	}
	return digest
}

func (o *Ingestor) debug(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Debug(msg, args...)
	}
}

func (o *Ingestor) warn(msg string, args ...any) {
	if o.logger != nil {
		o.logger.Warn(msg, args...)
	}
}
