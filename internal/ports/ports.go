package ports

import (
	"context"
	"time"

	"github.com/google/uuid"

	"paperscope/internal/domain"
)

// ListFilter narrows and pages the item read path.
type ListFilter struct {
	SourceID     string
	Category     domain.Category
	FavoriteOnly bool
	Page         int
	PerPage      int
}

// ItemStore persists enriched items and their Q&A entries. Upsert is the
// single atomic write per item, idempotent on (sourceID, externalKey).
type ItemStore interface {
	Exists(ctx context.Context, sourceID, externalKey string) (bool, error)
	Upsert(ctx context.Context, item domain.EnrichedItem) (domain.EnrichedItem, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.EnrichedItem, error)
	List(ctx context.Context, filter ListFilter) ([]domain.EnrichedItem, error)
	SetFavorite(ctx context.Context, id uuid.UUID, favorite bool) error
	AppendQA(ctx context.Context, itemID uuid.UUID, question, answer string) (domain.QAEntry, error)
	ListQA(ctx context.Context, itemID uuid.UUID) ([]domain.QAEntry, error)
}

// Enricher wraps the external text-generation service. Translate degrades to
// the input text instead of failing; Summarize surfaces EnrichmentError once
// retries are exhausted.
type Enricher interface {
	Translate(ctx context.Context, text string) string
	Summarize(ctx context.Context, title, body string) (summary, digest string, err error)
	Answer(ctx context.Context, title, body, question string) (string, error)
}

// Notifier streams run digests to Telegram or other channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when ingestion runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
