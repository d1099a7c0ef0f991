package domain

import (
	"time"

	"github.com/google/uuid"
)

// Category is the coarse classification of an ingested item.
type Category string

const (
	CategoryPaper Category = "paper"
	CategoryNews  Category = "news"
	CategoryBlog  Category = "blog"
)

// RawItem is the source-agnostic shape produced by an adapter before enrichment.
type RawItem struct {
	SourceID    string
	ExternalKey string
	Title       string
	BodyText    string
	OriginLink  string
	PDFLink     string
	Category    Category
	PublishedAt time.Time
	// TimestampInferred marks items whose published date could not be parsed
	// and was substituted with the ingestion time.
	TimestampInferred bool
}

// EnrichedItem is the persisted record. Enrichment fields stay nil until a
// summarization call succeeds; the record is visible and retriable meanwhile.
type EnrichedItem struct {
	ID uuid.UUID
	RawItem

	TranslatedTitle   *string
	TranslatedBody    *string
	StructuredSummary *string
	ShortDigest       *string

	Favorite   bool
	CreatedAt  time.Time
	EnrichedAt *time.Time
}

// Enriched reports whether the item carries a completed enrichment.
func (e EnrichedItem) Enriched() bool {
	return e.EnrichedAt != nil
}

// QAEntry is one question/answer exchange anchored to an item. Append-only.
type QAEntry struct {
	ID        uuid.UUID
	ItemID    uuid.UUID
	Question  string
	Answer    string
	CreatedAt time.Time
}
