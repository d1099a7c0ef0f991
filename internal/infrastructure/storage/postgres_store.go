package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"paperscope/internal/domain"
	"paperscope/internal/ports"
)

const defaultPerPage = 20

// DB is the subset of pgxpool.Pool the store needs. Satisfied by pgxmock in
// tests.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore persists enriched items and Q&A entries.
type PostgresStore struct {
	db DB
}

var _ ports.ItemStore = (*PostgresStore)(nil)

// NewPostgresStore wires a pgx connection pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate bootstraps the two tables and the unique identity index.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS items (
		id UUID PRIMARY KEY,
		source_id TEXT NOT NULL,
		external_key TEXT NOT NULL,
		title TEXT NOT NULL,
		body_text TEXT NOT NULL DEFAULT '',
		origin_link TEXT NOT NULL DEFAULT '',
		pdf_link TEXT,
		category TEXT NOT NULL,
		published_at TIMESTAMPTZ NOT NULL,
		timestamp_inferred BOOLEAN NOT NULL DEFAULT FALSE,
		translated_title TEXT,
		translated_body TEXT,
		structured_summary TEXT,
		short_digest TEXT,
		favorite BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		enriched_at TIMESTAMPTZ
	);

	CREATE UNIQUE INDEX IF NOT EXISTS items_identity_idx
		ON items (source_id, external_key);

	CREATE TABLE IF NOT EXISTS qa_entries (
		id UUID PRIMARY KEY,
		item_id UUID NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		question TEXT NOT NULL,
		answer TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS qa_entries_item_idx
		ON qa_entries (item_id, created_at);
	`

	if _, err := s.db.Exec(ctx, schema); err != nil {
		return &domain.PersistenceError{Op: "migrate", Err: err}
	}
	return nil
}

// Exists is the dedup gate: a point lookup on the identity index.
func (s *PostgresStore) Exists(ctx context.Context, sourceID, externalKey string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM items WHERE source_id = $1 AND external_key = $2)`

	var exists bool
	if err := s.db.QueryRow(ctx, query, sourceID, externalKey).Scan(&exists); err != nil {
		return false, &domain.PersistenceError{Op: "exists", Err: err}
	}
	return exists, nil
}

// Upsert writes the item atomically, keyed on (source_id, external_key).
// Descriptive fields follow the fresh fetch; enrichment fields only ever
// move from null to a value, so a bare re-ingest cannot clobber earlier
// enrichment. Favorite is user state and is never touched here.
func (s *PostgresStore) Upsert(ctx context.Context, item domain.EnrichedItem) (domain.EnrichedItem, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}

	query := `INSERT INTO items (id, source_id, external_key, title, body_text, origin_link,
	              pdf_link, category, published_at, timestamp_inferred,
	              translated_title, translated_body, structured_summary, short_digest, enriched_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	          ON CONFLICT (source_id, external_key) DO UPDATE
	          SET title = EXCLUDED.title,
	              body_text = EXCLUDED.body_text,
	              origin_link = EXCLUDED.origin_link,
	              pdf_link = COALESCE(EXCLUDED.pdf_link, items.pdf_link),
	              category = EXCLUDED.category,
	              published_at = CASE WHEN EXCLUDED.timestamp_inferred
	                                  THEN items.published_at ELSE EXCLUDED.published_at END,
	              timestamp_inferred = items.timestamp_inferred AND EXCLUDED.timestamp_inferred,
	              translated_title = COALESCE(EXCLUDED.translated_title, items.translated_title),
	              translated_body = COALESCE(EXCLUDED.translated_body, items.translated_body),
	              structured_summary = COALESCE(EXCLUDED.structured_summary, items.structured_summary),
	              short_digest = COALESCE(EXCLUDED.short_digest, items.short_digest),
	              enriched_at = COALESCE(EXCLUDED.enriched_at, items.enriched_at)
	          RETURNING ` + itemColumns

	var pdf *string
	if item.PDFLink != "" {
		pdf = &item.PDFLink
	}

	row := s.db.QueryRow(ctx, query,
		item.ID,
		item.SourceID,
		item.ExternalKey,
		item.Title,
		item.BodyText,
		item.OriginLink,
		pdf,
		item.Category,
		item.PublishedAt,
		item.TimestampInferred,
		item.TranslatedTitle,
		item.TranslatedBody,
		item.StructuredSummary,
		item.ShortDigest,
		item.EnrichedAt,
	)

	stored, err := scanItem(row)
	if err != nil {
		return domain.EnrichedItem{}, &domain.PersistenceError{Op: "upsert", Err: err}
	}
	return stored, nil
}

// GetByID returns one item. Wraps pgx.ErrNoRows for callers to detect.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (domain.EnrichedItem, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`

	item, err := scanItem(s.db.QueryRow(ctx, query, id))
	if err != nil {
		return domain.EnrichedItem{}, &domain.PersistenceError{Op: "get", Err: err}
	}
	return item, nil
}

// List returns a page of items, newest published first.
func (s *PostgresStore) List(ctx context.Context, filter ports.ListFilter) ([]domain.EnrichedItem, error) {
	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	builder := sq.Select(itemColumns).
		From("items").
		OrderBy("published_at DESC, created_at DESC").
		Limit(uint64(perPage)).
		Offset(uint64((page - 1) * perPage)).
		PlaceholderFormat(sq.Dollar)

	if filter.SourceID != "" {
		builder = builder.Where(sq.Eq{"source_id": filter.SourceID})
	}
	if filter.Category != "" {
		builder = builder.Where(sq.Eq{"category": filter.Category})
	}
	if filter.FavoriteOnly {
		builder = builder.Where(sq.Eq{"favorite": true})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list", Err: fmt.Errorf("build query: %w", err)}
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list", Err: err}
	}
	defer rows.Close()

	var items []domain.EnrichedItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, &domain.PersistenceError{Op: "list", Err: err}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "list", Err: err}
	}

	return items, nil
}

// SetFavorite flips the user-owned favorite flag.
func (s *PostgresStore) SetFavorite(ctx context.Context, id uuid.UUID, favorite bool) error {
	tag, err := s.db.Exec(ctx, `UPDATE items SET favorite = $2 WHERE id = $1`, id, favorite)
	if err != nil {
		return &domain.PersistenceError{Op: "favorite", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &domain.PersistenceError{Op: "favorite", Err: pgx.ErrNoRows}
	}
	return nil
}

// AppendQA stores one question/answer exchange for an item.
func (s *PostgresStore) AppendQA(ctx context.Context, itemID uuid.UUID, question, answer string) (domain.QAEntry, error) {
	entry := domain.QAEntry{
		ID:       uuid.New(),
		ItemID:   itemID,
		Question: question,
		Answer:   answer,
	}

	query := `INSERT INTO qa_entries (id, item_id, question, answer)
	          VALUES ($1, $2, $3, $4)
	          RETURNING created_at`

	if err := s.db.QueryRow(ctx, query, entry.ID, entry.ItemID, entry.Question, entry.Answer).Scan(&entry.CreatedAt); err != nil {
		return domain.QAEntry{}, &domain.PersistenceError{Op: "append qa", Err: err}
	}
	return entry, nil
}

// ListQA returns an item's exchanges in creation order.
func (s *PostgresStore) ListQA(ctx context.Context, itemID uuid.UUID) ([]domain.QAEntry, error) {
	query := `SELECT id, item_id, question, answer, created_at
	          FROM qa_entries WHERE item_id = $1 ORDER BY created_at`

	rows, err := s.db.Query(ctx, query, itemID)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list qa", Err: err}
	}
	defer rows.Close()

	var entries []domain.QAEntry
	for rows.Next() {
		var entry domain.QAEntry
		if err := rows.Scan(&entry.ID, &entry.ItemID, &entry.Question, &entry.Answer, &entry.CreatedAt); err != nil {
			return nil, &domain.PersistenceError{Op: "list qa", Err: err}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.PersistenceError{Op: "list qa", Err: err}
	}

	return entries, nil
}

const itemColumns = `id, source_id, external_key, title, body_text, origin_link, pdf_link,
	category, published_at, timestamp_inferred,
	translated_title, translated_body, structured_summary, short_digest,
	favorite, created_at, enriched_at`

func scanItem(row pgx.Row) (domain.EnrichedItem, error) {
	var item domain.EnrichedItem
	var pdf *string

	err := row.Scan(
		&item.ID,
		&item.SourceID,
		&item.ExternalKey,
		&item.Title,
		&item.BodyText,
		&item.OriginLink,
		&pdf,
		&item.Category,
		&item.PublishedAt,
		&item.TimestampInferred,
		&item.TranslatedTitle,
		&item.TranslatedBody,
		&item.StructuredSummary,
		&item.ShortDigest,
		&item.Favorite,
		&item.CreatedAt,
		&item.EnrichedAt,
	)
	if err != nil {
		return domain.EnrichedItem{}, err
	}

	if pdf != nil {
		item.PDFLink = *pdf
	}
	return item, nil
}
