package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"

	"paperscope/internal/domain"
	"paperscope/internal/ports"
)

type errorResponse struct {
	Error string `json:"error"`
}

type itemResponse struct {
	ID                string     `json:"id"`
	SourceID          string     `json:"sourceId"`
	ExternalKey       string     `json:"externalKey"`
	Title             string     `json:"title"`
	BodyText          string     `json:"bodyText"`
	OriginLink        string     `json:"originLink"`
	PDFLink           string     `json:"pdfLink,omitempty"`
	Category          string     `json:"category"`
	PublishedAt       time.Time  `json:"publishedAt"`
	TimestampInferred bool       `json:"timestampInferred"`
	TranslatedTitle   *string    `json:"translatedTitle"`
	TranslatedBody    *string    `json:"translatedBody"`
	StructuredSummary *string    `json:"structuredSummary"`
	ShortDigest       *string    `json:"shortDigest"`
	Favorite          bool       `json:"favorite"`
	CreatedAt         time.Time  `json:"createdAt"`
	EnrichedAt        *time.Time `json:"enrichedAt"`
}

type qaResponse struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"createdAt"`
}

func toItemResponse(item domain.EnrichedItem) itemResponse {
	return itemResponse{
		ID:                item.ID.String(),
		SourceID:          item.SourceID,
		ExternalKey:       item.ExternalKey,
		Title:             item.Title,
		BodyText:          item.BodyText,
		OriginLink:        item.OriginLink,
		PDFLink:           item.PDFLink,
		Category:          string(item.Category),
		PublishedAt:       item.PublishedAt,
		TimestampInferred: item.TimestampInferred,
		TranslatedTitle:   item.TranslatedTitle,
		TranslatedBody:    item.TranslatedBody,
		StructuredSummary: item.StructuredSummary,
		ShortDigest:       item.ShortDigest,
		Favorite:          item.Favorite,
		CreatedAt:         item.CreatedAt,
		EnrichedAt:        item.EnrichedAt,
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListItems(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))

	filter := ports.ListFilter{
		SourceID:     c.QueryParam("source"),
		Category:     domain.Category(c.QueryParam("category")),
		FavoriteOnly: c.QueryParam("favorites") == "true",
		Page:         page,
	}

	items, err := s.store.List(c.Request().Context(), filter)
	if err != nil {
		return s.storeError(c, err)
	}

	out := make([]itemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toItemResponse(item))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid item id"})
	}

	item, err := s.store.GetByID(c.Request().Context(), id)
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, toItemResponse(item))
}

func (s *Server) handleSetFavorite(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid item id"})
	}

	var body struct {
		Favorite bool `json:"favorite"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	if err := s.store.SetFavorite(c.Request().Context(), id, body.Favorite); err != nil {
		return s.storeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListQA(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid item id"})
	}

	entries, err := s.store.ListQA(c.Request().Context(), id)
	if err != nil {
		return s.storeError(c, err)
	}

	out := make([]qaResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, qaResponse{
			ID:        entry.ID.String(),
			Question:  entry.Question,
			Answer:    entry.Answer,
			CreatedAt: entry.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

// handleAskQuestion answers a question about an item and appends the
// exchange to the item's Q&A log.
func (s *Server) handleAskQuestion(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid item id"})
	}

	var body struct {
		Question string `json:"question"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	question := strings.TrimSpace(body.Question)
	if question == "" {
		verr := &domain.ValidationError{Reason: "question text is required"}
		return c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Error()})
	}

	if s.enricher == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "generation service is not configured"})
	}

	ctx := c.Request().Context()
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return s.storeError(c, err)
	}

	answer, err := s.enricher.Answer(ctx, item.Title, item.BodyText, question)
	if err != nil {
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "generation service unavailable: " + err.Error()})
	}

	entry, err := s.store.AppendQA(ctx, id, question, answer)
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusCreated, qaResponse{
		ID:        entry.ID.String(),
		Question:  entry.Question,
		Answer:    entry.Answer,
		CreatedAt: entry.CreatedAt,
	})
}

// handleRetranslate re-runs enrichment for one item with the interactive
// retry policy and overwrites the translation fields on success.
func (s *Server) handleRetranslate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid item id"})
	}

	if s.enricher == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "generation service is not configured"})
	}

	ctx := c.Request().Context()
	item, err := s.store.GetByID(ctx, id)
	if err != nil {
		return s.storeError(c, err)
	}

	summary, digest, err := s.enricher.Summarize(ctx, item.Title, item.BodyText)
	if err != nil {
		return c.JSON(http.StatusBadGateway, errorResponse{Error: "enrichment failed: " + err.Error()})
	}

	translatedTitle := s.enricher.Translate(ctx, item.Title)
	translatedBody := s.enricher.Translate(ctx, item.BodyText)
	now := time.Now().UTC()

	item.TranslatedTitle = &translatedTitle
	item.TranslatedBody = &translatedBody
	item.StructuredSummary = &summary
	item.ShortDigest = &digest
	item.EnrichedAt = &now

	updated, err := s.store.Upsert(ctx, item)
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, toItemResponse(updated))
}

// handleIngest triggers one source's ingestion run. The run proceeds in the
// background; the scheduler-owned timeout still bounds it.
func (s *Server) handleIngest(c echo.Context) error {
	sourceID := c.Param("source")

	go func() {
		if err := s.ingestor.RunOnce(context.Background(), sourceID); err != nil {
			if s.logger != nil {
				s.logger.Warn("manual ingestion run failed", "source", sourceID, "error", err)
			}
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{"source": sourceID, "status": "started"})
}

func (s *Server) storeError(c echo.Context, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "item not found"})
	}
	if s.logger != nil {
		s.logger.Error("store operation failed", "error", err)
	}
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "storage unavailable"})
}
