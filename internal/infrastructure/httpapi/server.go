package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"paperscope/internal/ports"
	"paperscope/internal/usecase"
)

// Deps wires the collaborators the API exposes.
type Deps struct {
	Store ports.ItemStore
	// Enricher must carry the interactive (short) retry policy.
	Enricher ports.Enricher
	Ingestor *usecase.Ingestor
	Logger   *slog.Logger
}

// Server exposes the read paths, favorites, on-demand Q&A and translation
// retry over HTTP. It owns no state; everything goes through the store.
type Server struct {
	echo     *echo.Echo
	store    ports.ItemStore
	enricher ports.Enricher
	ingestor *usecase.Ingestor
	logger   *slog.Logger
}

// NewServer builds the echo instance and registers routes.
func NewServer(deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		store:    deps.Store,
		enricher: deps.Enricher,
		ingestor: deps.Ingestor,
		logger:   deps.Logger,
	}

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api")
	api.GET("/items", s.handleListItems)
	api.GET("/items/:id", s.handleGetItem)
	api.PUT("/items/:id/favorite", s.handleSetFavorite)
	api.GET("/items/:id/qa", s.handleListQA)
	api.POST("/items/:id/qa", s.handleAskQuestion)
	api.POST("/items/:id/retranslate", s.handleRetranslate)
	api.POST("/ingest/:source", s.handleIngest)

	return s
}

// Start begins listening; blocks until Shutdown or failure.
func (s *Server) Start(addr string) error {
	if s.logger != nil {
		s.logger.Info("http api listening", "addr", addr)
	}
	err := s.echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
