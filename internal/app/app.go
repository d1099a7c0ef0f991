package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"paperscope/internal/config"
	"paperscope/internal/infrastructure/httpapi"
	"paperscope/internal/infrastructure/llm"
	"paperscope/internal/infrastructure/parser"
	"paperscope/internal/infrastructure/scheduler"
	"paperscope/internal/infrastructure/storage"
	"paperscope/internal/infrastructure/telegram"
	"paperscope/internal/logging"
	"paperscope/internal/ports"
	"paperscope/internal/source"
	"paperscope/internal/usecase"
)

const shutdownGrace = 10 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	pool     *pgxpool.Pool
	ingestor *usecase.Ingestor
	sched    ports.Scheduler
	server   *httpapi.Server
}

// New builds a runnable application instance, connecting to Postgres and
// bootstrapping the schema.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	pool, err := storage.NewPool(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	store := storage.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	registry := source.NewRegistry()
	registry.Register(parser.NewFeedFetcher(nil, baseLogger.With("component", "fetcher.feed")))
	registry.Register(parser.NewScrapeFetcher(nil, baseLogger.With("component", "fetcher.scrape")))

	var enricher ports.Enricher
	var interactive ports.Enricher
	if cfg.OpenAI.APIKey != "" {
		client := llm.NewClient(cfg.OpenAI, baseLogger.With("component", "llm"))
		enricher = client
		interactive = client.Interactive()
	} else {
		baseLogger.Warn("no OpenAI API key configured, items will be persisted without enrichment")
	}

	var notifier ports.Notifier
	if cfg.Notifications.Telegram.BotToken != "" && cfg.Notifications.Telegram.ChatID != "" {
		notifier = telegram.NewNotifier(cfg.Notifications.Telegram)
	}

	ingestor := usecase.NewIngestor(usecase.IngestorDeps{
		Registry:   registry,
		Sources:    cfg.Sources,
		Store:      store,
		Enricher:   enricher,
		Notifier:   notifier,
		Logger:     baseLogger.With("component", "ingestor"),
		RunTimeout: cfg.Scheduler.RunTimeout,
	})

	server := httpapi.NewServer(httpapi.Deps{
		Store:    store,
		Enricher: interactive,
		Ingestor: ingestor,
		Logger:   baseLogger.With("component", "httpapi"),
	})

	sched := scheduler.NewCronScheduler(cfg.Scheduler.CronExpression, cfg.Scheduler.Location())

	return &Application{
		cfg:      cfg,
		logger:   baseLogger,
		pool:     pool,
		ingestor: ingestor,
		sched:    sched,
		server:   server,
	}, nil
}

// Run starts the scheduler and the HTTP API and blocks until the context is
// cancelled, then shuts both down.
func (a *Application) Run(ctx context.Context) error {
	job := func(t time.Time) {
		a.logger.Info("ingestion run triggered", "at", t)
		a.ingestor.RunAll(ctx)
	}
	if err := a.sched.Start(ctx, job); err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start(a.cfg.Server.Addr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := a.sched.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stop", "error", err)
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	a.pool.Close()

	return nil
}
