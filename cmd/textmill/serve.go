package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/textmill/textmill/internal/clients"
	"github.com/textmill/textmill/internal/config"
	"github.com/textmill/textmill/internal/db"
	"github.com/textmill/textmill/internal/extract"
	"github.com/textmill/textmill/internal/fetch"
	"github.com/textmill/textmill/internal/handlers"
	"github.com/textmill/textmill/internal/logger"
	"github.com/textmill/textmill/internal/queue"
	"github.com/textmill/textmill/internal/resolve"
	"github.com/textmill/textmill/internal/server"
	"github.com/textmill/textmill/internal/storage"
	"github.com/textmill/textmill/internal/storage/providers/localfs"
	"github.com/textmill/textmill/internal/webhooks"
	"github.com/textmill/textmill/internal/worker"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideQueueStore,
			provideWebhookStore,
			provideOCRClient,
			provideSpeechClient,
			provideRenderClient,
			provideDriveClient,
			provideResolver,
			provideFetcher,
			provideObjectStore,
			provideEngine,
			provideWorker,
			provideServerHandler(provideQueueHandler),
			provideServerHandler(handlers.NewPingHandler),
			provideServer,
		),
		fx.Invoke(
			startWorker,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideQueueStore(log *slog.Logger, conn *pgxpool.Pool) *queue.Store {
	return queue.NewStore(log, conn)
}

func provideWebhookStore(log *slog.Logger, conn *pgxpool.Pool) *webhooks.Store {
	return webhooks.NewStore(log, conn)
}

func provideOCRClient(log *slog.Logger, cfg config.Config) *clients.OCRClient {
	timeout := time.Duration(cfg.OCR.TimeoutSeconds) * time.Second
	return clients.NewOCRClient(log, cfg.OCR.BaseURL, cfg.OCR.APIKey, timeout)
}

func provideSpeechClient(log *slog.Logger, cfg config.Config) *clients.SpeechClient {
	pollInterval := time.Duration(cfg.Speech.PollSeconds) * time.Second
	return clients.NewSpeechClient(log, cfg.Speech.BaseURL, cfg.Speech.APIKey, pollInterval, cfg.Speech.MaxPolls)
}

func provideRenderClient(log *slog.Logger, cfg config.Config) *clients.RenderClient {
	timeout := time.Duration(cfg.Render.TimeoutSeconds) * time.Second
	return clients.NewRenderClient(log, cfg.Render.BaseURL, timeout)
}

func provideDriveClient(log *slog.Logger, cfg config.Config) *clients.DriveClient {
	return clients.NewDriveClient(log, cfg.Drive.BaseURL, cfg.Drive.APIKey)
}

func provideResolver(log *slog.Logger, drive *clients.DriveClient) *resolve.Resolver {
	return resolve.NewResolver(log, drive)
}

func provideFetcher(log *slog.Logger, cfg config.Config) *fetch.Fetcher {
	return fetch.NewFetcher(log, cfg.Worker.FetchTimeout())
}

// provideObjectStore returns nil when no archive root is configured; the
// pipeline treats archival as strictly optional.
func provideObjectStore(log *slog.Logger, cfg config.Config) (storage.ObjectStore, error) {
	if cfg.Storage.Root == "" {
		log.Warn("no storage root configured, original binaries will not be archived")
		return nil, nil
	}
	provider, err := localfs.New(cfg.Storage.Root, cfg.Storage.PublicURL)
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}
	return provider, nil
}

func provideEngine(log *slog.Logger, cfg config.Config, ocr *clients.OCRClient, speech *clients.SpeechClient, render *clients.RenderClient, store storage.ObjectStore) *extract.Engine {
	var archiver extract.Archiver
	if store != nil {
		archiver = store
	}
	return extract.NewEngine(log, ocr, speech, render, archiver, extract.Config{
		RenderScale:     cfg.Extract.RenderScale,
		PageConcurrency: cfg.Extract.PageConcurrency,
		MaxPages:        cfg.Extract.MaxPages,
	})
}

func provideWorker(log *slog.Logger, cfg config.Config, store *queue.Store, webhookStore *webhooks.Store, resolver *resolve.Resolver, fetcher *fetch.Fetcher, engine *extract.Engine, objectStore storage.ObjectStore) *worker.Service {
	var archive worker.Archiver
	if objectStore != nil {
		archive = objectStore
	}
	return worker.NewService(log, store, webhookStore, resolver, fetcher, engine, archive, cfg.Worker)
}

func provideQueueHandler(log *slog.Logger, cfg config.Config, store *queue.Store, webhookStore *webhooks.Store, resolver *resolve.Resolver, workerService *worker.Service) *handlers.QueueHandler {
	return handlers.NewQueueHandler(log, store, webhookStore, resolver, workerService, cfg.Worker.MaxAttempts)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Logger, params.Config.Server.Addr, params.ServerHandlers)
}

func startWorker(lc fx.Lifecycle, workerService *worker.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return workerService.Start(ctx) },
		OnStop:  func(ctx context.Context) error { workerService.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
