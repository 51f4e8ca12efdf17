// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/newsroom-crawler/internal/api"
	"github.com/JakeFAU/newsroom-crawler/internal/browser"
	"github.com/JakeFAU/newsroom-crawler/internal/browser/headless"
	"github.com/JakeFAU/newsroom-crawler/internal/clock/system"
	"github.com/JakeFAU/newsroom-crawler/internal/config"
	"github.com/JakeFAU/newsroom-crawler/internal/crawler"
	"github.com/JakeFAU/newsroom-crawler/internal/hash/sha256"
	"github.com/JakeFAU/newsroom-crawler/internal/id/uuid"
	"github.com/JakeFAU/newsroom-crawler/internal/logging"
	"github.com/JakeFAU/newsroom-crawler/internal/metrics"
	pubmemory "github.com/JakeFAU/newsroom-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/newsroom-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/newsroom-crawler/internal/storage/gcs"
	"github.com/JakeFAU/newsroom-crawler/internal/storage/local"
	"github.com/JakeFAU/newsroom-crawler/internal/storage/memory"
	"github.com/JakeFAU/newsroom-crawler/internal/storage/postgres"
	"github.com/JakeFAU/newsroom-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/newsroom-crawler/internal/telemetry"
	"github.com/JakeFAU/newsroom-crawler/internal/worker"
)

// SessionFactory launches the browser session used by the crawl loop.
type SessionFactory func(cfg headless.Config, logger *zap.Logger) (browser.Session, error)

// Option customizes App construction.
type Option func(*options)

type options struct {
	newSession SessionFactory
	logger     *zap.Logger
}

// WithSessionFactory replaces the chromedp session launcher.
func WithSessionFactory(f SessionFactory) Option {
	return func(o *options) { o.newSession = f }
}

// WithLogger uses logger instead of building one from the logging config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func launchChromedp(cfg headless.Config, logger *zap.Logger) (browser.Session, error) {
	return headless.NewChromedp(cfg, logger)
}

// App holds all the shared, long-lived services for the application.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	crawler *crawler.Crawler
	worker  *worker.Worker
	server  *api.Server
	closers []func(context.Context) error
}

// New creates and initializes an App from configuration. It fails fast if any
// configured backend cannot be initialized, releasing what was already opened.
func New(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{newSession: launchChromedp}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: o.logger}
	if a.logger == nil {
		a.logger, err = logging.New(logging.Options{
			Development: cfg.Logging.Development,
			Level:       cfg.Logging.Level,
		})
		if err != nil {
			return nil, err
		}
	}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()
	metrics.Init()
	a.logger.Info("Initializing application services...", zap.String("source", cfg.Source.Name))

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.Options{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     cfg.Telemetry.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, tp.Shutdown)

	store, err := a.documentStore(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := a.blobStore(ctx)
	if err != nil {
		return nil, err
	}
	pub, err := a.publisher(ctx)
	if err != nil {
		return nil, err
	}

	session, err := o.newSession(cfg.HeadlessConfig(), a.logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	a.closers = append(a.closers, session.Close)

	ids := uuid.New()
	clock := system.New()
	a.crawler, err = crawler.New(cfg.CrawlerConfig(), session, sha256.New(), clock, ids, a.logger.Named("crawler"))
	if err != nil {
		return nil, fmt.Errorf("init crawler: %w", err)
	}

	a.worker = worker.New(a.crawler, store, blobs, pub, sha256.New(), ids, clock, worker.Config{
		Source:     cfg.Source.Name,
		BlobPrefix: cfg.Storage.Prefix,
		Topic:      cfg.PubSub.TopicName,
	}, a.logger.Named("worker"))

	a.server = api.NewServer(a.worker, api.Config{
		RunTimeout: cfg.Server.RunTimeout,
		APIKey:     cfg.Server.APIKey,
	}, a.logger.Named("api"))

	a.logger.Info("Application services initialized successfully.")
	return a, nil
}

func (a *App) documentStore(ctx context.Context) (crawler.DocumentStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Info("Using in-memory document store. Watermarks reset on restart.")
		return memory.NewDocumentStore(), nil
	}
	if a.cfg.DB.Driver == config.DBDriverSQLite {
		a.logger.Info("Opening SQLite document store", zap.String("path", a.cfg.DB.DSN))
		store, err := sqlite.NewDocumentStore(ctx, a.cfg.DB.DSN, nil)
		if err != nil {
			return nil, fmt.Errorf("init document store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil
	}
	a.logger.Info("Connecting to PostgreSQL...")
	store, err := postgres.NewDocumentStore(ctx, postgres.DocumentStoreConfig{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init document store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure document schema: %w", err)
	}
	return store, nil
}

func (a *App) blobStore(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BlobBackendLocal:
		a.logger.Info("Using local blob store", zap.String("dir", a.cfg.Storage.LocalDir))
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case config.BlobBackendGCS:
		a.logger.Info("Using GCS blob store", zap.String("bucket", a.cfg.Storage.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	default:
		a.logger.Info("Blob export disabled.")
		return nil, nil
	}
}

func (a *App) publisher(ctx context.Context) (crawler.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("Using in-memory publisher. Batch events stay in process.")
		return pubmemory.New(), nil
	}
	a.logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", a.cfg.PubSub.TopicName))
	pub, err := pubsubpublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return pub.Close() })
	return pub, nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Worker returns the batch runner.
func (a *App) Worker() *worker.Worker {
	return a.worker
}

// Server returns the HTTP API.
func (a *App) Server() *api.Server {
	return a.server
}

// Execute runs one crawl batch.
func (a *App) Execute(ctx context.Context, req worker.Request) (worker.Report, error) {
	return a.worker.Execute(ctx, req)
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Schedule runs batches on the configured schedule until ctx is done. It
// returns immediately when no schedule is configured.
func (a *App) Schedule(ctx context.Context) {
	if err := a.worker.Schedule(ctx, a.cfg.Server.Schedule); err != nil {
		a.logger.Error("batch schedule failed", zap.Error(err))
	}
}

// Close shuts down services in reverse order of construction.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("Error closing service", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
