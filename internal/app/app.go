// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/feeddigest/internal/clock/system"
	"github.com/JakeFAU/feeddigest/internal/config"
	"github.com/JakeFAU/feeddigest/internal/dedupe"
	"github.com/JakeFAU/feeddigest/internal/id/uuid"
	"github.com/JakeFAU/feeddigest/internal/logging"
	"github.com/JakeFAU/feeddigest/internal/metrics"
	"github.com/JakeFAU/feeddigest/internal/pipeline"
	"github.com/JakeFAU/feeddigest/internal/policy/ratelimit"
	"github.com/JakeFAU/feeddigest/internal/publisher"
	pubsubpub "github.com/JakeFAU/feeddigest/internal/publisher/pubsub"
	"github.com/JakeFAU/feeddigest/internal/state"
	"github.com/JakeFAU/feeddigest/internal/storage"
	"github.com/JakeFAU/feeddigest/internal/storage/gcs"
	"github.com/JakeFAU/feeddigest/internal/storage/local"
	"github.com/JakeFAU/feeddigest/internal/storage/memory"
	"github.com/JakeFAU/feeddigest/internal/storage/postgres"
	"github.com/JakeFAU/feeddigest/internal/telemetry"
	"github.com/JakeFAU/feeddigest/internal/transport"
)

// App holds the shared services a command needs. It is built once per
// process and closed when the command finishes.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Collectors
	Artifacts storage.BlobStore
	State     state.Repository
	Publisher publisher.Publisher
	Pipeline  *pipeline.Pipeline

	tracer  *sdktrace.TracerProvider
	closers []func() error
}

// Option customizes NewApp.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger uses logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// NewApp creates and initializes every service named by cfg. It fails fast:
// nothing touches the network until all providers are ready.
func NewApp(ctx context.Context, cfg config.Config, opts ...Option) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{Config: cfg, Logger: o.logger}
	if a.Logger == nil {
		a.Logger, err = logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	l := a.Logger
	l.Info("Initializing application services...")

	a.tracer, err = telemetry.InitTracerProvider(ctx, telemetry.ServiceName,
		sdktrace.WithSyncer(telemetry.NewLogExporter(l)))
	if err != nil {
		return a, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.Metrics, err = metrics.New()
	if err != nil {
		return a, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	a.Artifacts, err = a.buildStorage(ctx)
	if err != nil {
		return a, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.State, err = a.buildState(ctx)
	if err != nil {
		return a, fmt.Errorf("failed to initialize state: %w", err)
	}

	a.Publisher, err = a.buildPublisher(ctx)
	if err != nil {
		return a, fmt.Errorf("failed to initialize publisher: %w", err)
	}

	client, err := transport.New(transport.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		ProxyURL:     cfg.Fetch.ProxyURL,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}, l.Named("transport"),
		transport.WithHostWaiter(ratelimit.New(ratelimit.Config{
			RPS:     cfg.Fetch.PerHostRPS,
			Burst:   cfg.Fetch.PerHostBurst,
			Observe: a.Metrics.ObserveHostDelay,
		})),
		transport.WithObserver(a.Metrics),
	)
	if err != nil {
		return a, fmt.Errorf("failed to initialize transport: %w", err)
	}

	topic := ""
	if cfg.PubSub.Enabled() {
		topic = cfg.PubSub.TopicName
	}
	a.Pipeline, err = pipeline.New(pipeline.Config{
		Concurrency: cfg.Fetch.Concurrency,
		Fetch: transport.Options{
			Timeout:    cfg.Fetch.Timeout,
			MaxRetries: cfg.Fetch.Retries,
			RetryDelay: cfg.Fetch.RetryDelay,
		},
		Filter: dedupe.Filter{
			WindowHours:   cfg.Filter.WindowHours,
			RetentionDays: cfg.Filter.RetentionDays,
		},
		RawItemsPath:      cfg.Paths.RawItems,
		FilteredItemsPath: cfg.Paths.FilteredItems,
		Topic:             topic,
	}, pipeline.Deps{
		Fetcher:   client,
		Artifacts: a.Artifacts,
		Health:    a.State,
		Seen:      a.State,
		Publisher: a.Publisher,
		Clock:     system.New(),
		IDs:       uuid.New(),
		Recorder:  a.Metrics,
		Logger:    l.Named("pipeline"),
	})
	if err != nil {
		return a, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	l.Info("Application services initialized successfully.",
		zap.String("storage", cfg.Storage.Provider),
		zap.String("state", cfg.State.Provider),
		zap.Bool("publish", cfg.PubSub.Enabled()),
	)
	return a, nil
}

func (a *App) buildStorage(ctx context.Context) (storage.BlobStore, error) {
	cfg := a.Config.Storage
	var store storage.BlobStore
	switch cfg.Provider {
	case config.StorageLocal:
		a.Logger.Info("Using local storage provider", zap.String("base_dir", cfg.BaseDir))
		s, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, err
		}
		store = s
	case config.StorageMemory:
		a.Logger.Info("Using in-memory storage provider. Nothing survives the process.")
		store = memory.NewBlobStore()
	case config.StorageGCS:
		a.Logger.Info("Using GCS storage provider", zap.String("bucket", cfg.GCSBucket))
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		s, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		store = s
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
	return storage.WithPrefix(store, cfg.Prefix), nil
}

func (a *App) buildState(ctx context.Context) (state.Repository, error) {
	switch a.Config.State.Provider {
	case config.StateStorage:
		return state.NewBlobRepository(a.Artifacts, a.Config.Paths.Health, a.Config.Paths.Seen)
	case config.StatePostgres:
		a.Logger.Info("Connecting to PostgreSQL...")
		db := a.Config.DB
		s, err := postgres.NewStateStore(ctx, postgres.StateStoreConfig{
			DSN:         db.DSN,
			HealthTable: db.HealthTable,
			SeenTable:   db.SeenTable,
			MaxConns:    db.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { s.Close(); return nil })
		return s, nil
	default:
		return nil, fmt.Errorf("unknown state provider: %s", a.Config.State.Provider)
	}
}

func (a *App) buildPublisher(ctx context.Context) (publisher.Publisher, error) {
	ps := a.Config.PubSub
	if !ps.Enabled() {
		a.Logger.Info("Publishing disabled. Filtered items stay in storage only.")
		return publisher.Nop{}, nil
	}
	a.Logger.Info("Connecting to GCP Pub/Sub", zap.String("topic", ps.TopicName))
	client, err := pubsubpub.NewClient(ctx, ps.ProjectID)
	if err != nil {
		return nil, err
	}
	p := pubsubpub.New(client)
	a.closers = append(a.closers, p.Close)
	return p, nil
}

// Close releases every service in reverse order of construction and flushes
// the logger. Errors are logged, not returned.
func (a *App) Close() {
	if a == nil || a.Logger == nil {
		return
	}
	a.Logger.Info("Shutting down application services...")
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			errs = append(errs, err)
		}
		a.tracer = nil
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Warn("Error closing services", zap.Error(err))
	}
	_ = a.Logger.Sync()
}

// WriteMetrics exports the run's collectors to the configured textfile, if any.
func (a *App) WriteMetrics() error {
	if a.Config.Metrics.Textfile == "" {
		return nil
	}
	return a.Metrics.WriteTextfile(a.Config.Metrics.Textfile)
}
