// Package app builds and owns the long-lived services of one scraper process,
// acting as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	gcsarchive "github.com/JakeFAU/scheduled-scraper/internal/archive/gcs"
	localarchive "github.com/JakeFAU/scheduled-scraper/internal/archive/local"
	memarchive "github.com/JakeFAU/scheduled-scraper/internal/archive/memory"
	"github.com/JakeFAU/scheduled-scraper/internal/clock/system"
	"github.com/JakeFAU/scheduled-scraper/internal/config"
	"github.com/JakeFAU/scheduled-scraper/internal/dbcheck"
	"github.com/JakeFAU/scheduled-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/scheduled-scraper/internal/hash/sha256"
	"github.com/JakeFAU/scheduled-scraper/internal/id/uuid"
	"github.com/JakeFAU/scheduled-scraper/internal/job"
	"github.com/JakeFAU/scheduled-scraper/internal/logging"
	pubmemory "github.com/JakeFAU/scheduled-scraper/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/scheduled-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/scheduled-scraper/internal/telemetry"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// App holds the services shared by every command.
type App struct {
	Settings config.Settings
	Logger   *zap.Logger
	Metrics  *telemetry.Metrics
	Checker  *dbcheck.Checker
	Runner   *job.Runner
	// Publisher receives run reports: Pub/Sub when notify.topic is set,
	// otherwise an in-process memory publisher.
	Publisher job.Publisher

	tracer  *sdktrace.TracerProvider
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func() error
}

type options struct {
	logger        *zap.Logger
	fetcher       job.PageFetcher
	storageOpts   []option.ClientOption
	pubsubOpts    []option.ClientOption
	spanExporters []sdktrace.SpanExporter
}

// Option customizes New.
type Option func(*options)

// WithLogger uses logger instead of building one from Settings.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFetcher replaces the headless browser fetcher.
func WithFetcher(f job.PageFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithStorageOptions passes client options to the Cloud Storage client.
func WithStorageOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.storageOpts = append(o.storageOpts, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOpts = append(o.pubsubOpts, opts...) }
}

// WithSpanExporter ships spans to exp.
func WithSpanExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) { o.spanExporters = append(o.spanExporters, exp) }
}

// New validates s and builds every service. On failure, whatever was already
// built is closed before returning.
func New(ctx context.Context, s config.Settings, opts ...Option) (*App, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Development: s.Logging.Development, Level: s.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}
	a := &App{Settings: s, Logger: logger, Metrics: telemetry.NewMetrics(true)}
	logger.Info("Initializing application services",
		zap.String("url", s.URL),
		zap.String("database_driver", s.Database.Driver),
		zap.String("archive_backend", s.Archive.Backend),
		zap.String("version", Version),
	)

	if err := a.build(ctx, o); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("Application services initialized")
	return a, nil
}

func (a *App) build(ctx context.Context, o options) error {
	s := a.Settings
	tp, err := telemetry.InitTracerProvider(ctx, s.Telemetry.ServiceName, Version, o.spanExporters...)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	a.tracer = tp

	fetcher := o.fetcher
	if fetcher == nil {
		fetcher, err = headless.NewChromedp(headless.Config{
			Timeout:        s.Fetch.Timeout,
			ViewportWidth:  s.Fetch.ViewportWidth,
			ViewportHeight: s.Fetch.ViewportHeight,
			NoSandbox:      s.Fetch.NoSandbox,
			DisableDevShm:  s.Fetch.DisableDevShm,
			ExecPath:       s.Fetch.ExecPath,
			UserAgent:      s.Fetch.UserAgent,
		}, a.Logger.Named("fetcher"))
		if err != nil {
			return fmt.Errorf("init fetcher: %w", err)
		}
	}

	var connector dbcheck.Connector = dbcheck.PGXConnector{}
	if s.Database.Driver == config.DriverPQ {
		connector = dbcheck.NewSQLConnector()
	}
	a.Checker, err = dbcheck.New(dbcheck.Config{
		DSN:     s.Database.DSN.Reveal(),
		Timeout: s.Database.CheckTimeout,
	}, connector, a.Logger.Named("dbcheck"))
	if err != nil {
		return fmt.Errorf("init database check: %w", err)
	}
	a.onClose("database check", a.Checker.Close)

	snapshots, err := a.buildArchive(ctx, o)
	if err != nil {
		return err
	}
	a.Publisher, err = a.buildPublisher(ctx, o)
	if err != nil {
		return err
	}

	deps := job.Dependencies{
		Fetcher:   fetcher,
		Checker:   a.Checker,
		Clock:     system.New(),
		IDs:       uuid.New(),
		Hasher:    sha256.New(),
		Snapshots: snapshots,
		Publisher: a.Publisher,
		Recorder:  a.Metrics,
		Logger:    a.Logger.Named("job"),
		Tracer:    tp,
	}
	a.Runner, err = job.New(job.Config{
		URL:                 s.URL,
		ExcerptLength:       s.Job.ExcerptLength,
		FailOnDatabaseError: s.Job.FailOnDatabaseError,
		SnapshotPrefix:      s.Archive.Prefix,
		Topic:               s.Notify.Topic,
	}, deps)
	if err != nil {
		return fmt.Errorf("init job: %w", err)
	}
	return nil
}

func (a *App) buildArchive(ctx context.Context, o options) (job.SnapshotStore, error) {
	cfg := a.Settings.Archive
	switch cfg.Backend {
	case config.ArchiveNone:
		a.Logger.Info("Snapshot archiving disabled")
		return nil, nil
	case config.ArchiveMemory:
		return memarchive.New(), nil
	case config.ArchiveLocal:
		store, err := localarchive.New(cfg.BaseDir)
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		a.Logger.Info("Archiving snapshots locally", zap.String("base_dir", cfg.BaseDir))
		return store, nil
	case config.ArchiveGCS:
		client, err := storage.NewClient(ctx, o.storageOpts...)
		if err != nil {
			return nil, fmt.Errorf("init storage client: %w", err)
		}
		a.onClose("storage client", client.Close)
		store, err := gcsarchive.New(client, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.Logger.Info("Archiving snapshots to GCS", zap.String("bucket", cfg.Bucket))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive backend: %s", cfg.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context, o options) (job.Publisher, error) {
	cfg := a.Settings.Notify
	if cfg.Topic == "" {
		a.Logger.Debug("Keeping run reports in memory", zap.Int("retain", pubmemory.DefaultRetain))
		return pubmemory.New(), nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, o.pubsubOpts...)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.onClose("pubsub client", client.Close)

	pub, err := pubsubpublisher.New(client.Topic(cfg.Topic))
	if err != nil {
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	a.onClose("publisher", pub.Close)
	a.Logger.Info("Publishing run reports", zap.String("project", cfg.ProjectID), zap.String("topic", cfg.Topic))
	return pub, nil
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Flush exports any spans still buffered by the tracer provider.
func (a *App) Flush(ctx context.Context) error {
	if a.tracer == nil {
		return nil
	}
	if err := a.tracer.ForceFlush(ctx); err != nil {
		return fmt.Errorf("flush traces: %w", err)
	}
	return nil
}

// Close releases services in reverse construction order, then flushes traces
// and the logger.
func (a *App) Close() {
	a.Logger.Info("Shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.Logger.Warn("Error closing service", zap.String("service", c.name), zap.Error(err))
		}
	}
	a.closers = nil
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			a.Logger.Warn("Error shutting down tracer provider", zap.Error(err))
		}
		a.tracer = nil
	}
	_ = a.Logger.Sync()
}
