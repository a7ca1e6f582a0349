// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/analyzer"
	"github.com/JakeFAU/blogscan/internal/api"
	"github.com/JakeFAU/blogscan/internal/archive"
	"github.com/JakeFAU/blogscan/internal/batch"
	"github.com/JakeFAU/blogscan/internal/config"
	"github.com/JakeFAU/blogscan/internal/discovery"
	"github.com/JakeFAU/blogscan/internal/fetch"
	"github.com/JakeFAU/blogscan/internal/policy/ratelimit"
	"github.com/JakeFAU/blogscan/internal/progress"
	"github.com/JakeFAU/blogscan/internal/progress/sinks"
	"github.com/JakeFAU/blogscan/internal/render"
	"github.com/JakeFAU/blogscan/internal/store"
)

const closeTimeout = 5 * time.Second

// App holds the shared services built from a Config: separate per-host
// limiters for discovery fetches and page analysis, the discovery engine, a
// progress hub fanning snapshots out to its sinks, and the recorder that
// persists finished batches.
type App struct {
	cfg              config.Config
	logger           *zap.Logger
	discoveryLimiter *ratelimit.Limiter
	analysisLimiter  *ratelimit.Limiter
	engine           *discovery.Engine
	analyzer         *analyzer.Analyzer
	hub              *progress.Hub
	latest           *sinks.LatestSink
	recorder         *archive.Recorder
	history          store.BatchRepository

	renderer        *render.Chromedp
	gcsClient       *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	historyClose    func()
}

// NewApp wires every service from cfg. reg receives the Prometheus progress
// collectors when metrics are enabled; pass nil to skip them. ctx bounds the
// connections made to external stores during startup.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Initializing application services...")
	a := &App{cfg: cfg, logger: logger}

	// Discovery and analysis keep their own token buckets so a batch
	// analyzing one host does not stall a concurrent discovery of it.
	limiterCfg := ratelimit.Config{
		DefaultRPS:   cfg.Fetch.HostRPS,
		DefaultBurst: cfg.Fetch.HostBurst,
	}
	a.discoveryLimiter = ratelimit.New(limiterCfg)
	a.analysisLimiter = ratelimit.New(limiterCfg)
	fetcher := fetch.New(fetch.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		Timeout:       cfg.Fetch.Timeout,
		MaxAttempts:   cfg.Fetch.MaxAttempts,
		BackoffBase:   cfg.Fetch.BackoffBase,
		BackoffMax:    cfg.Fetch.BackoffMax,
		MaxRetryAfter: cfg.Fetch.MaxRetryAfter,
		MaxBodyBytes:  cfg.Fetch.MaxBodyBytes,
	}, fetch.WithLogger(logger), fetch.WithLimiter(a.discoveryLimiter))

	a.engine = discovery.NewEngine(fetcher, discovery.Config{
		SitemapConcurrency: cfg.Discovery.SitemapConcurrency,
		MaxSitemapDepth:    cfg.Discovery.MaxSitemapDepth,
		DefaultLimit:       cfg.Discovery.DefaultLimit,
	}, logger)

	analyzerOpts, err := setupRenderer(a)
	if err != nil {
		return nil, err
	}
	a.analyzer = analyzer.New(analyzer.Config{
		UserAgent: cfg.Fetch.UserAgent,
		Timeout:   cfg.Fetch.Timeout,
	}, a.analysisLimiter, logger, analyzerOpts...)

	if err := a.setupPersistence(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	a.latest = sinks.NewLatestSink(cfg.Server.ProgressRetention)
	progressSinks := []progress.Sink{sinks.NewLogSink(logger), a.latest}
	if cfg.Metrics.Enabled && reg != nil {
		promSink, err := sinks.NewPrometheusSink(reg)
		if err != nil {
			a.closeInfrastructure()
			return nil, fmt.Errorf("init prometheus progress sink: %w", err)
		}
		progressSinks = append(progressSinks, promSink)
	}
	a.hub = progress.NewHub(progress.Config{Logger: logger}, progressSinks...)

	logger.Info("Application services initialized successfully.",
		zap.Int("progress_sinks", len(progressSinks)),
		zap.Float64("host_rps", cfg.Fetch.HostRPS),
		zap.Bool("render", a.renderer != nil),
		zap.String("history", cfg.History.Provider),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("notify", cfg.Notify.Provider),
	)
	return a, nil
}

func (a *App) setupPersistence(ctx context.Context) error {
	history, err := setupHistory(ctx, a)
	if err != nil {
		return err
	}
	blobs, err := setupArchive(ctx, a)
	if err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	a.history = history
	a.recorder = archive.New(archive.Config{
		Prefix: a.cfg.Archive.Prefix,
		Topic:  a.cfg.Notify.Topic,
	}, history, blobs, publisher, a.logger.Named("archive"))
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Discoverer returns the discovery engine.
func (a *App) Discoverer() api.Discoverer {
	return a.engine
}

// Worker returns the page analyzer as a batch worker.
func (a *App) Worker() batch.Worker[analyzer.PageAnalysis] {
	return a.analyzer.Analyze
}

// Emitter returns the progress hub.
func (a *App) Emitter() progress.Emitter {
	return a.hub
}

// ProgressReader exposes the latest snapshot per batch.
func (a *App) ProgressReader() api.ProgressReader {
	return a.latest
}

// Recorder persists finished batches to the configured destinations.
func (a *App) Recorder() api.Recorder {
	return a.recorder
}

// History returns the batch history repository, or nil when
// history.provider is none.
func (a *App) History() store.BatchRepository {
	return a.history
}

// Close drains the progress hub, releases external clients and flushes the
// logger.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("Error closing progress hub", zap.Error(err))
	}
	a.closeInfrastructure()
	// Best effort: syncing stderr fails on some platforms.
	_ = a.logger.Sync()
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.historyClose != nil {
		a.historyClose()
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
}
