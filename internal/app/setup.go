package app

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/blogscan/internal/analyzer"
	"github.com/JakeFAU/blogscan/internal/archive"
	memorypublisher "github.com/JakeFAU/blogscan/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/blogscan/internal/publisher/pubsub"
	"github.com/JakeFAU/blogscan/internal/render"
	gcsstorage "github.com/JakeFAU/blogscan/internal/storage/gcs"
	localstorage "github.com/JakeFAU/blogscan/internal/storage/local"
	memorystorage "github.com/JakeFAU/blogscan/internal/storage/memory"
	pgstore "github.com/JakeFAU/blogscan/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/blogscan/internal/storage/sqlite"
	"github.com/JakeFAU/blogscan/internal/store"
)

func setupRenderer(app *App) ([]analyzer.Option, error) {
	if !app.cfg.Render.Enabled {
		return nil, nil
	}
	renderer, err := render.NewChromedp(render.Config{
		MaxParallel:       app.cfg.Render.MaxParallel,
		UserAgent:         app.cfg.Fetch.UserAgent,
		NavigationTimeout: app.cfg.Render.NavigationTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("renderer init failed: %w", err)
	}
	app.renderer = renderer
	app.logger.Info("headless render fallback enabled", zap.Int("max_parallel", app.cfg.Render.MaxParallel))
	return []analyzer.Option{
		analyzer.WithRenderer(renderer, render.NewHeuristic(app.cfg.Render.BodyThreshold)),
	}, nil
}

func setupHistory(ctx context.Context, app *App) (store.BatchRepository, error) {
	cfg := app.cfg.History
	switch cfg.Provider {
	case "postgres":
		pg, err := pgstore.NewBatchStore(ctx, pgstore.Config{
			DSN:             cfg.DSN,
			Table:           cfg.Table,
			MaxConns:        cfg.MaxConns,
			MinConns:        cfg.MinConns,
			MaxConnLifetime: cfg.MaxConnLife,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres history init failed: %w", err)
		}
		app.historyClose = pg.Close
		app.logger.Info("using postgres batch history", zap.String("table", cfg.Table))
		return pg, nil
	case "sqlite":
		lite, err := sqlitestore.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite history init failed: %w", err)
		}
		app.historyClose = func() {
			if err := lite.Close(); err != nil {
				app.logger.Warn("sqlite history close failed", zap.Error(err))
			}
		}
		app.logger.Info("using sqlite batch history", zap.String("path", cfg.SQLitePath))
		return lite, nil
	case "memory":
		app.logger.Info("using in-memory batch history")
		return memorystorage.NewBatchStore(), nil
	default:
		app.logger.Debug("batch history disabled")
		return nil, nil
	}
}

func setupArchive(ctx context.Context, app *App) (archive.BlobStore, error) {
	cfg := app.cfg.Archive
	switch cfg.Provider {
	case "gcs":
		var err error
		app.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(app.gcsClient, gcsstorage.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("archiving reports to GCS", zap.String("bucket", cfg.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("archiving reports locally", zap.String("path", cfg.BaseDir))
		return blobs, nil
	case "memory":
		app.logger.Info("archiving reports in memory")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Debug("report archive disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (archive.Publisher, error) {
	cfg := app.cfg.Notify
	switch cfg.Provider {
	case "pubsub":
		var err error
		app.pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.pubsubPublisher = app.pubsubClient.Publisher(cfg.Topic)
		app.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.Topic),
		)
		return gcppublisher.New(app.pubsubPublisher), nil
	case "memory":
		app.logger.Info("using in-memory completion publisher")
		return memorypublisher.New(app.logger), nil
	default:
		app.logger.Debug("completion events disabled")
		return nil, nil
	}
}
