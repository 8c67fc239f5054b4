// Package bootstrap provides dependency initialization for the clip worker.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/maauso/clip-worker/internal/clip"
	"github.com/maauso/clip-worker/internal/config"
	"github.com/maauso/clip-worker/internal/database"
	"github.com/maauso/clip-worker/internal/media"
	"github.com/maauso/clip-worker/internal/metrics"
	"github.com/maauso/clip-worker/internal/queue"
	"github.com/maauso/clip-worker/internal/reaper"
	"github.com/maauso/clip-worker/internal/scratch"
	"github.com/maauso/clip-worker/internal/server"
	"github.com/maauso/clip-worker/internal/storage"
	"github.com/maauso/clip-worker/internal/worker"
)

// Dependencies holds everything the process runs.
type Dependencies struct {
	Dispatcher *worker.Dispatcher
	Reaper     *reaper.Reaper
	Handler    http.Handler

	pool *pgxpool.Pool
}

// NewDependencies creates and initializes all dependencies for the worker.
// Missing tools and unreachable databases fail here, before any message is received.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	downloader := media.NewDownloader(
		media.WithYTDLPPath(cfg.YTDLPPath),
		media.WithFFmpegPath(cfg.FFmpegPath),
		media.WithFFprobePath(cfg.FFprobePath),
		media.WithMaxDuration(cfg.VideoMaxDuration),
		media.WithFormat(cfg.VideoOutputFormat),
		media.WithLogger(logger),
	)
	if err := downloader.CheckDependencies(ctx); err != nil {
		return nil, fmt.Errorf("check media tools: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.DBRunMigrations {
		if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	clips := clip.NewPostgresRepository(pool)

	awsCfg, err := cfg.AWSConfig(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}

	jobQueue, err := queue.NewSQSClient(awsCfg, cfg.SQSQueueURL,
		queue.WithWaitTime(cfg.SQSWaitTimeSec),
		queue.WithLogger(logger),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create SQS client: %w", err)
	}

	store, err := initStorage(cfg, awsCfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	area, err := scratch.New(cfg.VideoTempDir, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("create scratch area: %w", err)
	}

	registry := newRegistry()
	m := metrics.New(registry)

	dispatcher := worker.New(jobQueue, clips, downloader, store, area, worker.Config{
		Concurrency:         cfg.WorkerConcurrency,
		BatchSize:           cfg.SQSMaxMessages,
		PollInterval:        cfg.PollInterval(),
		ShutdownTimeout:     cfg.ShutdownTimeout(),
		MaxReceiveCount:     cfg.SQSMaxReceiveCount,
		VisibilityExtension: cfg.VisibilityExtension(),
		Format:              cfg.VideoOutputFormat,
	}, m, logger)

	cleanup := reaper.New(clips, store, area, reaper.Config{
		Interval:        cfg.CleanupInterval(),
		BatchSize:       cfg.CleanupBatchSize,
		ScratchInterval: cfg.TempCleanupInterval(),
		ScratchMaxAge:   cfg.TempMaxAge(),
	}, m, logger)

	handlers := server.NewHandlers(dispatcher, clips, jobQueue, logger)

	return &Dependencies{
		Dispatcher: dispatcher,
		Reaper:     cleanup,
		Handler:    server.NewRouter(handlers, registry, m, logger),
		pool:       pool,
	}, nil
}

// Close releases the database pool.
func (d *Dependencies) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

// newRegistry returns a registry carrying the runtime collectors.
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// initStorage creates the appropriate artifact store based on configuration.
func initStorage(cfg *config.Config, awsCfg aws.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Store(awsCfg, cfg.S3Bucket,
			// Custom endpoints (LocalStack, MinIO) need path-style addressing.
			storage.WithPathStyle(cfg.AWSEndpointURL != ""),
			storage.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.AWSRegion),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStore(cfg.ArtifactDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("artifact_dir", localStore.Root()),
	)
	return localStore, nil
}
