/**
 * VideoTranslate Worker - Main Entry Point
 *
 * Go worker that replaces on-screen text in videos with a translation.
 *
 * Architecture:
 * - Redis list or asynq consumer for the job queue
 * - ffmpeg decode -> detect -> extract -> translate -> inpaint -> composite -> ffmpeg encode
 * - Tesseract OCR, LibreTranslate-compatible HTTP translation with Redis cache
 * - PostgreSQL persistence for job status and per-frame results (optional)
 * - Artifact upload of finished videos to the FileProcess API (optional)
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/adverant/nexus/videotranslate-worker/internal/clients"
	"github.com/adverant/nexus/videotranslate-worker/internal/config"
	"github.com/adverant/nexus/videotranslate-worker/internal/health"
	"github.com/adverant/nexus/videotranslate-worker/internal/logging"
	"github.com/adverant/nexus/videotranslate-worker/internal/processor"
	"github.com/adverant/nexus/videotranslate-worker/internal/queue"
	"github.com/adverant/nexus/videotranslate-worker/internal/storage"
)

// consumer is the part of both queue backends main needs
type consumer interface {
	start() error
	stop() error
	stats(ctx context.Context) (interface{}, error)
}

type redisListConsumer struct{ c *queue.RedisConsumer }

func (r redisListConsumer) start() error { return r.c.Start() }
func (r redisListConsumer) stop() error  { return r.c.Stop() }
func (r redisListConsumer) stats(ctx context.Context) (interface{}, error) {
	return r.c.GetStats(ctx)
}

type asynqConsumer struct{ c *queue.Consumer }

func (a asynqConsumer) start() error { return a.c.Start(context.Background()) }
func (a asynqConsumer) stop() error  { return a.c.Stop(context.Background()) }
func (a asynqConsumer) stats(context.Context) (interface{}, error) {
	return a.c.GetStatistics()
}

func main() {
	logger := logging.NewLogger("Worker")

	if err := godotenv.Load(".env.nexus"); err != nil {
		logger.Warn(".env.nexus not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	logging.Configure(os.Stderr, cfg.LogLevel, cfg.AppEnv == "development")
	logger = logging.NewLogger("Worker")

	logger.Info("VideoTranslate Worker starting",
		"queue_backend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"target_lang", cfg.TargetLanguage,
		"jobs", cfg.JobConcurrency,
		"workers", cfg.WorkerCount,
		"in_flight", cfg.MaxInFlight)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Redis backs the list queue and the shared translation cache
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Error("Invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()

	// PostgreSQL is optional
	var store processor.Store
	var storageManager *storage.StorageManager
	if cfg.DatabaseURL != "" {
		storageManager, err = storage.NewStorageManager(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("Failed to initialize storage manager", "error", err)
			os.Exit(1)
		}
		defer storageManager.Close()
		store = storageManager
		logger.Info("Storage manager initialized (PostgreSQL)")
	} else {
		logger.Warn("DATABASE_URL not set, job status and frame results are not persisted")
	}

	var artifactClient *clients.ArtifactClient
	if cfg.FileProcessAPIURL != "" {
		artifactClient = clients.NewArtifactClient(cfg.FileProcessAPIURL)
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := artifactClient.HealthCheck(checkCtx); err != nil {
			logger.Warn("Artifact storage health check failed", "url", cfg.FileProcessAPIURL, "error", err)
		}
		cancel()
	}

	proc, err := processor.NewVideoProcessor(&processor.ProcessorConfig{
		Config:         cfg,
		Store:          store,
		RedisClient:    redisClient,
		ArtifactClient: artifactClient,
	})
	if err != nil {
		logger.Error("Failed to initialize video processor", "error", err)
		os.Exit(1)
	}
	defer proc.Close()

	var jobs consumer
	switch cfg.QueueBackend {
	case "asynq":
		c, err := queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:          cfg.RedisURL,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.JobConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.Timeout(),
		})
		if err != nil {
			logger.Error("Failed to initialize asynq consumer", "error", err)
			os.Exit(1)
		}
		jobs = asynqConsumer{c}
	default:
		c, err := queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			Client:            redisClient,
			QueueName:         cfg.QueueName,
			Concurrency:       cfg.JobConcurrency,
			Processor:         proc,
			ProcessingTimeout: cfg.Timeout(),
		})
		if err != nil {
			logger.Error("Failed to initialize queue consumer", "error", err)
			os.Exit(1)
		}
		jobs = redisListConsumer{c}
	}

	var healthServer *health.Server
	if cfg.HealthPort > 0 {
		healthServer = health.NewServer(cfg.HealthPort)
		healthServer.AddCheck("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
		healthServer.AddStats("queue", jobs.stats)
		if storageManager != nil {
			healthServer.AddCheck("postgres", storageManager.Ping)
			healthServer.AddStats("postgres", func(context.Context) (interface{}, error) {
				return storageManager.GetStats(), nil
			})
			healthServer.SetJobLookup(storageManager.GetJobByID)
		}
		healthServer.Start()
	}

	if err := jobs.start(); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}
	logger.Info("VideoTranslate Worker is READY, waiting for jobs")

	<-ctx.Done()
	logger.Info("Shutdown signal received, stopping")

	if err := jobs.stop(); err != nil {
		logger.Warn("Error stopping queue consumer", "error", err)
	}
	if healthServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		healthServer.Shutdown(shutdownCtx)
		cancel()
	}

	logger.Info("Shutdown complete")
}
