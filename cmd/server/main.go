package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/stepdocs/api/internal/client"
	"github.com/stepdocs/api/internal/config"
	"github.com/stepdocs/api/internal/handler"
	"github.com/stepdocs/api/internal/media"
	"github.com/stepdocs/api/internal/middleware"
	"github.com/stepdocs/api/internal/service"
	"github.com/stepdocs/api/internal/store"
	"github.com/stepdocs/api/internal/transcribe"
	"github.com/stepdocs/api/internal/watcher"
	ws "github.com/stepdocs/api/internal/websocket"
	"github.com/stepdocs/api/internal/worker"
	"github.com/stepdocs/api/pkg/executor"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the job store
	st, err := store.Open(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Object storage mirror is optional
	var (
		mirror  service.AssetMirror
		storage *client.StorageClient
	)
	if cfg.S3.Enabled() {
		storage, err = client.NewStorageClient(ctx, &cfg.S3)
		if err != nil {
			log.Fatalf("Failed to create storage client: %v", err)
		}
		mirror = storage
	}

	// External tools share one subprocess budget
	exec := executor.Limit(executor.New(), cfg.Worker.MaxSubprocesses)
	extractor := media.NewExtractor(exec, &cfg.Media)
	transcriber := transcribe.NewWorker(exec, &cfg.Transcriber)

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	// Initialize services
	paths := service.NewPaths(&cfg.Storage)
	locks := service.NewJobLocks()
	runs := service.NewRunRegistry()

	pipelineService := service.NewPipelineService(st, extractor, transcriber, paths, runs, hub)
	finalizeService := service.NewFinalizeService(st, extractor, locks, paths, mirror, hub)
	statusService := service.NewStatusService(st)
	documentService := service.NewDocumentService(st, extractor, paths, mirror)

	// Jobs caught mid-stage by a restart are never retried
	if n, err := pipelineService.FailInterrupted(ctx); err != nil {
		log.Printf("Warning: job recovery failed: %v", err)
	} else if n > 0 {
		log.Printf("Failed %d jobs interrupted by restart", n)
	}

	// Background runs go through asynq or the in-process pool
	var (
		dispatcher   service.Dispatcher
		asynqServer  *asynq.Server
		localPool    *worker.LocalPool
		pipelineTask = worker.JobRunnerFunc(pipelineService.Run)
		finalizeTask = worker.JobRunnerFunc(finalizeService.Finalize)
	)
	switch cfg.Worker.Mode {
	case config.WorkerModeAsynq:
		asynqClient := asynq.NewClient(redisOpt(cfg))
		defer asynqClient.Close()
		dispatcher = worker.NewAsynqDispatcher(asynqClient)
		asynqServer = startWorkerServer(cfg, pipelineTask, finalizeTask)
	default:
		localPool = worker.NewLocalPool(cfg.Worker.Concurrency)
		localPool.Handle(worker.TaskTypePipeline, pipelineTask)
		localPool.Handle(worker.TaskTypeFinalize, finalizeTask)
		dispatcher = localPool

		// Queued runs live only in memory
		pending, err := pipelineService.PendingJobs(ctx)
		if err != nil {
			log.Printf("Warning: listing pending jobs failed: %v", err)
		}
		for _, id := range pending {
			if err := dispatcher.DispatchPipeline(ctx, id); err != nil {
				log.Printf("Warning: failed to requeue job %s: %v", id, err)
			}
		}
	}

	reviewService := service.NewReviewService(st, locks, dispatcher, paths)
	uploadService := service.NewUploadService(st, dispatcher, paths, &cfg.Upload)

	// Initialize handlers
	uploadHandler := handler.NewUploadHandler(uploadService, validate)
	statusHandler := handler.NewStatusHandler(statusService)
	segmentHandler := handler.NewSegmentHandler(reviewService, validate)
	documentHandler := handler.NewDocumentHandler(documentService, pipelineService, validate)
	wsHandler := handler.NewWebSocketHandler(hub, statusService)

	// Initialize middleware
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Upload.MaxSizeMB+1) * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Extracted screenshots
	app.Static("/img", filepath.Join(cfg.Storage.StaticDir, "img"))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		checks := fiber.Map{"database": "ok", "redis": "ok"}
		status := "ok"
		if err := st.Ping(c.Context()); err != nil {
			checks["database"] = err.Error()
			status = "degraded"
		}
		if err := redisClient.Ping(c.Context()).Err(); err != nil {
			checks["redis"] = err.Error()
		}
		if storage != nil {
			checks["storage"] = "ok"
			if err := storage.Ping(c.Context()); err != nil {
				checks["storage"] = err.Error()
			}
		}
		return c.JSON(fiber.Map{
			"status": status,
			"worker": cfg.Worker.Mode,
			"checks": checks,
		})
	})

	// API routes
	api := app.Group("/api")
	api.Post("/upload", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), uploadHandler.Upload)
	api.Get("/status/:jobId", statusHandler.Status)

	// Document routes
	docs := api.Group("/docs/:jobId")
	docs.Get("/", documentHandler.Get)
	docs.Get("/segments", segmentHandler.List)
	docs.Post("/segments", segmentHandler.Append)
	docs.Put("/segments/:segmentId/screenshot", segmentHandler.SetScreenshot)
	docs.Post("/finalize-segments", segmentHandler.Finalize)
	docs.Post("/video-screenshot", rateLimiter.ScreenshotLimit(cfg.RateLimit.ScreenshotPerMin), documentHandler.VideoScreenshot)
	docs.Post("/cancel", documentHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", wsHandler.Upgrade)
	app.Get("/ws/jobs/:jobId", wsHandler.Job())

	// Drop folder ingestion
	var dropWatcher *watcher.Watcher
	if cfg.Watcher.Enabled {
		dropWatcher, err = watcher.New(cfg.Watcher.Dir, func(ctx context.Context, path string) error {
			job, err := uploadService.IngestFile(ctx, path)
			if err != nil {
				return err
			}
			log.Printf("Queued job %s for %s", job.ID, path)
			return nil
		}, cfg.Worker.Concurrency)
		if err != nil {
			log.Fatalf("Failed to start watcher: %v", err)
		}
		go func() {
			if err := dropWatcher.Start(ctx); err != nil && ctx.Err() == nil {
				log.Printf("Watcher stopped: %v", err)
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s (worker mode: %s)", addr, cfg.Worker.Mode)
	if err := app.Listen(addr); err != nil {
		log.Printf("Server error: %v", err)
	}

	cancel()
	if dropWatcher != nil {
		dropWatcher.Stop()
	}
	if asynqServer != nil {
		asynqServer.Shutdown()
	}
	if localPool != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		if err := localPool.Shutdown(shutdownCtx); err != nil {
			log.Printf("Worker pool shutdown error: %v", err)
		}
	}
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func startWorkerServer(cfg *config.Config, pipeline, finalize worker.JobRunner) *asynq.Server {
	srv := asynq.NewServer(
		redisOpt(cfg),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				worker.QueuePipeline: 1,
			},
			LogLevel: asynqLogLevel(cfg.Server.LogLevel),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypePipeline, worker.NewPipelineWorker(pipeline).ProcessTask)
	mux.HandleFunc(worker.TaskTypeFinalize, worker.NewFinalizeWorker(finalize).ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Fatalf("Asynq worker error: %v", err)
	}
	return srv
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn", "warning":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
