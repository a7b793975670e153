package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/audioscribe/api/internal/client"
	"github.com/audioscribe/api/internal/config"
	"github.com/audioscribe/api/internal/engine"
	"github.com/audioscribe/api/internal/handler"
	"github.com/audioscribe/api/internal/media"
	"github.com/audioscribe/api/internal/middleware"
	"github.com/audioscribe/api/internal/queue"
	"github.com/audioscribe/api/internal/service"
	"github.com/audioscribe/api/internal/store"
	ws "github.com/audioscribe/api/internal/websocket"
	"github.com/audioscribe/api/internal/worker"
)

func main() {
	// Load .env if present; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("load config")
	}

	log := newLogger(cfg)

	// Redis backs the durable store and the submit rate limiter. Both are
	// optional; without it the service runs fully in-process.
	var redisClient *redis.Client
	if cfg.Store.Backend == "redis" || cfg.RateLimit.SubmitPerMin > 0 {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			if cfg.Store.Backend == "redis" {
				log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis required for redis store backend")
			}
			log.Warn().Err(err).Msg("redis not available, rate limiting disabled")
			redisClient = nil
		}
	}

	var jobStore store.Store
	switch cfg.Store.Backend {
	case "redis":
		jobStore = store.NewRedisStore(redisClient)
	default:
		jobStore = store.NewMemoryStore()
	}
	log.Info().Str("backend", cfg.Store.Backend).Msg("job store initialized")

	jobQueue := queue.New(cfg.Pipeline.QueueCapacity)

	// A durable store can hold jobs that were queued when the previous
	// process stopped; put them back in line before workers start.
	if n, err := worker.RequeueOrphans(context.Background(), jobStore, jobQueue, log); err != nil {
		log.Error().Err(err).Msg("requeue recovery failed")
	} else if n > 0 {
		log.Info().Int("jobs", n).Msg("requeued jobs from previous run")
	}

	eng := buildEngine(cfg, log)
	log.Info().Str("engine", eng.Name()).Msg("transcription engine selected")

	fetcher := media.NewFetcher(media.FetcherConfig{
		Timeout:   cfg.Media.FetchTimeout,
		MaxBytes:  cfg.Media.MaxUploadBytes,
		YtDlpPath: cfg.Media.YtDlpPath,
		TmpDir:    cfg.Media.TmpDir,
	})
	normalizer := media.NewNormalizer(media.NormalizerConfig{
		FFmpegPath:  cfg.Media.FFmpegPath,
		FFprobePath: cfg.Media.FFprobePath,
		SampleRate:  cfg.Media.SampleRate,
		MaxBytes:    cfg.Media.MaxUploadBytes,
		MaxDuration: cfg.Media.MaxDuration,
		TmpDir:      cfg.Media.TmpDir,
	})

	// R2 object storage is optional; without it inline uploads spool to disk.
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn().Err(err).Msg("r2 client not initialized, spooling uploads locally")
		} else {
			storage = r2Client
		}
	}

	hub := ws.NewHub(log.With().Str("component", "websocket").Logger())
	go hub.Run()

	validate := validator.New()

	jobService := service.NewJobService(jobStore, jobQueue, service.Options{
		Storage:        storage,
		Notifier:       hub,
		Prober:         normalizer,
		MaxUploadBytes: cfg.Media.MaxUploadBytes,
		MaxDuration:    cfg.Media.MaxDuration,
		SpoolDir:       cfg.Media.TmpDir,
	}, log.With().Str("component", "service").Logger())

	jobHandler := handler.NewJobHandler(jobService, validate)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    int(cfg.Media.MaxUploadBytes) * 2, // base64 overhead headroom
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"engine": eng.Name(),
				"store":  cfg.Store.Backend,
				"queue": fiber.Map{
					"depth":    jobQueue.Len(),
					"capacity": jobQueue.Cap(),
				},
				"redis": redisClient != nil,
				"r2":    storage != nil,
				"auth":  cfg.Auth.Enabled,
			},
		})
	})

	// API routes; authentication is optional and config-driven.
	var api fiber.Router = app
	if cfg.Auth.Enabled && cfg.Auth.JWTSecret != "" {
		authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret)
		api = app.Group("/", authMiddleware.Authenticate())
		log.Info().Msg("bearer token auth enabled")
	}

	rateLimiter := middleware.NewRateLimiter(redisClient)

	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerMin), jobHandler.Submit)
	jobs.Get("/", jobHandler.List)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/result", jobHandler.Result)
	jobs.Delete("/:jobId", jobHandler.Cancel)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Pipeline: worker pool drains the queue, sweeper handles liveness and
	// retention.
	pipelineCtx, stopPipeline := context.WithCancel(context.Background())

	pool := worker.NewPool(worker.PoolConfig{
		Store:      jobStore,
		Queue:      jobQueue,
		Fetcher:    fetcher,
		Normalizer: normalizer,
		Engine:     eng,
		Notifier:   hub,
		JobTimeout: cfg.Pipeline.JobTimeout,
		Size:       cfg.Pipeline.Workers,
	}, log.With().Str("component", "pool").Logger())
	pool.Start(pipelineCtx)

	sweeper := worker.NewSweeper(worker.SweeperConfig{
		Store:      jobStore,
		Notifier:   hub,
		JobTimeout: cfg.Pipeline.JobTimeout,
		Retention:  cfg.Pipeline.Retention,
		Interval:   cfg.Pipeline.SweepInterval,
	}, log.With().Str("component", "sweeper").Logger())
	go sweeper.Run(pipelineCtx)

	// Graceful shutdown: stop accepting, close the queue so executors drain
	// the backlog, then cancel whatever is still in flight.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown")
		}
		jobQueue.Close()
		stopPipeline()
		pool.Wait()
	}()

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Int("workers", cfg.Pipeline.Workers).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out = os.Stderr
	log := zerolog.New(out)
	if cfg.Server.LogFormat == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}
	return log.Level(level).With().Timestamp().Logger()
}

// buildEngine picks the transcription backend. "auto" prefers the remote
// service, then a local whisper binary, then the mock.
func buildEngine(cfg *config.Config, log zerolog.Logger) engine.Engine {
	switch cfg.Engine.Kind {
	case "remote":
		return engine.NewRemoteEngine(engine.RemoteConfig{
			BaseURL: cfg.Engine.RemoteURL,
			APIKey:  cfg.Engine.RemoteAPIKey,
			Model:   cfg.Engine.Model,
			Timeout: cfg.Pipeline.JobTimeout,
		})
	case "whisper":
		return engine.NewWhisperEngine(cfg.Engine.WhisperBin)
	case "mock":
		return engine.NewMockEngine()
	default:
		if cfg.Engine.RemoteURL != "" {
			return engine.NewRemoteEngine(engine.RemoteConfig{
				BaseURL: cfg.Engine.RemoteURL,
				APIKey:  cfg.Engine.RemoteAPIKey,
				Model:   cfg.Engine.Model,
				Timeout: cfg.Pipeline.JobTimeout,
			})
		}
		if cfg.Engine.WhisperBin != "" {
			return engine.NewWhisperEngine(cfg.Engine.WhisperBin)
		}
		log.Warn().Msg("no transcription engine configured, using mock")
		return engine.NewMockEngine()
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
