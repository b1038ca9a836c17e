package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"quizmaster-backend/internal/config"
	"quizmaster-backend/internal/database"
	"quizmaster-backend/internal/handlers"
	"quizmaster-backend/internal/logger"
	"quizmaster-backend/internal/middleware"
	"quizmaster-backend/internal/repository"
	"quizmaster-backend/internal/router"
	"quizmaster-backend/internal/services"
	"quizmaster-backend/internal/websocket"
	"quizmaster-backend/internal/worker"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ Logger initialization failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("🚀 Starting QuizMaster backend...")
	if err := cfg.RequireSessionSecret(); err != nil {
		log.Fatal("✗ Session secret missing", zap.Error(err))
	}
	log.Info("✓ Configuration loaded", zap.String("env", cfg.Env))

	ctx := context.Background()

	// ──── Step 2: Open Database ────
	db, err := database.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("✗ Database connection failed", zap.String("driver", cfg.DatabaseDriver), zap.Error(err))
	}
	defer db.Close()
	log.Info("✓ Database connected", zap.String("driver", cfg.DatabaseDriver))

	if err := database.RunMigrations(ctx, db, log); err != nil {
		log.Fatal("✗ Database migration failed", zap.Error(err))
	}
	log.Info("✓ Database migrations applied")

	// ──── Step 3: Initialize Redis Clients (optional) ────
	var redisClients *database.RedisClients
	if cfg.RedisURL != "" {
		redisClients, err = database.NewRedisClients(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal("✗ Redis connection failed", zap.Error(err))
		}
		defer redisClients.Close()
		log.Info("✓ Redis connected")
	} else {
		log.Warn("⚠ REDIS_URL not set: async generation, live updates and the source cache are disabled")
	}

	// ──── Step 4: Initialize Services ────
	prompts := services.MustDefaultPrompts()
	if cfg.PromptsPath != "" {
		prompts, err = services.LoadPromptCatalog(cfg.PromptsPath)
		if err != nil {
			log.Fatal("✗ Prompt catalog failed to load", zap.String("path", cfg.PromptsPath), zap.Error(err))
		}
		log.Info("✓ Prompt catalog loaded", zap.String("path", cfg.PromptsPath))
	}

	var cache services.TextCache
	if redisClients != nil {
		cache = services.NewRedisTextCache(redisClients.Queue)
	}

	llms := services.NewLLMFactory(services.LLMSettingsFromConfig(cfg), log)
	youtubeService := services.NewYouTubeService(log)
	fileExtractService := services.NewFileExtractService()
	sourceService := services.NewSourceService(fileExtractService, youtubeService, prompts, cache, cfg.SourceCacheTTL, log)
	generator := services.NewQuizGenerator(prompts, cfg.MaxSourceChars, log)
	pipeline := services.NewQuizPipeline(llms, sourceService, generator, log)
	scheduler := services.NewFlashcardScheduler()
	sessionAuth := middleware.NewSessionAuth(cfg.SessionSecret, cfg.SessionTTL)
	log.Info("✓ Services initialized", zap.String("default_provider", cfg.DefaultProvider))

	// ──── Initialize Repositories ────
	quizRepo := repository.NewQuizRepo(db)
	flashcardRepo := repository.NewFlashcardRepo(db)
	jobRepo := repository.NewJobRepo(db)

	// ──── Step 5: Start Job Worker Pool & WebSocket Hub ────
	var (
		workerPool  *worker.Pool
		wsHub       *websocket.Hub
		quizHandler *handlers.QuizHandler
	)
	if redisClients != nil {
		queue := worker.NewRedisQueue(redisClients.Queue)
		workerPool = worker.NewPool(
			queue,
			worker.NewRedisPublisher(redisClients.PubSub),
			jobRepo,
			quizRepo,
			pipeline,
			cfg.WorkerCount,
			log,
		)
		workerPool.Start()
		log.Info("✓ Worker pool started", zap.Int("workers", cfg.WorkerCount))

		wsHub = websocket.NewHub(redisClients.PubSub, sessionAuth, cfg.AllowedOrigins, log)
		log.Info("✓ WebSocket hub started")

		quizHandler = handlers.NewQuizHandler(quizRepo, jobRepo, pipeline, queue, sessionAuth, cfg.MaxUploadBytes, log)
	} else {
		quizHandler = handlers.NewQuizHandler(quizRepo, jobRepo, pipeline, nil, sessionAuth, cfg.MaxUploadBytes, log)
	}

	// ──── Initialize Handlers ────
	checks := map[string]handlers.HealthCheck{"database": db.PingContext}
	if redisClients != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClients.Queue.Ping(ctx).Err() }
	}
	healthHandler := handlers.NewHealthHandler(checks)
	sourceHandler := handlers.NewSourceHandler(youtubeService, cfg.MaxUploadBytes, log)
	attemptHandler := handlers.NewAttemptHandler(quizRepo)
	flashcardHandler := handlers.NewFlashcardHandler(quizRepo, flashcardRepo, scheduler)
	jobHandler := handlers.NewJobHandler(jobRepo, quizRepo)

	generateLimiter := middleware.NewRateLimiter(cfg.GenerateLimit, time.Minute)

	// ──── Step 6: Start HTTP Server ────
	r := router.New(
		sessionAuth,
		generateLimiter,
		healthHandler,
		sourceHandler,
		quizHandler,
		attemptHandler,
		flashcardHandler,
		jobHandler,
		wsHub,
		cfg.AllowedOrigins,
		log,
	)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  router.ReadTimeout,
		WriteTimeout: router.WriteTimeout,
		IdleTimeout:  router.IdleTimeout,
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("HTTP shutdown failed", zap.Error(err))
		}

		if workerPool != nil {
			workerPool.Stop()
		}
		if wsHub != nil {
			wsHub.Close()
		}
		generateLimiter.Stop()
	}()

	log.Info("✓ QuizMaster backend ready",
		zap.String("api", fmt.Sprintf("http://localhost:%s/api/v1", cfg.Port)),
		zap.Bool("websocket", wsHub != nil),
	)

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("Server error", zap.Error(err))
	}
	<-done
	log.Info("✓ Shutdown complete")
}
