package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/makeasinger/storystudio/internal/client"
	"github.com/makeasinger/storystudio/internal/config"
	"github.com/makeasinger/storystudio/internal/handler"
	"github.com/makeasinger/storystudio/internal/logger"
	"github.com/makeasinger/storystudio/internal/middleware"
	"github.com/makeasinger/storystudio/internal/orchestrator"
	"github.com/makeasinger/storystudio/internal/service"
	"github.com/makeasinger/storystudio/internal/session"
	"github.com/makeasinger/storystudio/internal/snapshot"
	ws "github.com/makeasinger/storystudio/internal/websocket"
	"github.com/makeasinger/storystudio/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(logger.Config{Level: cfg.Server.LogLevel, Encoding: cfg.Server.LogEncoding})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	redisUp := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zlog.Warn("Redis not available", zap.Error(err))
		redisUp = false
	}

	// Initialize Asynq client
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()

	hub := ws.NewHub(zlog)
	go hub.Run()

	// Providers, wrapped with retry and timeouts
	providers := client.NewRetrier(cfg.Retry, cfg.Timeouts, zlog).Wrap(client.NewProviders(cfg, zlog))

	var renderQueue *service.RenderQueue
	if cfg.Compositor.Mode == "queue" {
		renderQueue = service.NewRenderQueue(redisClient, asynqClient, zlog)
		providers.Compositor = renderQueue
	}

	backend, closeBackend, err := snapshot.Open(ctx, cfg.Snapshots, redisClient, zlog)
	if err != nil {
		zlog.Fatal("Failed to open snapshot backend", zap.Error(err))
	}
	defer closeBackend()

	var registry session.MetadataSyncer
	if cfg.Registry.URL != "" {
		registry = client.NewRegistryClient(&cfg.Registry, zlog)
	} else {
		zlog.Info("Project registry not configured, metadata stays local")
	}

	sessions := session.NewManager(session.Deps{
		Config:       cfg,
		Snapshots:    snapshot.NewStore(backend, cfg.Snapshots, zlog),
		Providers:    providers,
		Orchestrator: orchestrator.New(zlog),
		Estimator:    service.NewCostEstimator(cfg.Pricing, service.NewTiktokenCounter("", zlog)),
		Registry:     registry,
		Logger:       zlog,
	})
	defer sessions.Close()

	var (
		followMu   sync.Mutex
		stopFollow func()
	)
	sessions.OnOpen(func(s *session.Session) {
		followMu.Lock()
		defer followMu.Unlock()
		if stopFollow != nil {
			stopFollow()
		}
		stopFollow = hub.Follow(s)
	})

	routes := handler.Routes{
		Studio:    handler.NewStudioHandler(sessions, validate, zlog),
		Hub:       hub,
		RateLimit: cfg.RateLimit,
		Health: func() fiber.Map {
			return fiber.Map{
				"redis":      redisUp,
				"snapshots":  cfg.Snapshots.Backend,
				"compositor": cfg.Compositor.Mode,
				"media":      providers.Media != nil,
				"registry":   registry != nil,
			}
		},
	}
	if redisUp {
		routes.Limiter = middleware.NewRateLimiter(redisClient, zlog)
	}
	if renderQueue != nil {
		routes.Render = handler.NewRenderHandler(renderQueue)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(middleware.RequestLogger(zlog))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	handler.Register(app, routes)

	if renderQueue != nil {
		go startWorkerServer(cfg, redisOpt, renderQueue, providers.Media, hub, zlog)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zlog.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zlog.Error("Server shutdown error", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Server.Port
	zlog.Info("Server starting", zap.String("addr", addr), zap.String("env", cfg.Server.Env))
	if err := app.Listen(addr); err != nil {
		zlog.Fatal("Server error", zap.Error(err))
	}
}

func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, queue *service.RenderQueue, media client.MediaStore, hub *ws.Hub, zlog *zap.Logger) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 2,
		Queues: map[string]int{
			"render": 1,
		},
		LogLevel: asynqLogLevel,
		Logger:   zlog.Named("asynq").Sugar(),
	})

	var compositor client.Compositor = client.MockCompositor{}
	if comp := client.NewCompositorClient(&cfg.Compositor, zlog); comp.IsConfigured() {
		compositor = comp
	} else {
		zlog.Info("Compositor service not configured, rendering with mock")
	}

	renderWorker := worker.NewRenderWorker(queue, compositor, media, hub, ws.JobTopic, zlog)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeRender, renderWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		zlog.Error("Asynq worker error", zap.Error(err))
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
