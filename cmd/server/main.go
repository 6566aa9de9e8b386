package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taranggg/lms-sub000/internal/config"
	"github.com/taranggg/lms-sub000/internal/database"
	"github.com/taranggg/lms-sub000/internal/handlers"
	"github.com/taranggg/lms-sub000/internal/middleware"
	"github.com/taranggg/lms-sub000/internal/repository"
	"github.com/taranggg/lms-sub000/internal/router"
	"github.com/taranggg/lms-sub000/internal/services"
	"github.com/taranggg/lms-sub000/internal/telemetry"
	"github.com/taranggg/lms-sub000/internal/websocket"
)

const serviceName = "lms-presence"

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	telemetry.SetupLogger(os.Stdout, serviceName, cfg.Env)
	slog.Info("🚀 Starting LMS presence & chat backend...")

	if err := cfg.Validate(); err != nil {
		fatal("✗ Invalid configuration", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		fatal("✗ Invalid presence timezone", err)
	}
	slog.Info("✓ Environment variables loaded", "env", cfg.Env, "timezone", loc.String())

	// ──── Step 2: Initialize Tracing ────
	shutdownTracer, err := telemetry.InitTracerProvider(serviceName, cfg.OtelEndpoint)
	if err != nil {
		fatal("✗ Tracer initialization failed", err)
	}

	// ──── Step 3: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		fatal("✗ PostgreSQL connection failed", err)
	}
	defer pool.Close()
	slog.Info("✓ PostgreSQL connected")

	if err := database.RunMigrations(pool); err != nil {
		fatal("✗ Database migration failed", err)
	}
	slog.Info("✓ Database migrations applied")

	// ──── Step 4: Initialize Redis Client ────
	rdb, err := database.NewRedisClient(cfg.RedisURL)
	if err != nil {
		fatal("✗ Redis connection failed", err)
	}
	defer rdb.Close()
	slog.Info("✓ Redis connected")

	// ──── Step 5: Connect Event Publisher ────
	publisher, err := services.NewEventPublisher(cfg.NatsURL)
	if err != nil {
		fatal("✗ NATS connection failed", err)
	}
	if cfg.NatsURL == "" {
		slog.Info("✓ Presence events disabled (NATS_URL not set)")
	} else {
		slog.Info("✓ NATS connected", "url", cfg.NatsURL)
	}

	// ──── Initialize Repositories ────
	sessionRepo := repository.NewSessionRepo(pool)
	messageRepo := repository.NewMessageRepo(pool)

	// ──── Initialize Services ────
	validate := services.NewValidator()
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	sessionManager := services.NewSessionManager(sessionRepo, publisher, loc)

	// ──── Step 6: Start WebSocket Hub ────
	wsHub := websocket.NewHub(jwtAuth, websocket.Options{
		PingInterval: cfg.WSPingInterval,
		WriteTimeout: cfg.WSWriteTimeout,
	})
	chatService := services.NewChatService(messageRepo, wsHub, validate)
	websocket.RegisterEventHandlers(wsHub, sessionManager, chatService, validate, cfg.HeartbeatInterval)
	slog.Info("✓ WebSocket hub started")

	// ──── Step 7: Initialize Media Storage ────
	storage, err := services.NewMediaStorage(context.Background(), cfg)
	if err != nil {
		fatal("✗ Media storage initialization failed", err)
	}
	mediaService := services.NewMediaService(storage, int64(cfg.MaxUploadMB)*1024*1024)
	uploadsDir := ""
	if cfg.StorageType == "local" {
		uploadsDir = cfg.StoragePath
	}
	slog.Info("✓ Media storage ready", "type", cfg.StorageType)

	// ──── Step 8: Start Session Reaper ────
	reaperLock := services.NewRedisLock(rdb, services.ReaperLockKey, cfg.ReaperInterval/2)
	reaper := services.NewSessionReaper(sessionManager, reaperLock, cfg.ReaperInterval)
	reaper.Start()
	slog.Info("✓ Session reaper started", "interval", cfg.ReaperInterval)

	// ──── Initialize Handlers ────
	sessionHandler := handlers.NewSessionHandler(sessionManager, loc)
	chatHandler := handlers.NewChatHandler(chatService)
	mediaHandler := handlers.NewMediaHandler(mediaService)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"postgres": pool,
		"redis":    handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}, wsHub)

	// ──── Step 9: Start HTTP Server ────
	r := router.New(
		jwtAuth,
		sessionHandler,
		chatHandler,
		mediaHandler,
		healthHandler,
		wsHub,
		uploadsDir,
		cfg.FrontendURL,
	)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     otelhttp.NewHandler(r, serviceName),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Graceful shutdown
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		slog.Info("Shutting down...")
		reaper.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("HTTP shutdown failed", "error", err)
		}
		wsHub.Close()
		publisher.Close()
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("Tracer shutdown failed", "error", err)
		}
	}()

	slog.Info(fmt.Sprintf("✓ Backend ready on http://localhost:%s", cfg.Port))
	slog.Info(fmt.Sprintf("  API: http://localhost:%s/api/v1", cfg.Port))
	slog.Info(fmt.Sprintf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port))

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		fatal("Server error", err)
	}
	<-idle
}
