package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/duragraph/duragraph/cmd/server/config"
	"github.com/duragraph/duragraph/cmd/server/sweeper"
	"github.com/duragraph/duragraph/internal/application/engine"
	"github.com/duragraph/duragraph/internal/application/service"
	"github.com/duragraph/duragraph/internal/infrastructure/cache"
	"github.com/duragraph/duragraph/internal/infrastructure/entitymover"
	"github.com/duragraph/duragraph/internal/infrastructure/http/handlers"
	"github.com/duragraph/duragraph/internal/infrastructure/http/middleware"
	"github.com/duragraph/duragraph/internal/infrastructure/messaging"
	"github.com/duragraph/duragraph/internal/infrastructure/messaging/nats"
	"github.com/duragraph/duragraph/internal/infrastructure/monitoring"
	"github.com/duragraph/duragraph/internal/infrastructure/persistence/postgres"
	"github.com/duragraph/duragraph/internal/infrastructure/store"
	storepg "github.com/duragraph/duragraph/internal/infrastructure/store/postgres"
	"github.com/duragraph/duragraph/internal/infrastructure/tracing"
	"github.com/duragraph/duragraph/internal/infrastructure/worker"
	"github.com/duragraph/duragraph/internal/pkg/eventbus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	fmt.Println("🧵 Stitch Server")
	fmt.Printf("📍 Server: %s\n", cfg.ServerAddr())
	fmt.Printf("🗄️  Database: %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	fmt.Printf("📨 NATS: %s\n", cfg.NATS.URL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer postgres.Close(pool)
	fmt.Println("✅ Database connected")

	pgStore := storepg.New(pool)

	// Compiled execution graphs are immutable (spec.md §4.1), so Redis in
	// front of GetFlowVersion is always safe; wiring it is opt-in via
	// REDIS_ADDR since a dev/test deployment may not run Redis at all.
	var runStore = newRunStore(ctx, pgStore)

	tracerProvider, err := tracing.NewProvider(ctx, tracing.LoadConfig())
	if err != nil {
		log.Printf("stitch: tracing disabled, failed to start OTLP exporter: %v", err)
	} else if tracerProvider != nil {
		fmt.Println("✅ OpenTelemetry tracing enabled")
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracerProvider.Shutdown(shutdownCtx)
		}()
	}

	eventBus := eventbus.New()
	metrics := monitoring.NewMetrics("stitch")

	registry := worker.NewRegistry()
	dispatcher := worker.NewDispatcher()
	mover := entitymover.NewNoopMover()

	// The engine is what every in-process Executor eventually calls back
	// into; eng is assigned after registration below, but the closure
	// passed to NewEchoExecutor only runs after Start, by which point eng is
	// set — the forward reference is safe.
	var eng *engine.Engine
	callback := func(runID, nodeID string, succeeded bool, output interface{}, errMsg string) error {
		return eng.Callback(context.Background(), runID, nodeID, succeeded, output, errMsg)
	}
	for _, workerType := range cfg.Stitch.WorkerTypes {
		switch workerType {
		case "echo":
			registry.Register("echo", worker.NewEchoExecutor(callback))
		default:
			log.Printf("stitch: unknown built-in workerType %q in WORKER_TYPES, skipping", workerType)
		}
	}

	eng = engine.New(runStore, registry, dispatcher, mover, eventBus, metrics, cfg.Stitch.BaseURL).WithTracer(tracerProvider)
	runService := service.New(runStore, pgStore, eng, registry.Has)
	stitchHandler := handlers.NewStitchHandler(runService)

	// NATS publisher + outbox relay, for durable run/node event fan-out.
	logger := watermill.NewStdLogger(false, false)
	publisher, err := nats.NewPublisher(cfg.NATS.URL, logger)
	if err != nil {
		log.Fatalf("failed to create NATS publisher: %v", err)
	}
	defer publisher.Close()
	fmt.Println("✅ NATS publisher connected")

	outbox := postgres.NewOutbox(pool)
	messaging.SubscribeOutbox(eventBus, outbox)

	outboxRelay := messaging.NewOutboxRelay(outbox, publisher, 1*time.Second, 10)
	go func() {
		if err := outboxRelay.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("outbox relay error: %v", err)
		}
	}()
	fmt.Println("✅ Outbox relay started")

	cleanupWorker := messaging.NewCleanupWorker(outbox, 1*time.Hour, 7)
	go func() {
		if err := cleanupWorker.Start(ctx); err != nil && ctx.Err() == nil {
			log.Printf("outbox cleanup worker error: %v", err)
		}
	}()

	sweep := sweeper.New(runStore, eng, time.Duration(cfg.Stitch.UXTimeoutHours)*time.Hour)
	sweep.Start(ctx, time.Duration(cfg.Stitch.SweepIntervalMinutes)*time.Minute)
	fmt.Println("✅ UX-timeout sweeper started")

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.ErrorHandler()

	e.Use(otelecho.Middleware("stitch"))
	e.Use(middleware.Logger())
	e.Use(middleware.Metrics(metrics))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "default-secret-change-in-production"
	}
	authEnabled := os.Getenv("AUTH_ENABLED") == "true"
	if authEnabled {
		e.Use(middleware.RequireAuth(jwtSecret))
		fmt.Println("✅ Authentication required")
	} else {
		e.Use(middleware.OptionalAuth(jwtSecret))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "healthy"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api", middleware.SimpleRateLimit(float64(cfg.Stitch.APIRateLimit)/60, cfg.Stitch.APIRateLimit))
	api.POST("/flows/:id/run", stitchHandler.StartRun)
	api.GET("/runs/:id", stitchHandler.GetRun)

	stitch := e.Group("/api/stitch", middleware.SimpleRateLimit(float64(cfg.Stitch.WebhookRateLimit)/60, cfg.Stitch.WebhookRateLimit))
	stitch.POST("/callback/:runId/:nodeId", stitchHandler.Callback)
	stitch.POST("/complete/:runId/:nodeId", stitchHandler.Complete)

	go func() {
		fmt.Printf("🌐 Server listening on %s\n", cfg.ServerAddr())
		if err := e.Start(cfg.ServerAddr()); err != nil {
			log.Printf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	fmt.Println("\n🛑 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	outboxRelay.Stop()
	cleanupWorker.Stop()
	fmt.Println("👋 Shutdown complete")
}

// newRunStore wraps pgStore in cache.CachedStore when REDIS_ADDR is set,
// otherwise returns it unwrapped. Either way the result satisfies
// store.Store, which is all engine.New and service.New need.
func newRunStore(ctx context.Context, inner *storepg.Store) store.Store {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return inner
	}
	redisCache, err := cache.NewRedisCache(addr, os.Getenv("REDIS_PASSWORD"), 0)
	if err != nil {
		log.Printf("stitch: REDIS_ADDR set but Redis unreachable, continuing without cache: %v", err)
		return inner
	}
	fmt.Println("✅ Redis flow-version cache connected")
	return cache.NewCachedStore(inner, redisCache, time.Hour)
}
