package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/saeid-a/ConsultBack/internal/clock"
	"github.com/saeid-a/ConsultBack/internal/config"
	"github.com/saeid-a/ConsultBack/internal/database"
	"github.com/saeid-a/ConsultBack/internal/lock"
	"github.com/saeid-a/ConsultBack/internal/logger"
	"github.com/saeid-a/ConsultBack/internal/metrics"
	"github.com/saeid-a/ConsultBack/internal/notify"
	"github.com/saeid-a/ConsultBack/internal/presence"
	"github.com/saeid-a/ConsultBack/internal/repository"
	"github.com/saeid-a/ConsultBack/internal/repository/memory"
	"github.com/saeid-a/ConsultBack/internal/routes"
	"github.com/saeid-a/ConsultBack/internal/services"
	relayws "github.com/saeid-a/ConsultBack/internal/websocket"
	"go.uber.org/zap"
)

const (
	lockTTL         = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog, err := logger.New(logger.Config{
		ServiceName: "consultback",
		Environment: cfg.AppEnv,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = appLog.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Storage
	store, closeStore, err := openStore(ctx, cfg, appLog)
	if err != nil {
		appLog.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(registry)
		gatherer = registry
	}

	// 3. Coordination: in-process unless redis is configured
	var (
		locker    lock.Locker        = lock.NewKeyedMutex()
		directory presence.Directory = presence.NewMemoryDirectory()
		fanout    relayws.Fanout     = relayws.NewLocalFanout(0)
	)
	if cfg.RedisEnabled() {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			appLog.Fatal("invalid REDIS_URL", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			appLog.Fatal("failed to reach redis", zap.Error(err))
		}
		locker = lock.NewRedisLocker(rdb, lockTTL, appLog)
		directory = presence.NewRedisDirectory(rdb, cfg.PresenceTTL)
		fanout = relayws.NewRedisFanout(rdb, relayws.DefaultFanoutChannel, appLog)
		appLog.Info("redis coordination enabled")
	}

	// 4. Services
	dispatcher := notify.NewDispatcher(cfg.NotifyBuffer, store.Notifications(), m, appLog)
	dispatcher.Start(cfg.NotifyWorkers)
	defer dispatcher.Shutdown()

	consultations := services.NewConsultationService(
		store,
		locker,
		clock.Real{},
		services.NewSettler(cfg.Currency, m, appLog),
		nil,
		dispatcher,
		m,
		appLog,
	)
	hub := relayws.NewHub(services.NewRelayService(store, consultations), fanout, directory, m, appLog)
	consultations.SetEventPublisher(hub)
	go hub.Run(ctx)

	// 5. Setup Fiber
	app := fiber.New(fiber.Config{DisableStartupMessage: cfg.AppEnv == "production"})

	app.Use(cors.New())
	app.Use(requestid.New())
	app.Use(logger.FiberMiddleware(appLog))
	app.Use(recover.New())

	routes.RegisterRoutes(app, cfg, routes.Dependencies{
		Consultations: consultations,
		Wallets:       services.NewWalletService(store, cfg.Currency),
		Hub:           hub,
		Gatherer:      gatherer,
	})

	go func() {
		<-ctx.Done()
		appLog.Info("shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			appLog.Error("server shutdown", zap.Error(err))
		}
	}()

	// 6. Start Server
	appLog.Info("server starting", zap.String("port", cfg.Port), zap.String("storage", cfg.StorageDriver))
	if err := app.Listen(":" + cfg.Port); err != nil {
		appLog.Error("server stopped", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, func(), error) {
	switch cfg.StorageDriver {
	case config.StorageDriverMemory:
		store := memory.NewStore(clock.Real{})
		if cfg.SeedFile != "" {
			f, err := os.Open(cfg.SeedFile)
			if err != nil {
				return nil, nil, fmt.Errorf("open seed file: %w", err)
			}
			defer f.Close()
			if err := store.LoadSeed(f); err != nil {
				return nil, nil, fmt.Errorf("load seed file: %w", err)
			}
		}
		log.Warn("using in-memory storage; data is lost on restart")
		return store, func() {}, nil
	default:
		pool, err := database.ConnectDB(ctx, cfg.DBUrl, log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresStore(pool), pool.Close, nil
	}
}
