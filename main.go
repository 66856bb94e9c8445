package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"fantasy-match-engine/config"
	"fantasy-match-engine/handlers"
	"fantasy-match-engine/services"
	"fantasy-match-engine/utils"
	"fantasy-match-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet.
		utils.NewLogger("info").Fatal("invalid configuration", zap.Error(err))
	}

	logger := utils.NewLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}

	store := services.NewStore(db)
	store.ClaimTTL = cfg.ClaimTTL
	if err := store.AutoMigrate(); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	// A missing or bad engine address only disables resolve; the other phases still run.
	var simulator services.Simulator
	if client, err := services.NewSimulationClient(cfg.SimulationEngineURL, cfg.GameServiceToken); err != nil {
		logger.Error("⚠️ simulation engine not configured, resolve will fail", zap.Error(err))
	} else {
		simulator = client
	}

	orchestrator := services.NewMatchOrchestrator(store, simulator, logger, services.OrchestratorConfig{
		PageSize:           cfg.PageSize,
		Concurrency:        cfg.Concurrency,
		ChunkSize:          cfg.ChunkSize,
		CurrencyMultiplier: cfg.CurrencyMultiplier,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r2cfg := utils.R2Config{
		AccountID:       cfg.R2AccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		AccessKeySecret: cfg.R2AccessKeySecret,
		Bucket:          cfg.R2ArchiveBucket,
	}
	if r2cfg.Enabled() {
		archiver, err := utils.NewR2Archiver(ctx, r2cfg)
		if err != nil {
			logger.Fatal("failed to initialize R2 client", zap.Error(err))
		}
		orchestrator.Archiver = archiver
		logger.Info("history archival enabled", zap.String("bucket", cfg.R2ArchiveBucket))
	}

	if cfg.RosterServiceURL != "" {
		workers.NewRosterSyncWorker(db, logger, cfg.RosterServiceURL, cfg.GameServiceToken, cfg.RosterSyncEvery).Start(ctx)
	} else {
		logger.Warn("⚠️ ROSTER_SERVICE_URL not set, rosters are not synced")
	}

	sched, err := orchestrator.StartPhaseScheduler(ctx, services.PhaseSchedule{
		CreateEvery:    cfg.CreateEvery,
		ResolveEvery:   cfg.ResolveEvery,
		ReconcileEvery: cfg.ReconcileEvery,
	})
	if err != nil {
		logger.Fatal("failed to start phase scheduler", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	origins := strings.Split(cfg.AllowedOrigins, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(origins, ","),
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID, X-User-ID, X-User-Roles",
		MaxAge:       86400,
	}))

	handlers.SetupPhaseRoutes(app, orchestrator, handlers.RouteOptions{
		EnableAdmin:  !cfg.IsProduction(),
		GatewayToken: cfg.GameServiceToken,
		Logger:       logger,
	})

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server error", zap.Error(err))
		}
	}()

	logger.Info("✅ match engine running",
		zap.String("addr", cfg.ListenAddr),
		zap.String("env", cfg.AppEnv),
		zap.Bool("admin_triggers", !cfg.IsProduction()),
	)

	<-ctx.Done()
	logger.Info("shutting down")

	if err := sched.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown", zap.Error(err))
	}
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}
}
