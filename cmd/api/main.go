package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/boletapp/scan-engine/internal/analysis"
	"github.com/boletapp/scan-engine/internal/config"
	"github.com/boletapp/scan-engine/internal/handler"
	"github.com/boletapp/scan-engine/internal/infra/postgresql"
	"github.com/boletapp/scan-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/boletapp/scan-engine/internal/infra/redis"
	"github.com/boletapp/scan-engine/internal/observability"
	"github.com/boletapp/scan-engine/internal/repository"
	"github.com/boletapp/scan-engine/internal/service"
	"github.com/boletapp/scan-engine/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Local development convenience; in deployment the env is injected.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	ledger, err := infraredis.NewRedisCreditLedger(rdb)
	if err != nil {
		logger.Fatal("credit ledger initialization failed", zap.Error(err))
	}

	analyzeTimeout := time.Duration(cfg.AnalyzeTimeoutMs) * time.Millisecond
	analyzer, err := analysis.NewVisionAnalyzer(cfg.VisionAPIURL, cfg.VisionAPIKey, analyzeTimeout)
	if err != nil {
		logger.Fatal("vision analyzer initialization failed", zap.Error(err))
	}

	processor, err := service.NewProcessor(analyzer, analyzeTimeout, logger)
	if err != nil {
		logger.Fatal("processor initialization failed", zap.Error(err))
	}

	transactions := repository.NewGormTransactionRepo(db)

	reconciler, err := service.NewReconciler(transactions, ledger, logger)
	if err != nil {
		logger.Fatal("reconciler initialization failed", zap.Error(err))
	}

	scans, err := service.NewScanService(processor, reconciler, ledger, cfg.MaxBatchSize, logger)
	if err != nil {
		logger.Fatal("scan service initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	scans.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
		BodyLimit:    64 * 1024 * 1024,
	})
	app.Use(metrics.HTTPMiddleware())
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterScanRoutes(app, scans, transactions, ledger); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("scan-engine api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", zap.Error(err))
	}
}
