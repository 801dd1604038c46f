package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/consolidation/internal/app"
	"github.com/odyssey-erp/consolidation/internal/consol"
	consolhttp "github.com/odyssey-erp/consolidation/internal/consol/http"
	"github.com/odyssey-erp/consolidation/internal/observability"
	"github.com/odyssey-erp/consolidation/internal/platform/cache"
	"github.com/odyssey-erp/consolidation/internal/platform/db"
	"github.com/odyssey-erp/consolidation/internal/shared"
	"github.com/odyssey-erp/consolidation/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions("api"))
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	if err := consolhttp.SetupCacheMetrics(metrics.Registerer()); err != nil {
		logger.Error("register cache metrics", slog.Any("error", err))
		os.Exit(1)
	}

	consolCache := consol.NewCache(redisClient, cfg.ConsolCacheTTL)
	consolService := consol.NewService(consol.NewRepository(dbpool), consol.ServiceConfig{
		Cache:       consolCache,
		Audit:       shared.NewAuditLogger(dbpool),
		Idempotency: shared.NewIdempotencyStore(dbpool),
		Locker:      consol.RedisLocker(redisClient),
		Metrics:     consol.NewMetrics(metrics.Registerer()),
		Logger:      logger,
		Options:     cfg.ConsolOptions(),
	})
	consolHandler := consolhttp.NewHandler(logger, consolService, cfg.ConsolMutateLimit)

	err = consolCache.Subscribe(ctx, func(payload string) {
		logger.Debug("consol cache bumped", slog.String("scope", payload))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("consol cache subscribe", slog.Any("error", err))
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		ConsolHandler: consolHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
