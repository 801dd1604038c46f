package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/consolidation/internal/app"
	"github.com/odyssey-erp/consolidation/internal/consol"
	"github.com/odyssey-erp/consolidation/internal/consol/ic"
	jobmetrics "github.com/odyssey-erp/consolidation/internal/jobs"
	"github.com/odyssey-erp/consolidation/internal/platform/cache"
	"github.com/odyssey-erp/consolidation/internal/platform/db"
	"github.com/odyssey-erp/consolidation/internal/shared"
	"github.com/odyssey-erp/consolidation/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.DBOptions("worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	auditLogger := shared.NewAuditLogger(pool)
	consolRepo := consol.NewRepository(pool)
	consolService := consol.NewService(consolRepo, consol.ServiceConfig{
		Cache:       consol.NewCache(redisClient, cfg.ConsolCacheTTL),
		Audit:       auditLogger,
		Idempotency: shared.NewIdempotencyStore(pool),
		Locker:      consol.RedisLocker(redisClient),
		Metrics:     consol.NewMetrics(nil),
		Logger:      logger,
		Options:     cfg.ConsolOptions(),
	})
	eliminator := ic.NewEngine(ic.NewRepository(pool), auditLogger, logger, ic.EngineConfig{Actor: shared.SystemActor})

	metrics := jobmetrics.NewMetrics(nil)
	regenerateJob := jobs.NewRegenerateJob(consolService, consolRepo, eliminator, logger, metrics)
	translateJob := jobs.NewTranslateJob(consolService, consolRepo, logger, metrics)

	nightly, err := jobs.NewRegenerateTask(jobs.ConsolPayload{EliminateIC: true})
	if err != nil {
		logger.Error("build regenerate task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskConsolRegenerate, Handler: regenerateJob.Handle},
			{Type: jobs.TaskConsolTranslate, Handler: translateJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ConsolCron, Task: nightly, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
