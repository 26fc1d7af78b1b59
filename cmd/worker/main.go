package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/detailops/detailops/internal/ap"
	"github.com/detailops/detailops/internal/app"
	"github.com/detailops/detailops/internal/ar"
	"github.com/detailops/detailops/internal/inventory"
	jobmetrics "github.com/detailops/detailops/internal/jobs"
	"github.com/detailops/detailops/internal/numbering"
	"github.com/detailops/detailops/internal/platform/cache"
	"github.com/detailops/detailops/internal/platform/db"
	"github.com/detailops/detailops/internal/shared"
	"github.com/detailops/detailops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, aging cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	auditLogger := shared.NewAuditLogger(pool)
	numberingService := numbering.NewService(numbering.NewRepository(pool))

	arService := ar.NewService(ar.NewRepository(pool), numberingService, auditLogger)
	if redisClient != nil {
		arService.WithCache(redisClient)
	}
	apService := ap.NewService(ap.NewRepository(pool), auditLogger)
	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger)

	metrics := jobmetrics.NewMetrics(nil)
	overdueJob := jobs.NewOverdueSweepJob(arService, apService, pool, logger, metrics)
	lowStockJob := jobs.NewLowStockScanJob(inventoryService, pool, logger, metrics)

	overdueTask, err := jobs.NewOverdueSweepTask(time.Now().UTC())
	if err != nil {
		logger.Error("build overdue sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	lowStockTask, err := jobs.NewLowStockScanTask(time.Now().UTC())
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskOverdueSweep, Handler: overdueJob.Handle},
			{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 1 * * *", Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
