package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/dcops/internal/ap"
	"github.com/odyssey-erp/dcops/internal/app"
	jobmetrics "github.com/odyssey-erp/dcops/internal/jobs"
	"github.com/odyssey-erp/dcops/internal/platform/cache"
	"github.com/odyssey-erp/dcops/internal/platform/db"
	"github.com/odyssey-erp/dcops/internal/procurement"
	"github.com/odyssey-erp/dcops/internal/shared"
	"github.com/odyssey-erp/dcops/jobs"
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

	var locker shared.Locker
	if cfg.OrderLockTTL > 0 {
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
		locker = shared.NewRedisLocker(redisClient, cfg.OrderLockTTL)
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	procurementService := procurement.NewService(procurement.NewRepository(pool), auditLogger, locker, logger)
	apService := ap.NewService(ap.NewRepository(pool), locker, logger)
	apService.SetAudit(auditLogger)
	apService.SetNotifier(jobClient)

	reindexJob := jobs.NewReceiptReindexJob(procurementService, logger, metrics)
	recalcJob := jobs.NewPaymentRecalcJob(apService, logger, metrics)
	notifyJob := jobs.NewCreditNoteNotifyJob(jobs.LogSink{Logger: logger}, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, cfg.IdempotencyRetention, logger, metrics)

	reindexTask, err := jobs.NewReceiptReindexTask(0)
	if err != nil {
		logger.Error("build reindex task", slog.Any("error", err))
		os.Exit(1)
	}
	recalcTask, err := jobs.NewPaymentRecalcTask(0)
	if err != nil {
		logger.Error("build recalc task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask := asynq.NewTask(jobs.TaskIdempotencyCleanup, nil, asynq.Queue(jobs.QueueDefault))

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReceiptReindex, Handler: reindexJob.Handle},
			{Type: jobs.TaskPaymentRecalc, Handler: recalcJob.Handle},
			{Type: jobs.TaskCreditNoteIssued, Handler: notifyJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "@every " + cfg.ReindexInterval.String(), Task: reindexTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "@every " + cfg.OverdueInterval.String(), Task: recalcTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
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
