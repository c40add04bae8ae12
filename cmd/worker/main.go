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

	"github.com/aamirsofi/fee-module-sub001/internal/accounting"
	"github.com/aamirsofi/fee-module-sub001/internal/app"
	"github.com/aamirsofi/fee-module-sub001/internal/catalog"
	"github.com/aamirsofi/fee-module-sub001/internal/fees"
	"github.com/aamirsofi/fee-module-sub001/internal/integration"
	jobmetrics "github.com/aamirsofi/fee-module-sub001/internal/jobs"
	"github.com/aamirsofi/fee-module-sub001/internal/observability"
	"github.com/aamirsofi/fee-module-sub001/internal/platform/cache"
	"github.com/aamirsofi/fee-module-sub001/internal/platform/db"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
	"github.com/aamirsofi/fee-module-sub001/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
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
	workerMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	auditLogger := shared.NewAuditLogger(pool)
	catalogRepo := catalog.NewRepository(pool)

	accountingService := accounting.NewService(accounting.NewRepository(pool), auditLogger)
	hooks := integration.NewHooks(accountingService, logger)
	relay := integration.NewRelay(integration.NewOutboxRepository(pool), hooks, workerMetrics, integration.RelayConfig{
		MaxAttempts: cfg.OutboxMaxAttempts,
	}, logger)

	feesService := fees.NewService(fees.NewRepository(pool), catalogRepo, shared.NewLocker(redisClient), metrics, auditLogger, fees.Config{
		LockTTL: cfg.GenerationLockTTL,
	}, logger)

	relayJob := jobs.NewOutboxRelayJob(relay, cfg.OutboxBatchSize, logger, workerMetrics)
	generationJob := jobs.NewMonthlyGenerationJob(feesService, logger, workerMetrics)

	relayTask, err := jobs.NewOutboxRelayTask(cfg.OutboxBatchSize)
	if err != nil {
		logger.Error("build relay task", slog.Any("error", err))
		os.Exit(1)
	}
	generationTask, err := jobs.NewMonthlyGenerationTask("")
	if err != nil {
		logger.Error("build generation task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts.QueueOpt(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerOutboxRelay, Handler: relayJob.Handle},
			{Type: jobs.TaskFeesGenerateMonthly, Handler: generationJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.OutboxRelayCron, Task: relayTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(time.Minute)}},
			{Spec: cfg.AutoGenerationCron, Task: generationTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadTimeout: 5 * time.Second}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
