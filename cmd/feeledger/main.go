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
	"github.com/aamirsofi/fee-module-sub001/internal/forecast"
	"github.com/aamirsofi/fee-module-sub001/internal/integration"
	"github.com/aamirsofi/fee-module-sub001/internal/invoices"
	jobmetrics "github.com/aamirsofi/fee-module-sub001/internal/jobs"
	"github.com/aamirsofi/fee-module-sub001/internal/observability"
	"github.com/aamirsofi/fee-module-sub001/internal/payments"
	"github.com/aamirsofi/fee-module-sub001/internal/platform/cache"
	"github.com/aamirsofi/fee-module-sub001/internal/platform/db"
	"github.com/aamirsofi/fee-module-sub001/internal/shared"
	"github.com/aamirsofi/fee-module-sub001/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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
	relayMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	locker := shared.NewLocker(redisClient)
	catalogRepo := catalog.NewRepository(dbpool)

	accountingRepo := accounting.NewRepository(dbpool)
	accountingService := accounting.NewService(accountingRepo, auditLogger)
	integrationHooks := integration.NewHooks(accountingService, logger)
	outboxRepo := integration.NewOutboxRepository(dbpool)
	relay := integration.NewRelay(outboxRepo, integrationHooks, relayMetrics, integration.RelayConfig{
		MaxAttempts: cfg.OutboxMaxAttempts,
	}, logger)

	invoicesRepo := invoices.NewRepository(dbpool)
	invoicesService := invoices.NewService(invoicesRepo, catalogRepo, integrationHooks, auditLogger, invoices.Config{
		NumberPrefix: cfg.InvoicePrefix,
	}, logger)

	paymentsRepo := payments.NewRepository(dbpool)
	paymentsService := payments.NewService(paymentsRepo, invoicesRepo, catalogRepo, relay, metrics, auditLogger, payments.Config{
		ReceiptPrefix: cfg.ReceiptPrefix,
		Currency:      cfg.Currency,
		Locale:        cfg.Locale,
	}, logger)

	feesRepo := fees.NewRepository(dbpool)
	feesService := fees.NewService(feesRepo, catalogRepo, locker, metrics, auditLogger, fees.Config{
		LockTTL: cfg.GenerationLockTTL,
	}, logger)

	forecastService := forecast.NewService(forecast.NewRepository(dbpool), catalogRepo, logger)

	queueClient := asynq.NewClient(redisOpts.QueueOpt())
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts.QueueOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		FeesHandler:       fees.NewHandler(logger, feesService),
		InvoicesHandler:   invoices.NewHandler(logger, invoicesService),
		PaymentsHandler:   payments.NewHandler(logger, paymentsService, idempotencyStore),
		ForecastHandler:   forecast.NewHandler(logger, forecastService),
		AccountingHandler: accounting.NewHandler(logger, accountingService),
		JobHandler:        jobs.NewHandler(queueClient, inspector, cfg.OutboxBatchSize, logger),
		Metrics:           metrics,
		Ready: func(ctx context.Context) error {
			if err := dbpool.Ping(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx).Err()
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("fee ledger listening", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
