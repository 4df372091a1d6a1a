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
	"golang.org/x/sync/errgroup"

	"github.com/schoolfees/schoolfees/internal/app"
	"github.com/schoolfees/schoolfees/internal/billing"
	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/observability"
	"github.com/schoolfees/schoolfees/internal/payments"
	"github.com/schoolfees/schoolfees/internal/platform/cache"
	"github.com/schoolfees/schoolfees/jobs"
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

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

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

	backend, err := app.OpenBackend(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("open store", slog.String("data_source", cfg.DataSource), slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	metrics := observability.NewMetrics()
	jobMetrics := metrics.Jobs()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	engine := ledger.NewEngine(func() time.Time { return time.Now().UTC() })
	locker := app.NewLocker(cfg, redisClient)
	billingService := billing.NewService(backend.Store, engine, billing.NewCache(redisClient, cfg.MetricsCacheTTL), backend.Audit, logger)
	ledgerService := ledger.NewService(backend.Store, engine, locker, backend.Audit, logger)
	processor := payments.NewProcessor(backend.Store, engine, app.Gateways(cfg), app.ProcessorConfig(cfg), payments.Deps{
		Locker:      locker,
		Jobs:        jobClient,
		Cache:       billingService,
		Metrics:     metrics,
		Idempotency: backend.Idempotency,
		Audit:       backend.Audit,
		Logger:      logger,
	})

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskPaymentReverify, Handler: jobs.NewReverifyJob(processor, logger, jobMetrics).Handle},
		{Type: jobs.TaskPaymentReceipt, Handler: jobs.NewReceiptJob(processor, jobs.LogReceiptSender{Logger: logger}, logger, jobMetrics).Handle},
		{Type: jobs.TaskLateFeeSweep, Handler: jobs.NewLateFeeSweepJob(billingService, ledgerService, logger, jobMetrics).Handle},
		{Type: jobs.TaskSubscriptionRenewal, Handler: jobs.NewRenewalJob(billingService, logger, jobMetrics).Handle},
	}

	sweepTask, err := jobs.NewLateFeeSweepTask("")
	if err != nil {
		logger.Error("build late fee sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	renewalTask, err := jobs.NewSubscriptionRenewalTask()
	if err != nil {
		logger.Error("build renewal task", slog.Any("error", err))
		os.Exit(1)
	}
	cron := []jobs.CronRegistration{
		{Spec: "5 0 * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		{Spec: "30 0 * * *", Task: renewalTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}
	if backend.Keys != nil {
		handlers = append(handlers, jobs.TaskHandler{
			Type:    jobs.TaskIdempotencyCleanup,
			Handler: jobs.NewIdempotencyCleanupJob(backend.Keys, logger, jobMetrics).Handle,
		})
		cleanupTask, err := jobs.NewIdempotencyCleanupTask(int(cfg.IdempotencyRetention / time.Hour))
		if err != nil {
			logger.Error("build cleanup task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers:    handlers,
		Cron:        cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
