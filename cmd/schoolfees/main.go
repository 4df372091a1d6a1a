package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/schoolfees/schoolfees/internal/app"
	"github.com/schoolfees/schoolfees/internal/billing"
	"github.com/schoolfees/schoolfees/internal/family"
	"github.com/schoolfees/schoolfees/internal/feeconfig"
	"github.com/schoolfees/schoolfees/internal/guardians"
	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/observability"
	"github.com/schoolfees/schoolfees/internal/payments"
	"github.com/schoolfees/schoolfees/internal/platform/cache"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/jobs"
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
	sessionManager := shared.NewSessionManager(redisClient, cfg.SessionCookie, cfg.SessionTTL, cfg.IsProduction())
	unsubscribe := sessionManager.Subscribe(func(ctx context.Context, ev shared.SessionEvent) {
		logger.InfoContext(ctx, "session change", slog.String("kind", string(ev.Kind)), slog.String("user", ev.UserID))
	})
	defer unsubscribe()

	engine := ledger.NewEngine(func() time.Time { return time.Now().UTC() })
	locker := app.NewLocker(cfg, redisClient)

	metricsCache := billing.NewCache(redisClient, cfg.MetricsCacheTTL)
	billingService := billing.NewService(backend.Store, engine, metricsCache, backend.Audit, logger)
	if err := billingService.SeedPlans(ctx); err != nil {
		logger.Error("seed subscription plans", slog.Any("error", err))
		os.Exit(1)
	}
	go func() {
		err := metricsCache.ListenForInvalidation(ctx, func(version int64) {
			logger.Debug("metrics cache bumped", slog.Int64("version", version))
		})
		if err != nil && ctx.Err() == nil {
			logger.Warn("metrics cache listener stopped", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		_ = inspector.Close()
	}()

	gateways := app.Gateways(cfg)
	if len(gateways) == 0 {
		logger.Warn("no payment gateway configured, only manual payments are accepted")
	}
	processor := payments.NewProcessor(backend.Store, engine, gateways, app.ProcessorConfig(cfg), payments.Deps{
		Locker:      locker,
		Jobs:        jobClient,
		Cache:       billingService,
		Metrics:     metrics,
		Idempotency: backend.Idempotency,
		Audit:       backend.Audit,
		Logger:      logger,
	})

	ledgerService := ledger.NewService(backend.Store, engine, locker, backend.Audit, logger)
	feeService := feeconfig.NewService(backend.Store, engine, backend.Audit, logger)
	familyService := family.NewService(backend.Store, engine, school.Money(cfg.FamilyDiscountThreshold), backend.Audit, logger)
	guardianService := guardians.NewService(backend.Store, backend.Audit, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		LedgerHandler:    ledger.NewHandler(logger, ledgerService),
		FeeConfigHandler: feeconfig.NewHandler(logger, feeService),
		PaymentsHandler:  payments.NewHandler(logger, processor),
		FamilyHandler:    family.NewHandler(logger, familyService),
		GuardiansHandler: guardians.NewHandler(logger, guardianService),
		BillingHandler:   billing.NewHandler(logger, billingService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr), slog.String("data_source", cfg.DataSource))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
