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

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/consolbatch/internal/app"
	"github.com/odyssey-erp/consolbatch/internal/consol"
	"github.com/odyssey-erp/consolbatch/internal/fx"
	"github.com/odyssey-erp/consolbatch/internal/hierarchy"
	jobmetrics "github.com/odyssey-erp/consolbatch/internal/jobs"
	"github.com/odyssey-erp/consolbatch/internal/ledger"
	"github.com/odyssey-erp/consolbatch/internal/observability"
	"github.com/odyssey-erp/consolbatch/internal/platform/cache"
	"github.com/odyssey-erp/consolbatch/internal/platform/db"
	"github.com/odyssey-erp/consolbatch/internal/store"
	"github.com/odyssey-erp/consolbatch/jobs"
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

	var consolStore store.Store = store.NewRedis(redisClient, cfg.StoreTTL)
	if cfg.Store == "memory" {
		consolStore = store.NewMemory()
	}

	metrics := observability.NewMetrics()
	settings, err := consol.SettingsFromConfig(cfg)
	if err != nil {
		logger.Error("consolidation settings", slog.Any("error", err))
		os.Exit(1)
	}
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	service := consol.NewService(consol.Dependencies{
		Hierarchy: hierarchy.NewRepository(pool),
		Balances:  ledger.NewRepository(pool),
		Quotes:    fx.NewRepository(pool),
		Store:     consolStore,
		Metrics:   jobMetrics,
		Logger:    logger,
	}, settings)

	batchJob := jobs.NewConsolidateBatchJob(service, redislock.New(redisClient), cfg.LockTTL, logger, jobMetrics)

	var cron []jobs.CronRegistration
	if cfg.Schedule != "" {
		task, err := jobs.NewConsolidateBatchTask(jobs.ConsolidateBatchPayload{
			Scope:   cfg.ScheduleScope,
			Periods: cfg.SchedulePeriods,
		})
		if err != nil {
			logger.Error("build scheduled batch", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.Schedule, Task: task})
	}

	queueOpt := cache.QueueOpt(cfg.RedisAddr)
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   queueOpt,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskConsolidateBatch, Handler: batchJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(queueOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	client, err := jobs.NewClient(queueOpt)
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, client, logger)

	server := &http.Server{
		Addr: cfg.MetricsAddr,
		Handler: app.NewRouter(app.RouterParams{
			Logger:  logger,
			Config:  cfg,
			Metrics: metrics,
			Mount:   jobHandler.MountRoutes,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("starting ops server", slog.String("addr", cfg.MetricsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server", slog.Any("error", err))
			stop()
		}
	}()

	logger.Info("worker started",
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.String("schedule", cfg.Schedule),
		slog.String("store", cfg.Store))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
