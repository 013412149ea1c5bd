package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/comercio-backoffice/internal/cron"
	"github.com/angelmondragon/comercio-backoffice/internal/plans"
	"github.com/angelmondragon/comercio-backoffice/internal/subscriptions"
	"github.com/angelmondragon/comercio-backoffice/internal/tenants"
	"github.com/angelmondragon/comercio-backoffice/pkg/config"
	"github.com/angelmondragon/comercio-backoffice/pkg/db"
	"github.com/angelmondragon/comercio-backoffice/pkg/logger"
	"github.com/angelmondragon/comercio-backoffice/pkg/metrics"
	"github.com/angelmondragon/comercio-backoffice/pkg/migrate"
	"github.com/angelmondragon/comercio-backoffice/pkg/outbox"
	"github.com/angelmondragon/comercio-backoffice/pkg/redis"
	"github.com/angelmondragon/comercio-backoffice/pkg/storage/gcs"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, cfg.FeatureFlags.UseSQLite, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	metricsRegistry := metrics.NewRegistry()
	outboxRepo := outbox.NewRepository(dbClient.DB())
	tenantRepo := tenants.NewRepository(dbClient.DB())

	// The sweep only recomputes cached plans, so proofs are never consulted.
	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Records:           subscriptions.NewRepository(dbClient.DB()),
		Plans:             plans.NewRepository(dbClient.DB()),
		Tenants:           tenantRepo,
		Outbox:            outbox.NewService(outboxRepo, logg),
		Proofs:            gcs.TrustingResolver{},
		Metrics:           metrics.NewLifecycleMetrics(metricsRegistry),
		Logger:            logg,
		TransactionRunner: dbClient,
		FreePlanCode:      cfg.Billing.FreePlanCode,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	refreshJob, err := cron.NewEntitlementRefreshJob(cron.EntitlementRefreshJobParams{
		Logger:    logg,
		Tenants:   tenantRepo,
		Refresher: subscriptionService,
		BatchSize: cfg.Cron.RefreshBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create entitlement refresh job", err)
		os.Exit(1)
	}

	registry, err := cron.NewRegistry(refreshJob, retentionJob)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(cfg.Service.Kind), cfg.Cron.LockTTL, cfg.Service.WorkerID)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(metricsRegistry),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})

	if addr := cfg.App.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, metricsRegistry); err != nil {
				logg.Error(ctx, "metrics listener stopped", err)
			}
		}()
	}

	if *once {
		if err := service.RunOnce(ctx); err != nil {
			if errors.Is(err, cron.ErrLockHeld) {
				logg.Warn(ctx, "cron lock held elsewhere, nothing to do")
				return
			}
			logg.Error(ctx, "cron cycle failed", err)
			os.Exit(1)
		}
		logg.Info(ctx, "cron cycle complete")
		return
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}
