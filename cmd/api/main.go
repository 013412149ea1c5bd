package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angelmondragon/comercio-backoffice/api/controllers"
	"github.com/angelmondragon/comercio-backoffice/api/routes"
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
	"github.com/joho/godotenv"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	readiness := map[string]controllers.Pinger{
		"db":    dbClient,
		"redis": redisClient,
	}

	var proofs subscriptions.ProofResolver = gcs.TrustingResolver{}
	if cfg.FeatureFlags.ProofCheck {
		resolver, err := gcs.NewProofResolver(context.Background(), cfg.GCS, cfg.GCP, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap proof storage", err)
			os.Exit(1)
		}
		defer func() {
			if err := resolver.Close(); err != nil {
				logg.Error(context.Background(), "error closing proof storage", err)
			}
		}()
		proofs = resolver
		readiness["gcs"] = resolver
	} else {
		logg.Warn(context.Background(), "payment proof existence check disabled")
	}

	registry := metrics.NewRegistry()
	planRepo := plans.NewRepository(dbClient.DB())
	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Records:           subscriptions.NewRepository(dbClient.DB()),
		Plans:             planRepo,
		Tenants:           tenants.NewRepository(dbClient.DB()),
		Outbox:            outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Proofs:            proofs,
		Metrics:           metrics.NewLifecycleMetrics(registry),
		Logger:            logg,
		TransactionRunner: dbClient,
		FreePlanCode:      cfg.Billing.FreePlanCode,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Params{
			Config:        cfg,
			Logger:        logg,
			Readiness:     readiness,
			Metrics:       metrics.Handler(registry),
			Idempotency:   redisClient,
			Plans:         planRepo,
			Subscriptions: subscriptionService,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server stopped")
	}
}
