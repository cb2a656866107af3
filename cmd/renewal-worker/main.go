package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/subcycle-backend/internal/cron"
	"github.com/angelmondragon/subcycle-backend/internal/plans"
	"github.com/angelmondragon/subcycle-backend/internal/renewals"
	"github.com/angelmondragon/subcycle-backend/internal/subscriptions"
	"github.com/angelmondragon/subcycle-backend/pkg/config"
	"github.com/angelmondragon/subcycle-backend/pkg/db"
	"github.com/angelmondragon/subcycle-backend/pkg/gateway"
	"github.com/angelmondragon/subcycle-backend/pkg/logger"
	"github.com/angelmondragon/subcycle-backend/pkg/metrics"
	"github.com/angelmondragon/subcycle-backend/pkg/migrate"
	"github.com/angelmondragon/subcycle-backend/pkg/outbox"
	"github.com/angelmondragon/subcycle-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "renewal-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "renewal-worker"

	logg = logger.New(logger.Options{
		ServiceName: "renewal-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
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

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	squareClient, err := gateway.NewSquareClient(context.Background(), cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap payment gateway", err)
		os.Exit(1)
	}

	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	planRepo := plans.NewRepository(dbClient.DB())
	planSvc, err := plans.NewService(plans.ServiceParams{
		Repo:              planRepo,
		Outbox:            outboxSvc,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create plan service", err)
		os.Exit(1)
	}

	subRepo := subscriptions.NewRepository(dbClient.DB())
	reconciler, err := subscriptions.NewReconciler(subscriptions.ReconcilerParams{
		Repo:              subRepo,
		Plans:             planSvc,
		Outbox:            outboxSvc,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	renewalJob, err := renewals.NewJob(renewals.JobParams{
		Logger:     logg,
		Repo:       subRepo,
		Plans:      planSvc,
		Gateway:    squareClient,
		Reconciler: reconciler,
		Metrics:    metricsCollector,
		Limit:      cfg.Renewals.BatchSize,
		Workers:    cfg.Renewals.Workers,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create renewal job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.CronLockKey("renewal-worker"), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweep lock", err)
		os.Exit(1)
	}

	cronSvc, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(renewalJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Renewals.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting renewal worker")

	server := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           newHandler(dbClient, redisClient),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return cronSvc.Run(groupCtx)
	})
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "renewal worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "renewal worker shutting down gracefully")
}

func newHandler(dbClient *db.Client, redisClient *redis.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := dbClient.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(ctx); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	return r
}
