package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rentledger/rentledger-backend/internal/cron"
	"github.com/rentledger/rentledger-backend/internal/invoices"
	"github.com/rentledger/rentledger-backend/internal/latefees"
	"github.com/rentledger/rentledger-backend/internal/leases"
	"github.com/rentledger/rentledger-backend/internal/notifications"
	"github.com/rentledger/rentledger-backend/internal/payments"
	"github.com/rentledger/rentledger-backend/pkg/config"
	"github.com/rentledger/rentledger-backend/pkg/db"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/metrics"
	"github.com/rentledger/rentledger-backend/pkg/migrate"
	"github.com/rentledger/rentledger-backend/pkg/outbox"
	"github.com/rentledger/rentledger-backend/pkg/pubsub"
	"github.com/rentledger/rentledger-backend/pkg/redis"
)

const lockKeyFormat = "rl:cron-worker:lock:%s"

func main() {
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	jobs, err := buildJobs(logg, dbClient, pubsubClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build cron jobs", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(jobs...)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
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
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildJobs wires the domain services the scheduled sweeps depend on and
// returns the jobs in their registration order.
func buildJobs(logg *logger.Logger, dbClient *db.Client, pubsubClient *pubsub.Client) ([]cron.Job, error) {
	invoiceRepo := invoices.NewRepository(dbClient.DB())
	invoicesSvc, err := invoices.NewService(invoiceRepo)
	if err != nil {
		return nil, fmt.Errorf("invoices service: %w", err)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outboxRepo, logg)

	paymentRepo := payments.NewRepository(dbClient.DB())
	paymentsSvc, err := payments.NewService(paymentRepo, dbClient, outboxSvc, logg)
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	leasesSvc, err := leases.NewService(leases.NewRepository(dbClient.DB()))
	if err != nil {
		return nil, fmt.Errorf("leases service: %w", err)
	}

	notifier := notifications.NewPublisher(pubsubClient.NotificationPublisher(), logg)
	lateFeesSvc, err := latefees.NewService(dbClient, invoicesSvc, outboxSvc, notifier, logg)
	if err != nil {
		return nil, fmt.Errorf("late fees service: %w", err)
	}

	overdueJob, err := cron.NewInvoiceOverdueJob(cron.InvoiceOverdueJobParams{
		Logger:      logg,
		DB:          dbClient,
		InvoiceRepo: invoiceRepo,
		Invoices:    invoicesSvc,
		PaymentRepo: paymentRepo,
		Payments:    paymentsSvc,
		Outbox:      outboxSvc,
		OutboxRepo:  outboxRepo,
	})
	if err != nil {
		return nil, fmt.Errorf("invoice overdue job: %w", err)
	}

	lateFeeJob, err := cron.NewLateFeeJob(cron.LateFeeJobParams{
		Logger:      logg,
		InvoiceRepo: invoiceRepo,
		Properties:  leasesSvc,
		LateFees:    lateFeesSvc,
	})
	if err != nil {
		return nil, fmt.Errorf("late fee job: %w", err)
	}

	cleanupJob, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notifications.NewRepository(dbClient.DB()),
	})
	if err != nil {
		return nil, fmt.Errorf("notification cleanup job: %w", err)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	return []cron.Job{overdueJob, lateFeeJob, cleanupJob, retentionJob}, nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
