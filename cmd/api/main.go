package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rentledger/rentledger-backend/api/routes"
	"github.com/rentledger/rentledger-backend/internal/analytics"
	"github.com/rentledger/rentledger-backend/internal/invoices"
	"github.com/rentledger/rentledger-backend/internal/latefees"
	"github.com/rentledger/rentledger-backend/internal/leases"
	"github.com/rentledger/rentledger-backend/internal/notifications"
	"github.com/rentledger/rentledger-backend/internal/payments"
	"github.com/rentledger/rentledger-backend/internal/reconcile"
	"github.com/rentledger/rentledger-backend/pkg/auth/session"
	"github.com/rentledger/rentledger-backend/pkg/bigquery"
	"github.com/rentledger/rentledger-backend/pkg/config"
	"github.com/rentledger/rentledger-backend/pkg/db"
	"github.com/rentledger/rentledger-backend/pkg/gateway"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/metrics"
	"github.com/rentledger/rentledger-backend/pkg/migrate"
	"github.com/rentledger/rentledger-backend/pkg/outbox"
	"github.com/rentledger/rentledger-backend/pkg/pubsub"
	"github.com/rentledger/rentledger-backend/pkg/redis"
	"github.com/rentledger/rentledger-backend/pkg/stripe"
)

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

	bigqueryClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap bigquery", err)
		os.Exit(1)
	}
	defer func() {
		if err := bigqueryClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	// Stripe is optional in local development. Without it, process-payment
	// requests that need a gateway charge fail with a dependency error.
	var paymentGateway gateway.Gateway
	if cfg.Stripe.APIKey != "" {
		stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap stripe", err)
			os.Exit(1)
		}
		paymentGateway, err = gateway.NewStripeGateway(stripeClient)
		if err != nil {
			logg.Error(context.Background(), "failed to create stripe gateway", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "stripe not configured, gateway charges disabled")
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outboxRepo, logg)
	notifier := notifications.NewPublisher(pubsubClient.NotificationPublisher(), logg)
	allocationMetrics := metrics.NewAllocationMetrics(prometheus.DefaultRegisterer)

	invoicesService, err := invoices.NewService(invoices.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create invoices service", err)
		os.Exit(1)
	}

	paymentsService, err := payments.NewService(payments.NewRepository(dbClient.DB()), dbClient, outboxSvc, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	leasesService, err := leases.NewService(leases.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create leases service", err)
		os.Exit(1)
	}

	lateFeesService, err := latefees.NewService(dbClient, invoicesService, outboxSvc, notifier, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create late fees service", err)
		os.Exit(1)
	}

	notificationsService, err := notifications.NewService(notifications.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	reconcileService, err := reconcile.NewService(
		reconcile.NewRepository(dbClient.DB()),
		dbClient,
		invoicesService,
		paymentsService,
		leasesService,
		paymentGateway,
		outboxSvc,
		notifier,
		allocationMetrics,
		logg,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile service", err)
		os.Exit(1)
	}

	analyticsService, err := analytics.NewService(bigqueryClient, cfg.GCP.ProjectID, cfg.BigQuery.Dataset, cfg.BigQuery.PaymentEventsTable)
	if err != nil {
		logg.Error(context.Background(), "failed to create analytics service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			pubsubClient,
			bigqueryClient,
			sessionManager,
			analyticsService,
			paymentsService,
			invoicesService,
			lateFeesService,
			leasesService,
			notificationsService,
			reconcileService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
