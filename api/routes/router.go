package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rentledger/rentledger-backend/api/controllers"
	analyticscontrollers "github.com/rentledger/rentledger-backend/api/controllers/analytics"
	"github.com/rentledger/rentledger-backend/api/middleware"
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
	"github.com/rentledger/rentledger-backend/pkg/enums"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/pubsub"
	"github.com/rentledger/rentledger-backend/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(context.Context, string, string) (string, string, error)
	Revoke(context.Context, string) error
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	pubsubClient *pubsub.Client,
	bigqueryClient bigquery.Pinger,
	sessionManager sessionManager,
	analyticsService analytics.Service,
	paymentsService payments.Service,
	invoicesService invoices.Service,
	lateFeesService latefees.Service,
	leasesService leases.Service,
	notificationsService notifications.Service,
	reconcileService reconcile.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	refreshPolicy := middleware.NewAuthRateLimitPolicy(
		"refresh",
		cfg.AuthRateLimit.RefreshWindow,
		cfg.AuthRateLimit.RefreshIPLimit,
		0,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, controllers.ReadinessDeps(dbP, redisClient, pubsubClient, bigqueryClient)))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
		r.Post("/validate", controllers.PublicValidate(logg))
	})

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.With(middleware.AuthRateLimit(refreshPolicy, redisClient, logg)).Post("/refresh", controllers.AuthRefresh(sessionManager, cfg.JWT, logg))
		r.Post("/logout", controllers.AuthLogout(sessionManager, cfg.JWT, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, sessionManager, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/payments", func(r chi.Router) {
			r.Get("/{paymentId}", controllers.GetPayment(paymentsService, logg))
			r.Get("/{paymentId}/audit", controllers.PaymentAuditTrail(paymentsService, logg))
			r.Get("/{paymentId}/allocations", controllers.PaymentAllocationHistory(reconcileService, logg))

			r.With(middleware.RequireRole(logg, enums.MemberRoleManager, enums.MemberRoleAccountant)).
				Get("/gateway/{gatewayPaymentId}", controllers.GetPaymentByGatewayID(paymentsService, logg))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.MemberRoleManager, enums.MemberRoleAccountant, enums.MemberRoleStaff))
				r.Post("/", controllers.RecordPayment(reconcileService, logg))
				r.Post("/{paymentId}/apply", controllers.ApplyPayment(reconcileService, logg))
				r.Post("/{paymentId}/apply-single", controllers.ApplyPaymentSingle(reconcileService, logg))
				r.Post("/{paymentId}/transition", controllers.TransitionPayment(paymentsService, logg))
			})

			// Tenants initiate gateway charges for their own pending payments.
			r.Post("/{paymentId}/process", controllers.ProcessPayment(reconcileService, logg))

			r.With(middleware.RequireRole(logg, enums.MemberRoleManager)).
				Post("/{paymentId}/reverse", controllers.ReversePayment(reconcileService, logg))
		})

		r.Route("/v1/invoices", func(r chi.Router) {
			r.Get("/", controllers.ListOutstandingInvoices(invoicesService, logg))
			r.Get("/{invoiceId}", controllers.GetInvoice(invoicesService, logg))
		})

		r.Get("/v1/tenants/{tenantId}/allocations", controllers.TenantAllocationReport(reconcileService, logg))

		r.Route("/v1/proration", func(r chi.Router) {
			r.Post("/calculate", controllers.CalculateProration(logg))
		})

		r.Route("/v1/late-fees", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.MemberRoleManager, enums.MemberRoleAccountant))
			r.Post("/calculate", controllers.CalculateLateFee(lateFeesService, logg))
			r.With(middleware.RequireRole(logg, enums.MemberRoleManager)).
				Post("/apply", controllers.ApplyLateFee(lateFeesService, invoicesService, leasesService, logg))
		})

		r.Route("/v1/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(notificationsService, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(notificationsService, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(notificationsService, logg))
		})

		r.Route("/v1/analytics", func(r chi.Router) {
			r.Get("/collections", analyticscontrollers.CollectionsAnalytics(analyticsService, logg))
		})
	})

	return r
}
