package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/internal/analytics/types"
	"github.com/rentledger/rentledger-backend/internal/invoices"
	"github.com/rentledger/rentledger-backend/internal/latefees"
	"github.com/rentledger/rentledger-backend/internal/notifications"
	"github.com/rentledger/rentledger-backend/internal/payments"
	"github.com/rentledger/rentledger-backend/internal/reconcile"
	pkgAuth "github.com/rentledger/rentledger-backend/pkg/auth"
	"github.com/rentledger/rentledger-backend/pkg/auth/session"
	"github.com/rentledger/rentledger-backend/pkg/config"
	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
	"github.com/rentledger/rentledger-backend/pkg/pubsub"
	"github.com/rentledger/rentledger-backend/pkg/redis"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubSessionManager struct{}

func (stubSessionManager) HasSession(ctx context.Context, accessID string) (bool, error) {
	return true, nil
}

func (stubSessionManager) Rotate(ctx context.Context, oldAccessID, provided string) (string, string, error) {
	return "", "", nil
}

func (stubSessionManager) Revoke(ctx context.Context, accessID string) error {
	return nil
}

type stubAnalyticsService struct{}

func (stubAnalyticsService) Query(ctx context.Context, req types.CollectionsQueryRequest) (*types.CollectionsQueryResponse, error) {
	return &types.CollectionsQueryResponse{}, nil
}

type stubPaymentsService struct{}

func (stubPaymentsService) Create(ctx context.Context, tx *gorm.DB, input payments.CreatePaymentInput) (*models.Payment, error) {
	panic("unimplemented")
}

func (stubPaymentsService) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return &models.Payment{ID: id}, nil
}

func (stubPaymentsService) GetByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	return &models.Payment{GatewayPaymentID: &gatewayPaymentID}, nil
}

func (stubPaymentsService) AttachGatewayCharge(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, gatewayChargeID string) error {
	return nil
}

func (stubPaymentsService) Transition(ctx context.Context, input payments.TransitionInput) (*models.Payment, error) {
	return &models.Payment{ID: input.PaymentID, Status: input.To}, nil
}

func (stubPaymentsService) TransitionTx(ctx context.Context, tx *gorm.DB, input payments.TransitionInput) (*models.Payment, error) {
	panic("unimplemented")
}

func (stubPaymentsService) ListAuditTrail(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAuditEntry, error) {
	return nil, nil
}

type stubInvoicesService struct{}

func (stubInvoicesService) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	return &models.Invoice{ID: id}, nil
}

func (stubInvoicesService) ListOutstanding(ctx context.Context, tenantID uuid.UUID, leaseID *uuid.UUID) ([]models.Invoice, error) {
	return nil, nil
}

func (stubInvoicesService) ApplyPayment(ctx context.Context, tx *gorm.DB, input invoices.ApplyPaymentInput) (*invoices.ApplyPaymentResult, error) {
	panic("unimplemented")
}

func (stubInvoicesService) ReverseAllocation(ctx context.Context, tx *gorm.DB, input invoices.ReverseAllocationInput) (*models.Invoice, error) {
	panic("unimplemented")
}

func (stubInvoicesService) ApplyLateFee(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID, amount money.Cents, assessedAt time.Time) (*models.Invoice, error) {
	panic("unimplemented")
}

func (stubInvoicesService) MarkOverdue(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	return false, nil
}

type stubLateFeesService struct{}

func (stubLateFeesService) Calculate(ctx context.Context, input latefees.CalculateInput) (*latefees.Calculation, error) {
	return nil, nil
}

func (stubLateFeesService) Apply(ctx context.Context, input latefees.ApplyInput) (*models.Invoice, error) {
	return &models.Invoice{ID: input.InvoiceID}, nil
}

type stubLeasesService struct{}

func (stubLeasesService) GetLease(ctx context.Context, id uuid.UUID) (*models.Lease, error) {
	return &models.Lease{ID: id}, nil
}

func (stubLeasesService) GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	return &models.Property{ID: id}, nil
}

func (stubLeasesService) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	return &models.Tenant{ID: id}, nil
}

func (stubLeasesService) ResolveLeaseContext(ctx context.Context, tenantID uuid.UUID, leaseID *uuid.UUID) (*models.Lease, error) {
	return &models.Lease{TenantID: tenantID}, nil
}

type stubNotificationsService struct{}

func (stubNotificationsService) List(ctx context.Context, params notifications.ListParams) (*notifications.ListResult, error) {
	return &notifications.ListResult{}, nil
}

func (stubNotificationsService) MarkRead(ctx context.Context, tenantID, notificationID uuid.UUID) error {
	return nil
}

func (stubNotificationsService) MarkAllRead(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	return 0, nil
}

type stubReconcileService struct {
	allocationTenant uuid.UUID
}

func (s *stubReconcileService) ApplyPaymentToInvoices(ctx context.Context, input reconcile.ApplyToInvoicesInput) (*reconcile.LinkResult, error) {
	return &reconcile.LinkResult{}, nil
}

func (s *stubReconcileService) ApplyPaymentToSingleInvoice(ctx context.Context, input reconcile.ApplySingleInput) (*reconcile.PaymentApplication, error) {
	return &reconcile.PaymentApplication{}, nil
}

func (s *stubReconcileService) ReversePaymentApplication(ctx context.Context, input reconcile.ReverseInput) (*reconcile.ReverseResult, error) {
	return &reconcile.ReverseResult{}, nil
}

func (s *stubReconcileService) RecordManualPayment(ctx context.Context, input reconcile.ManualPaymentInput) (*reconcile.ManualPaymentResult, error) {
	return &reconcile.ManualPaymentResult{}, nil
}

func (s *stubReconcileService) ProcessPayment(ctx context.Context, input reconcile.ProcessInput) (*reconcile.ProcessResult, error) {
	return &reconcile.ProcessResult{}, nil
}

func (s *stubReconcileService) GetPaymentAllocation(ctx context.Context, tenantID uuid.UUID) (*reconcile.AllocationReport, error) {
	s.allocationTenant = tenantID
	return &reconcile.AllocationReport{TenantID: tenantID}, nil
}

func (s *stubReconcileService) ListAllocationHistory(ctx context.Context, paymentID uuid.UUID) (*reconcile.AllocationHistory, error) {
	return &reconcile.AllocationHistory{PaymentID: paymentID}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
		JWT: config.JWTConfig{
			Secret:            "secret",
			Issuer:            "issuer",
			ExpirationMinutes: 60,
		},
	}
}

func newTestRouter(cfg *config.Config) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	return NewRouter(
		cfg,
		logg,
		stubPinger{},
		(*redis.Client)(nil),
		(*pubsub.Client)(nil),
		stubPinger{},
		stubSessionManager{},
		stubAnalyticsService{},
		stubPaymentsService{},
		stubInvoicesService{},
		stubLateFeesService{},
		stubLeasesService{},
		stubNotificationsService{},
		&stubReconcileService{},
	)
}

func buildToken(t *testing.T, cfg *config.Config, role enums.MemberRole, tenantID *uuid.UUID) string {
	t.Helper()
	accessID := session.NewAccessID()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID:   uuid.New(),
		TenantID: tenantID,
		Role:     role,
		JTI:      accessID,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestPrivateGroupRejectsMissingJWT(t *testing.T) {
	router := newTestRouter(testConfig())
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token got %d", resp.Code)
	}
}

func TestPrivateGroupSucceedsWithJWT(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleManager, nil))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for private ping got %d", resp.Code)
	}
}

func TestLateFeeCalculateRequiresBackOfficeRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	body := `{"config":{"enabled":true,"grace_period_days":5,"fee_structure":{"type":"fixed","fixed_amount_cents":5000}},"invoice_amount_cents":120000,"due_date":"2025-06-01T00:00:00Z"}`

	tenantID := uuid.New()
	asTenant := httptest.NewRequest(http.MethodPost, "/api/v1/late-fees/calculate", strings.NewReader(body))
	asTenant.Header.Set("Content-Type", "application/json")
	asTenant.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleTenant, &tenantID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asTenant)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for tenant got %d", resp.Code)
	}

	asAccountant := httptest.NewRequest(http.MethodPost, "/api/v1/late-fees/calculate", strings.NewReader(body))
	asAccountant.Header.Set("Content-Type", "application/json")
	asAccountant.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleAccountant, nil))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, asAccountant)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for accountant got %d", resp.Code)
	}
}

func TestProrationCalculateOpenToAllRoles(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	tenantID := uuid.New()
	body := `{"monthly_rent_cents":150000,"move_in_date":"2025-06-10T00:00:00Z","method":"daily"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/proration/calculate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleTenant, &tenantID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for proration got %d", resp.Code)
	}
}

func TestTenantAllocationReportPinsTenant(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	tenantID := uuid.New()

	own := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/"+tenantID.String()+"/allocations", nil)
	own.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleTenant, &tenantID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, own)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for own report got %d", resp.Code)
	}

	otherID := uuid.New()
	other := httptest.NewRequest(http.MethodGet, "/api/v1/tenants/"+otherID.String()+"/allocations", nil)
	other.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleTenant, &tenantID))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, other)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for foreign report got %d", resp.Code)
	}
}

func TestGatewayLookupRequiresBackOfficeRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg)
	tenantID := uuid.New()

	asTenant := httptest.NewRequest(http.MethodGet, "/api/v1/payments/gateway/pi_123", nil)
	asTenant.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleTenant, &tenantID))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, asTenant)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for tenant got %d", resp.Code)
	}

	asAccountant := httptest.NewRequest(http.MethodGet, "/api/v1/payments/gateway/pi_123", nil)
	asAccountant.Header.Set("Authorization", "Bearer "+buildToken(t, cfg, enums.MemberRoleAccountant, nil))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, asAccountant)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for accountant got %d", resp.Code)
	}
}

func TestPublicValidateRejectsBadJSON(t *testing.T) {
	router := newTestRouter(testConfig())
	req := httptest.NewRequest(http.MethodPost, "/api/public/validate", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid payload got %d", resp.Code)
	}
}

func TestPublicValidateAcceptsGoodJSON(t *testing.T) {
	router := newTestRouter(testConfig())
	body := `{"name":"Zed","email":"zed@example.com"}`
	req := httptest.NewRequest(http.MethodPost, "/api/public/validate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for valid payload got %d", resp.Code)
	}
}
