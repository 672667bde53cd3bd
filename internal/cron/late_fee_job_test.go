package cron

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/internal/latefees"
	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
)

func TestLateFeeJobAssessesOverdueInvoices(t *testing.T) {
	now := time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC)
	propertyID := uuid.New()
	invoice := models.Invoice{
		ID:             uuid.New(),
		PropertyID:     propertyID,
		TenantID:       uuid.New(),
		AmountDueCents: 100000,
		DueDate:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	helper := newLateFeeJobHelper(t)
	helper.job.now = func() time.Time { return now }
	helper.invoiceRepo.candidates = []models.Invoice{invoice}
	helper.properties.properties = map[uuid.UUID]*models.Property{
		propertyID: {ID: propertyID, LateFeePolicy: fixedPolicy(t, 5, 2500)},
	}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(helper.lateFees.applied) != 1 {
		t.Fatalf("expected 1 fee applied, got %d", len(helper.lateFees.applied))
	}
	applied := helper.lateFees.applied[0]
	if applied.InvoiceID != invoice.ID {
		t.Fatalf("fee applied to wrong invoice %s", applied.InvoiceID)
	}
	if applied.Calculation.Amount != 2500 {
		t.Fatalf("fee amount = %d, want 2500", applied.Calculation.Amount)
	}
}

func TestLateFeeJobSkipsInvoicesInsideGrace(t *testing.T) {
	now := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	propertyID := uuid.New()
	invoice := models.Invoice{
		ID:             uuid.New(),
		PropertyID:     propertyID,
		AmountDueCents: 100000,
		DueDate:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	helper := newLateFeeJobHelper(t)
	helper.job.now = func() time.Time { return now }
	helper.invoiceRepo.candidates = []models.Invoice{invoice}
	helper.properties.properties = map[uuid.UUID]*models.Property{
		propertyID: {ID: propertyID, LateFeePolicy: fixedPolicy(t, 5, 2500)},
	}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(helper.lateFees.applied) != 0 {
		t.Fatal("no fee may be applied within the grace window")
	}
}

func TestLateFeeJobCachesPolicyPerProperty(t *testing.T) {
	propertyID := uuid.New()
	first := models.Invoice{ID: uuid.New(), PropertyID: propertyID, AmountDueCents: 50000, DueDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	second := models.Invoice{ID: uuid.New(), PropertyID: propertyID, AmountDueCents: 60000, DueDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	helper := newLateFeeJobHelper(t)
	helper.job.now = func() time.Time { return time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC) }
	helper.invoiceRepo.candidates = []models.Invoice{first, second}
	helper.properties.properties = map[uuid.UUID]*models.Property{
		propertyID: {ID: propertyID, LateFeePolicy: fixedPolicy(t, 0, 1000)},
	}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if helper.properties.loads != 1 {
		t.Fatalf("property loaded %d times, want 1", helper.properties.loads)
	}
	if len(helper.lateFees.applied) != 2 {
		t.Fatalf("expected 2 fees applied, got %d", len(helper.lateFees.applied))
	}
}

func TestLateFeeJobContinuesPastBadPolicy(t *testing.T) {
	badProperty := uuid.New()
	goodProperty := uuid.New()
	first := models.Invoice{ID: uuid.New(), PropertyID: badProperty, AmountDueCents: 50000, DueDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	second := models.Invoice{ID: uuid.New(), PropertyID: goodProperty, AmountDueCents: 50000, DueDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	helper := newLateFeeJobHelper(t)
	helper.job.now = func() time.Time { return time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC) }
	helper.invoiceRepo.candidates = []models.Invoice{first, second}
	helper.properties.properties = map[uuid.UUID]*models.Property{
		badProperty:  {ID: badProperty, LateFeePolicy: json.RawMessage(`{"enabled":true}`)},
		goodProperty: {ID: goodProperty, LateFeePolicy: fixedPolicy(t, 0, 1000)},
	}

	err := helper.job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error for the bad policy")
	}
	if len(helper.lateFees.applied) != 1 || helper.lateFees.applied[0].InvoiceID != second.ID {
		t.Fatalf("good property's invoice must still be assessed, got %+v", helper.lateFees.applied)
	}
}

type lateFeeJobHelper struct {
	job         *lateFeeJob
	invoiceRepo *fakeLateFeeInvoiceRepo
	properties  *fakePropertyReader
	lateFees    *fakeLateFeeService
}

func newLateFeeJobHelper(t *testing.T) *lateFeeJobHelper {
	t.Helper()
	helper := &lateFeeJobHelper{
		invoiceRepo: &fakeLateFeeInvoiceRepo{},
		properties:  &fakePropertyReader{},
		lateFees:    &fakeLateFeeService{},
	}
	jobIface, err := NewLateFeeJob(LateFeeJobParams{
		Logger:      logger.New(logger.Options{ServiceName: "test"}),
		InvoiceRepo: helper.invoiceRepo,
		Properties:  helper.properties,
		LateFees:    helper.lateFees,
	})
	if err != nil {
		t.Fatalf("NewLateFeeJob: %v", err)
	}
	job, ok := jobIface.(*lateFeeJob)
	if !ok {
		t.Fatalf("expected lateFeeJob, got %T", jobIface)
	}
	helper.job = job
	return helper
}

func fixedPolicy(t *testing.T, graceDays int, amountCents int64) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"enabled":           true,
		"grace_period_days": graceDays,
		"fee_structure": map[string]any{
			"type":               "fixed",
			"fixed_amount_cents": amountCents,
		},
	})
	if err != nil {
		t.Fatalf("marshal policy: %v", err)
	}
	return raw
}

type fakeLateFeeInvoiceRepo struct {
	candidates []models.Invoice
}

func (f *fakeLateFeeInvoiceRepo) ListLateFeeCandidates(context.Context, time.Time, int) ([]models.Invoice, error) {
	return f.candidates, nil
}

type fakePropertyReader struct {
	properties map[uuid.UUID]*models.Property
	loads      int
}

func (f *fakePropertyReader) GetProperty(_ context.Context, id uuid.UUID) (*models.Property, error) {
	f.loads++
	return f.properties[id], nil
}

type fakeLateFeeService struct {
	applied []latefees.ApplyInput
}

func (f *fakeLateFeeService) Calculate(_ context.Context, input latefees.CalculateInput) (*latefees.Calculation, error) {
	config := input.Config
	graceEnd := input.DueDate.AddDate(0, 0, config.GracePeriodDays)
	if !input.Now.After(graceEnd) {
		return nil, nil
	}
	return &latefees.Calculation{
		Amount:         money.Cents(config.FeeStructure.FixedAmountCents),
		GracePeriodEnd: graceEnd,
		FeeStructure:   config.FeeStructure,
	}, nil
}

func (f *fakeLateFeeService) Apply(_ context.Context, input latefees.ApplyInput) (*models.Invoice, error) {
	f.applied = append(f.applied, input)
	return &models.Invoice{ID: input.InvoiceID}, nil
}
