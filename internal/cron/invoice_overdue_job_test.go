package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/internal/payments"
	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/outbox"
)

func TestInvoiceOverdueJobFlipsInvoicesAndEmits(t *testing.T) {
	now := time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)
	invoice := models.Invoice{
		ID:                    uuid.New(),
		TenantID:              uuid.New(),
		LeaseID:               uuid.New(),
		BalanceRemainingCents: 10000,
		DueDate:               time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Status:                enums.InvoiceStatusIssued,
	}
	helper := newOverdueJobHelper(t)
	helper.job.now = func() time.Time { return now }
	helper.invoiceRepo.candidates = []models.Invoice{invoice}
	helper.invoices.flipped = map[uuid.UUID]bool{invoice.ID: true}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(helper.outboxSvc.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(helper.outboxSvc.events))
	}
	event := helper.outboxSvc.events[0]
	if event.EventType != enums.EventInvoiceOverdue {
		t.Fatalf("unexpected event type %s", event.EventType)
	}
	if event.AggregateID != invoice.ID {
		t.Fatalf("unexpected aggregate id %s", event.AggregateID)
	}
}

func TestInvoiceOverdueJobSkipsAlreadyFlipped(t *testing.T) {
	invoice := models.Invoice{ID: uuid.New(), DueDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	helper := newOverdueJobHelper(t)
	helper.invoiceRepo.candidates = []models.Invoice{invoice}
	// CAS miss: another worker already moved the invoice.
	helper.invoices.flipped = map[uuid.UUID]bool{invoice.ID: false}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(helper.outboxSvc.events) != 0 {
		t.Fatal("no event may be emitted for an invoice another worker flipped")
	}
}

func TestInvoiceOverdueJobSkipsExistingEvent(t *testing.T) {
	invoice := models.Invoice{ID: uuid.New(), DueDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	helper := newOverdueJobHelper(t)
	helper.invoiceRepo.candidates = []models.Invoice{invoice}
	helper.invoices.flipped = map[uuid.UUID]bool{invoice.ID: true}
	helper.outboxRepo.exists = true

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(helper.outboxSvc.events) != 0 {
		t.Fatal("duplicate overdue event must not be emitted")
	}
}

func TestInvoiceOverdueJobAgesOutPendingPayments(t *testing.T) {
	payment := models.Payment{ID: uuid.New(), Status: enums.PaymentStatusPending}
	helper := newOverdueJobHelper(t)
	helper.paymentRepo.stale = []models.Payment{payment}

	if err := helper.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(helper.payments.transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(helper.payments.transitions))
	}
	got := helper.payments.transitions[0]
	if got.PaymentID != payment.ID || got.To != enums.PaymentStatusOverdue {
		t.Fatalf("unexpected transition %+v", got)
	}
}

func TestInvoiceOverdueJobAggregatesPerItemErrors(t *testing.T) {
	first := models.Invoice{ID: uuid.New(), DueDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	second := models.Invoice{ID: uuid.New(), DueDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	helper := newOverdueJobHelper(t)
	helper.invoiceRepo.candidates = []models.Invoice{first, second}
	helper.invoices.flipped = map[uuid.UUID]bool{second.ID: true}
	helper.invoices.errOn = first.ID

	err := helper.job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	// The failing invoice must not block the rest of the batch.
	if len(helper.outboxSvc.events) != 1 {
		t.Fatalf("expected second invoice processed, got %d events", len(helper.outboxSvc.events))
	}
}

type overdueJobHelper struct {
	job         *invoiceOverdueJob
	invoiceRepo *fakeOverdueInvoiceRepo
	invoices    *fakeOverdueInvoiceService
	paymentRepo *fakeOverduePaymentRepo
	payments    *fakePaymentTransitioner
	outboxSvc   *fakeOverdueOutbox
	outboxRepo  *fakeOverdueOutboxRepo
}

func newOverdueJobHelper(t *testing.T) *overdueJobHelper {
	t.Helper()
	helper := &overdueJobHelper{
		invoiceRepo: &fakeOverdueInvoiceRepo{},
		invoices:    &fakeOverdueInvoiceService{},
		paymentRepo: &fakeOverduePaymentRepo{},
		payments:    &fakePaymentTransitioner{},
		outboxSvc:   &fakeOverdueOutbox{},
		outboxRepo:  &fakeOverdueOutboxRepo{},
	}
	jobIface, err := NewInvoiceOverdueJob(InvoiceOverdueJobParams{
		Logger:      logger.New(logger.Options{ServiceName: "test"}),
		DB:          overdueFakeTxRunner{},
		InvoiceRepo: helper.invoiceRepo,
		Invoices:    helper.invoices,
		PaymentRepo: helper.paymentRepo,
		Payments:    helper.payments,
		Outbox:      helper.outboxSvc,
		OutboxRepo:  helper.outboxRepo,
	})
	if err != nil {
		t.Fatalf("NewInvoiceOverdueJob: %v", err)
	}
	job, ok := jobIface.(*invoiceOverdueJob)
	if !ok {
		t.Fatalf("expected invoiceOverdueJob, got %T", jobIface)
	}
	helper.job = job
	return helper
}

type fakeOverdueInvoiceRepo struct {
	candidates []models.Invoice
}

func (f *fakeOverdueInvoiceRepo) ListOverdueCandidates(context.Context, time.Time, int) ([]models.Invoice, error) {
	return f.candidates, nil
}

type fakeOverdueInvoiceService struct {
	flipped map[uuid.UUID]bool
	errOn   uuid.UUID
}

func (f *fakeOverdueInvoiceService) MarkOverdue(_ context.Context, invoiceID uuid.UUID) (bool, error) {
	if invoiceID == f.errOn {
		return false, errors.New("boom")
	}
	return f.flipped[invoiceID], nil
}

type fakeOverduePaymentRepo struct {
	stale []models.Payment
}

func (f *fakeOverduePaymentRepo) ListOverduePending(context.Context, time.Time, int) ([]models.Payment, error) {
	return f.stale, nil
}

type fakePaymentTransitioner struct {
	transitions []payments.TransitionInput
}

func (f *fakePaymentTransitioner) Transition(_ context.Context, input payments.TransitionInput) (*models.Payment, error) {
	f.transitions = append(f.transitions, input)
	return &models.Payment{ID: input.PaymentID, Status: input.To}, nil
}

type fakeOverdueOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOverdueOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeOverdueOutboxRepo struct {
	exists bool
}

func (f *fakeOverdueOutboxRepo) Exists(context.Context, enums.OutboxEventType, enums.OutboxAggregateType, uuid.UUID) (bool, error) {
	return f.exists, nil
}

type overdueFakeTxRunner struct{}

func (overdueFakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
