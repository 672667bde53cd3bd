package reconcile

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/internal/invoices"
	"github.com/rentledger/rentledger-backend/internal/payments"
	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/gateway"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
	"github.com/rentledger/rentledger-backend/pkg/outbox"
)

type fakeTxRunner struct{}

func (fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOutbox) countByType(eventType enums.OutboxEventType) int {
	count := 0
	for _, event := range f.events {
		if event.EventType == eventType {
			count++
		}
	}
	return count
}

type fakeNotifier struct {
	confirmations []uuid.UUID
	failures      []string
}

func (f *fakeNotifier) NotifyPaymentConfirmation(_ context.Context, paymentID uuid.UUID) {
	f.confirmations = append(f.confirmations, paymentID)
}

func (f *fakeNotifier) NotifyPaymentFailure(_ context.Context, _ uuid.UUID, reason string) {
	f.failures = append(f.failures, reason)
}

// fakeLedger mirrors the real invoice ledger semantics: ordered outstanding
// lists, balance-guarded application, status derivation.
type fakeLedger struct {
	invoices []*models.Invoice
	failWith map[uuid.UUID]error
}

func (f *fakeLedger) find(id uuid.UUID) *models.Invoice {
	for _, invoice := range f.invoices {
		if invoice.ID == id {
			return invoice
		}
	}
	return nil
}

func (f *fakeLedger) GetByID(_ context.Context, id uuid.UUID) (*models.Invoice, error) {
	invoice := f.find(id)
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	return invoice, nil
}

func (f *fakeLedger) ListOutstanding(_ context.Context, tenantID uuid.UUID, leaseID *uuid.UUID) ([]models.Invoice, error) {
	var out []models.Invoice
	for _, invoice := range f.invoices {
		if invoice.TenantID != tenantID || invoice.BalanceRemainingCents <= 0 {
			continue
		}
		if !invoice.Status.AcceptsPayment() {
			continue
		}
		if leaseID != nil && invoice.LeaseID != *leaseID {
			continue
		}
		out = append(out, *invoice)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].DueDate.Before(out[j-1].DueDate); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

func (f *fakeLedger) ApplyPayment(_ context.Context, _ *gorm.DB, input invoices.ApplyPaymentInput) (*invoices.ApplyPaymentResult, error) {
	if err := f.failWith[input.InvoiceID]; err != nil {
		return nil, err
	}
	invoice := f.find(input.InvoiceID)
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if int64(input.Amount) > invoice.BalanceRemainingCents {
		return nil, pkgerrors.New(pkgerrors.CodeAllocation, "amount exceeds balance")
	}
	invoice.AmountPaidCents += int64(input.Amount)
	invoice.BalanceRemainingCents -= int64(input.Amount)
	if invoice.BalanceRemainingCents == 0 {
		invoice.Status = enums.InvoiceStatusPaid
	} else {
		invoice.Status = enums.InvoiceStatusPartial
	}
	return &invoices.ApplyPaymentResult{
		Invoice:          invoice,
		RemainingBalance: money.Cents(invoice.BalanceRemainingCents),
		FullyPaid:        invoice.BalanceRemainingCents == 0,
	}, nil
}

func (f *fakeLedger) ReverseAllocation(_ context.Context, _ *gorm.DB, input invoices.ReverseAllocationInput) (*models.Invoice, error) {
	invoice := f.find(input.InvoiceID)
	if invoice == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
	}
	if int64(input.Amount) > invoice.AmountPaidCents {
		return nil, pkgerrors.New(pkgerrors.CodeAllocation, "amount exceeds applied total")
	}
	invoice.AmountPaidCents -= int64(input.Amount)
	invoice.BalanceRemainingCents += int64(input.Amount)
	if invoice.BalanceRemainingCents == invoice.AmountDueCents {
		invoice.Status = enums.InvoiceStatusIssued
	} else {
		invoice.Status = enums.InvoiceStatusPartial
	}
	return invoice, nil
}

// fakePayments enforces the real transition table so orchestration bugs that
// skip states show up in tests.
type fakePayments struct {
	payments map[uuid.UUID]*models.Payment
	created  int
}

func newFakePayments() *fakePayments {
	return &fakePayments{payments: map[uuid.UUID]*models.Payment{}}
}

func (f *fakePayments) add(payment *models.Payment) {
	f.payments[payment.ID] = payment
}

func (f *fakePayments) Create(_ context.Context, _ *gorm.DB, input payments.CreatePaymentInput) (*models.Payment, error) {
	payment := &models.Payment{
		ID:          uuid.New(),
		TenantID:    input.TenantID,
		PropertyID:  input.PropertyID,
		LeaseID:     input.LeaseID,
		AmountCents: int64(input.Amount),
		Method:      input.Method,
		Status:      enums.PaymentStatusPending,
		ReceivedAt:  input.ReceivedAt,
	}
	f.payments[payment.ID] = payment
	f.created++
	return payment, nil
}

func (f *fakePayments) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	payment, ok := f.payments[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

func (f *fakePayments) AttachGatewayCharge(_ context.Context, _ *gorm.DB, paymentID uuid.UUID, gatewayChargeID string) error {
	payment, ok := f.payments[paymentID]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	payment.GatewayPaymentID = &gatewayChargeID
	return nil
}

func (f *fakePayments) TransitionTx(_ context.Context, _ *gorm.DB, input payments.TransitionInput) (*models.Payment, error) {
	payment, ok := f.payments[input.PaymentID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if !payments.CanTransition(payment.Status, input.To) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "transition not allowed")
	}
	payment.Status = input.To
	payment.FailureReason = input.FailureReason
	return payment, nil
}

type fakeLeases struct {
	lease *models.Lease
	err   error
}

func (f *fakeLeases) ResolveLeaseContext(_ context.Context, _ uuid.UUID, _ *uuid.UUID) (*models.Lease, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.lease, nil
}

type fakeGateway struct {
	outcome *gateway.ChargeOutcome
	charges []gateway.ChargeRequest
}

func (f *fakeGateway) Charge(_ context.Context, req gateway.ChargeRequest) (*gateway.ChargeOutcome, error) {
	f.charges = append(f.charges, req)
	return f.outcome, nil
}

type fixture struct {
	svc      Service
	repo     *fakeAllocationRepo
	ledger   *fakeLedger
	payments *fakePayments
	leases   *fakeLeases
	gateway  *fakeGateway
	outbox   *fakeOutbox
	notifier *fakeNotifier
}

type fakeAllocationRepo struct {
	allocations []*models.PaymentAllocation
}

func (f *fakeAllocationRepo) WithTx(_ *gorm.DB) Repository { return f }

func (f *fakeAllocationRepo) Create(_ context.Context, allocation *models.PaymentAllocation) error {
	allocation.ID = uuid.New()
	f.allocations = append(f.allocations, allocation)
	return nil
}

func (f *fakeAllocationRepo) ListByPaymentID(_ context.Context, paymentID uuid.UUID) ([]models.PaymentAllocation, error) {
	var out []models.PaymentAllocation
	for _, allocation := range f.allocations {
		if allocation.PaymentID == paymentID {
			out = append(out, *allocation)
		}
	}
	return out, nil
}

func (f *fakeAllocationRepo) ListActiveByPaymentID(_ context.Context, paymentID uuid.UUID) ([]models.PaymentAllocation, error) {
	var out []models.PaymentAllocation
	for _, allocation := range f.allocations {
		if allocation.PaymentID == paymentID && allocation.ReversedAt == nil {
			out = append(out, *allocation)
		}
	}
	return out, nil
}

func (f *fakeAllocationRepo) MarkReversed(_ context.Context, allocationID uuid.UUID, at time.Time) (bool, error) {
	for _, allocation := range f.allocations {
		if allocation.ID == allocationID && allocation.ReversedAt == nil {
			allocation.ReversedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     &fakeAllocationRepo{},
		ledger:   &fakeLedger{failWith: map[uuid.UUID]error{}},
		payments: newFakePayments(),
		leases:   &fakeLeases{},
		gateway:  &fakeGateway{},
		outbox:   &fakeOutbox{},
		notifier: &fakeNotifier{},
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(f.repo, fakeTxRunner{}, f.ledger, f.payments, f.leases, f.gateway, f.outbox, f.notifier, nil, logg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	f.svc = svc
	return f
}

func openInvoice(tenantID uuid.UUID, due time.Time, amount int64) *models.Invoice {
	return &models.Invoice{
		ID:                    uuid.New(),
		TenantID:              tenantID,
		PropertyID:            uuid.New(),
		LeaseID:               uuid.New(),
		AmountDueCents:        amount,
		BalanceRemainingCents: amount,
		Status:                enums.InvoiceStatusIssued,
		DueDate:               due,
	}
}

func pendingPayment(tenantID uuid.UUID, amount int64) *models.Payment {
	return &models.Payment{
		ID:          uuid.New(),
		TenantID:    tenantID,
		AmountCents: amount,
		Method:      enums.PaymentMethodACH,
		Status:      enums.PaymentStatusPending,
		ReceivedAt:  time.Now().UTC(),
	}
}

func TestApplyPaymentToInvoices_OldestObligationFirst(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()

	january := openInvoice(tenantID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10000)
	february := openInvoice(tenantID, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 10000)
	march := openInvoice(tenantID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 10000)
	// Deliberately out of order to exercise due-date sorting.
	f.ledger.invoices = []*models.Invoice{march, january, february}

	payment := pendingPayment(tenantID, 15000)
	f.payments.add(payment)

	result, err := f.svc.ApplyPaymentToInvoices(context.Background(), ApplyToInvoicesInput{
		PaymentID: payment.ID,
		TenantID:  tenantID,
		Amount:    15000,
	})
	if err != nil {
		t.Fatalf("ApplyPaymentToInvoices failed: %v", err)
	}

	if !result.Success {
		t.Fatal("expected successful allocation")
	}
	if result.TotalApplied != 15000 {
		t.Fatalf("total applied = %d, want 15000", result.TotalApplied)
	}
	if result.RemainingPaymentAmount != 0 {
		t.Fatalf("remaining = %d, want 0", result.RemainingPaymentAmount)
	}
	if len(result.Applications) != 2 {
		t.Fatalf("applications = %d, want 2", len(result.Applications))
	}
	if result.Applications[0].InvoiceID != january.ID || result.Applications[0].AmountApplied != 10000 {
		t.Fatalf("first application should fully cover january, got %+v", result.Applications[0])
	}
	if result.Applications[1].InvoiceID != february.ID || result.Applications[1].AmountApplied != 5000 {
		t.Fatalf("second application should partially cover february, got %+v", result.Applications[1])
	}
	if march.BalanceRemainingCents != 10000 {
		t.Fatalf("march should be untouched, balance = %d", march.BalanceRemainingCents)
	}
	if january.Status != enums.InvoiceStatusPaid {
		t.Fatalf("january status = %s, want paid", january.Status)
	}
	if february.Status != enums.InvoiceStatusPartial {
		t.Fatalf("february status = %s, want partial", february.Status)
	}

	if len(f.repo.allocations) != 2 {
		t.Fatalf("allocations recorded = %d, want 2", len(f.repo.allocations))
	}
	if f.repo.allocations[0].Position != 0 || f.repo.allocations[1].Position != 1 {
		t.Fatal("allocation positions should follow application order")
	}

	if f.outbox.countByType(enums.EventPaymentApplied) != 1 {
		t.Fatal("expected one payment applied event")
	}
	if f.outbox.countByType(enums.EventInvoicePaid) != 1 {
		t.Fatal("expected one invoice paid event for january")
	}

	if payment.Status != enums.PaymentStatusPaid {
		t.Fatalf("payment status = %s, want paid after allocation", payment.Status)
	}
	if result.PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("result payment status = %s, want paid", result.PaymentStatus)
	}
}

func TestApplyPaymentToInvoices_NothingLandedLeavesPaymentPending(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	payment := pendingPayment(tenantID, 5000)
	f.payments.add(payment)

	result, err := f.svc.ApplyPaymentToInvoices(context.Background(), ApplyToInvoicesInput{
		PaymentID: payment.ID,
		TenantID:  tenantID,
		Amount:    5000,
	})
	if err != nil {
		t.Fatalf("ApplyPaymentToInvoices failed: %v", err)
	}
	if result.Success {
		t.Fatal("expected unsuccessful allocation with no outstanding invoices")
	}
	if payment.Status != enums.PaymentStatusPending {
		t.Fatalf("payment status = %s, want pending when nothing landed", payment.Status)
	}
	if result.PaymentStatus != enums.PaymentStatusPending {
		t.Fatalf("result payment status = %s, want pending", result.PaymentStatus)
	}
}

func TestApplyPaymentToInvoices_NeverExceedsPaymentAmount(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	payment := pendingPayment(tenantID, 10000)
	f.payments.add(payment)
	f.repo.allocations = []*models.PaymentAllocation{{
		ID:          uuid.New(),
		PaymentID:   payment.ID,
		InvoiceID:   uuid.New(),
		AmountCents: 8000,
		Position:    0,
	}}

	_, err := f.svc.ApplyPaymentToInvoices(context.Background(), ApplyToInvoicesInput{
		PaymentID: payment.ID,
		TenantID:  tenantID,
		Amount:    5000,
	})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// seedingTxRunner injects a competing allocation when the transaction opens,
// mimicking a concurrent apply that committed between read and write.
type seedingTxRunner struct {
	repo *fakeAllocationRepo
	seed *models.PaymentAllocation
}

func (r *seedingTxRunner) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	if r.seed != nil {
		r.seed.ID = uuid.New()
		r.repo.allocations = append(r.repo.allocations, r.seed)
		r.seed = nil
	}
	return fn(&gorm.DB{})
}

func TestApplyPaymentToInvoices_ConcurrentApplyCannotOversubscribe(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	invoice := openInvoice(tenantID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10000)
	f.ledger.invoices = []*models.Invoice{invoice}

	payment := pendingPayment(tenantID, 10000)
	f.payments.add(payment)

	runner := &seedingTxRunner{
		repo: f.repo,
		seed: &models.PaymentAllocation{
			PaymentID:   payment.ID,
			InvoiceID:   uuid.New(),
			AmountCents: 8000,
			Position:    0,
		},
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(f.repo, runner, f.ledger, f.payments, f.leases, f.gateway, f.outbox, f.notifier, nil, logg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	_, err = svc.ApplyPaymentToInvoices(context.Background(), ApplyToInvoicesInput{
		PaymentID: payment.ID,
		TenantID:  tenantID,
		Amount:    5000,
	})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if invoice.BalanceRemainingCents != 10000 {
		t.Fatalf("invoice balance = %d, must be untouched", invoice.BalanceRemainingCents)
	}
	if len(f.repo.allocations) != 1 {
		t.Fatalf("allocations = %d, only the competing row may exist", len(f.repo.allocations))
	}
}

func TestApplyPaymentToInvoices_SkipsFailingInvoice(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()

	first := openInvoice(tenantID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10000)
	second := openInvoice(tenantID, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 10000)
	f.ledger.invoices = []*models.Invoice{first, second}
	f.ledger.failWith[first.ID] = pkgerrors.New(pkgerrors.CodeAllocationConflict, "invoice balance changed concurrently")

	payment := pendingPayment(tenantID, 5000)
	f.payments.add(payment)

	result, err := f.svc.ApplyPaymentToInvoices(context.Background(), ApplyToInvoicesInput{
		PaymentID: payment.ID,
		TenantID:  tenantID,
		Amount:    5000,
	})
	if err != nil {
		t.Fatalf("ApplyPaymentToInvoices failed: %v", err)
	}

	if len(result.Errors) != 1 || result.Errors[0].InvoiceID != first.ID {
		t.Fatalf("expected one recorded error for first invoice, got %+v", result.Errors)
	}
	if result.Errors[0].Code != pkgerrors.CodeAllocationConflict {
		t.Fatalf("error code = %s, want allocation conflict", result.Errors[0].Code)
	}
	if !result.Success || result.TotalApplied != 5000 {
		t.Fatalf("second invoice should absorb the amount, got %+v", result)
	}
	if second.BalanceRemainingCents != 5000 {
		t.Fatalf("second invoice balance = %d, want 5000", second.BalanceRemainingCents)
	}
}

func TestApplyPaymentToSingleInvoice_AppliesAndMarksPaid(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	invoice := openInvoice(tenantID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10000)
	f.ledger.invoices = []*models.Invoice{invoice}
	payment := pendingPayment(tenantID, 10000)
	f.payments.add(payment)

	application, err := f.svc.ApplyPaymentToSingleInvoice(context.Background(), ApplySingleInput{
		PaymentID: payment.ID,
		InvoiceID: invoice.ID,
		Amount:    10000,
	})
	if err != nil {
		t.Fatalf("ApplyPaymentToSingleInvoice failed: %v", err)
	}
	if !application.FullyPaid || application.RemainingBalance != 0 {
		t.Fatalf("unexpected application %+v", application)
	}
	if payment.Status != enums.PaymentStatusPaid {
		t.Fatalf("payment status = %s, want paid after application", payment.Status)
	}
}

func TestApplyPaymentToSingleInvoice_NeverExceedsPaymentAmount(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	invoice := openInvoice(tenantID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10000)
	f.ledger.invoices = []*models.Invoice{invoice}
	payment := pendingPayment(tenantID, 10000)
	f.payments.add(payment)
	f.repo.allocations = []*models.PaymentAllocation{{
		ID:          uuid.New(),
		PaymentID:   payment.ID,
		InvoiceID:   uuid.New(),
		AmountCents: 8000,
		Position:    0,
	}}

	_, err := f.svc.ApplyPaymentToSingleInvoice(context.Background(), ApplySingleInput{
		PaymentID: payment.ID,
		InvoiceID: invoice.ID,
		Amount:    5000,
	})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if invoice.BalanceRemainingCents != 10000 {
		t.Fatal("invoice must be untouched after rejected application")
	}
}

func TestApplyPaymentToSingleInvoice_InsufficientBalance(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	invoice := openInvoice(tenantID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 4000)
	f.ledger.invoices = []*models.Invoice{invoice}
	payment := pendingPayment(tenantID, 10000)
	f.payments.add(payment)

	_, err := f.svc.ApplyPaymentToSingleInvoice(context.Background(), ApplySingleInput{
		PaymentID: payment.ID,
		InvoiceID: invoice.ID,
		Amount:    5000,
	})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeInsufficientBalance {
		t.Fatalf("expected insufficient balance error, got %v", err)
	}
	if invoice.BalanceRemainingCents != 4000 {
		t.Fatal("invoice must be untouched after rejected application")
	}
}

func TestReversePaymentApplication_RoundTrip(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()

	january := openInvoice(tenantID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10000)
	february := openInvoice(tenantID, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 10000)
	f.ledger.invoices = []*models.Invoice{january, february}

	payment := pendingPayment(tenantID, 15000)
	payment.Status = enums.PaymentStatusPaid
	f.payments.add(payment)

	if _, err := f.svc.ApplyPaymentToInvoices(context.Background(), ApplyToInvoicesInput{
		PaymentID: payment.ID,
		TenantID:  tenantID,
		Amount:    15000,
	}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	result, err := f.svc.ReversePaymentApplication(context.Background(), ReverseInput{
		PaymentID: payment.ID,
		Reason:    "charge disputed",
	})
	if err != nil {
		t.Fatalf("ReversePaymentApplication failed: %v", err)
	}

	if result.InvoicesAffected != 2 {
		t.Fatalf("invoices affected = %d, want 2", result.InvoicesAffected)
	}
	if result.AmountReversed != 15000 {
		t.Fatalf("amount reversed = %d, want 15000", result.AmountReversed)
	}
	if result.PaymentStatus != enums.PaymentStatusRefunded {
		t.Fatalf("payment status = %s, want refunded", result.PaymentStatus)
	}

	if january.BalanceRemainingCents != 10000 || january.Status != enums.InvoiceStatusIssued {
		t.Fatalf("january not restored: balance=%d status=%s", january.BalanceRemainingCents, january.Status)
	}
	if february.BalanceRemainingCents != 10000 || february.Status != enums.InvoiceStatusIssued {
		t.Fatalf("february not restored: balance=%d status=%s", february.BalanceRemainingCents, february.Status)
	}

	for _, allocation := range f.repo.allocations {
		if allocation.ReversedAt == nil {
			t.Fatal("all allocations must be marked reversed")
		}
	}
	if f.outbox.countByType(enums.EventPaymentRefunded) != 1 {
		t.Fatal("expected one refund event")
	}
}

func TestReversePaymentApplication_NoAllocationsIsNoOp(t *testing.T) {
	f := newFixture(t)
	payment := pendingPayment(uuid.New(), 5000)
	f.payments.add(payment)

	result, err := f.svc.ReversePaymentApplication(context.Background(), ReverseInput{PaymentID: payment.ID})
	if err != nil {
		t.Fatalf("reversal of unallocated payment should succeed: %v", err)
	}
	if result.InvoicesAffected != 0 || result.AmountReversed != 0 {
		t.Fatalf("expected no-op result, got %+v", result)
	}
	if f.outbox.countByType(enums.EventPaymentRefunded) != 0 {
		t.Fatal("no-op reversal must not emit events")
	}
}

func TestRecordManualPayment_AllocatesAndMarksPaid(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	invoice := openInvoice(tenantID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10000)
	f.ledger.invoices = []*models.Invoice{invoice}
	f.leases.lease = &models.Lease{ID: uuid.New(), PropertyID: uuid.New(), TenantID: tenantID, Active: true}

	result, err := f.svc.RecordManualPayment(context.Background(), ManualPaymentInput{
		TenantID:   tenantID,
		Amount:     10000,
		Method:     enums.PaymentMethodCheck,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("RecordManualPayment failed: %v", err)
	}

	if result.Payment.Status != enums.PaymentStatusPaid {
		t.Fatalf("payment status = %s, want paid", result.Payment.Status)
	}
	if result.Result.TotalApplied != 10000 {
		t.Fatalf("total applied = %d, want 10000", result.Result.TotalApplied)
	}
	if invoice.Status != enums.InvoiceStatusPaid {
		t.Fatalf("invoice status = %s, want paid", invoice.Status)
	}
	if len(f.notifier.confirmations) != 1 {
		t.Fatal("expected a payment confirmation")
	}
}

func TestRecordManualPayment_NoContextLeavesNoSideEffects(t *testing.T) {
	f := newFixture(t)
	f.leases.err = pkgerrors.New(pkgerrors.CodeValidation, "no property or lease context could be resolved for tenant")

	_, err := f.svc.RecordManualPayment(context.Background(), ManualPaymentInput{
		TenantID:   uuid.New(),
		Amount:     5000,
		Method:     enums.PaymentMethodCash,
		ReceivedAt: time.Now().UTC(),
	})
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.payments.created != 0 {
		t.Fatal("no payment row may be created when context resolution fails")
	}
	if len(f.repo.allocations) != 0 {
		t.Fatal("no allocations may be recorded when context resolution fails")
	}
}

func TestRecordManualPayment_NothingAcceptsFundsFailsPayment(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	f.leases.lease = &models.Lease{ID: uuid.New(), PropertyID: uuid.New(), TenantID: tenantID, Active: true}

	result, err := f.svc.RecordManualPayment(context.Background(), ManualPaymentInput{
		TenantID:   tenantID,
		Amount:     5000,
		Method:     enums.PaymentMethodCash,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("RecordManualPayment failed: %v", err)
	}
	if result.Payment.Status != enums.PaymentStatusFailed {
		t.Fatalf("payment status = %s, want failed", result.Payment.Status)
	}
	if result.Payment.FailureReason == nil || *result.Payment.FailureReason != "no invoice could accept funds" {
		t.Fatalf("failure reason = %v", result.Payment.FailureReason)
	}
	if len(f.notifier.confirmations) != 0 {
		t.Fatal("failed payment must not trigger a confirmation")
	}
}

func TestProcessPayment_Succeeded(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()
	invoice := openInvoice(tenantID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10000)
	f.ledger.invoices = []*models.Invoice{invoice}
	f.gateway.outcome = &gateway.ChargeOutcome{Status: gateway.OutcomeSucceeded, GatewayChargeID: "pi_123"}

	payment := pendingPayment(tenantID, 10000)
	f.payments.add(payment)

	result, err := f.svc.ProcessPayment(context.Background(), ProcessInput{
		PaymentID:          payment.ID,
		PaymentMethodToken: "pm_card",
		IdempotencyKey:     "idem-1",
	})
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}

	if result.Payment.Status != enums.PaymentStatusPaid {
		t.Fatalf("payment status = %s, want paid", result.Payment.Status)
	}
	if result.Allocation == nil || result.Allocation.TotalApplied != 10000 {
		t.Fatalf("allocation missing or wrong: %+v", result.Allocation)
	}
	if len(f.gateway.charges) != 1 || f.gateway.charges[0].IdempotencyKey != "idem-1" {
		t.Fatal("gateway must be charged once with the idempotency key")
	}
	if len(f.notifier.confirmations) != 1 {
		t.Fatal("expected a payment confirmation")
	}
	if payment.GatewayPaymentID == nil || *payment.GatewayPaymentID != "pi_123" {
		t.Fatalf("gateway payment id = %v, want pi_123", payment.GatewayPaymentID)
	}
}

func TestProcessPayment_RequiresAction(t *testing.T) {
	f := newFixture(t)
	f.gateway.outcome = &gateway.ChargeOutcome{Status: gateway.OutcomeRequiresAction, GatewayChargeID: "pi_456"}

	payment := pendingPayment(uuid.New(), 10000)
	f.payments.add(payment)

	result, err := f.svc.ProcessPayment(context.Background(), ProcessInput{PaymentID: payment.ID})
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}

	if !result.RequiresAction {
		t.Fatal("expected requires-action result")
	}
	if result.Payment.Status != enums.PaymentStatusProcessing {
		t.Fatalf("payment status = %s, want processing", result.Payment.Status)
	}
	if len(f.repo.allocations) != 0 {
		t.Fatal("no allocation may happen before the charge settles")
	}
	if result.Payment.GatewayPaymentID == nil || *result.Payment.GatewayPaymentID != "pi_456" {
		t.Fatal("gateway charge id must be recorded while the charge is parked")
	}
}

func TestProcessPayment_FailedRecordsDecline(t *testing.T) {
	f := newFixture(t)
	f.gateway.outcome = &gateway.ChargeOutcome{
		Status:         gateway.OutcomeFailed,
		DeclineCode:    "card_declined",
		FailureMessage: "Your card was declined.",
	}

	payment := pendingPayment(uuid.New(), 10000)
	f.payments.add(payment)

	result, err := f.svc.ProcessPayment(context.Background(), ProcessInput{PaymentID: payment.ID})
	if err != nil {
		t.Fatalf("ProcessPayment failed: %v", err)
	}

	if result.Payment.Status != enums.PaymentStatusFailed {
		t.Fatalf("payment status = %s, want failed", result.Payment.Status)
	}
	if result.Payment.FailureReason == nil || *result.Payment.FailureReason != "card_declined" {
		t.Fatalf("failure reason = %v, want card_declined", result.Payment.FailureReason)
	}
	if len(f.notifier.failures) != 1 || f.notifier.failures[0] != "card_declined" {
		t.Fatalf("failure notification = %v", f.notifier.failures)
	}
}

func TestGetPaymentAllocation_ReportTotalsAndOverdueDays(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()

	overdue := openInvoice(tenantID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10000)
	current := openInvoice(tenantID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), 6000)
	f.ledger.invoices = []*models.Invoice{current, overdue}

	svc := f.svc.(*service)
	svc.now = func() time.Time { return time.Date(2024, 1, 11, 12, 0, 0, 0, time.UTC) }

	report, err := f.svc.GetPaymentAllocation(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("GetPaymentAllocation failed: %v", err)
	}

	if report.TotalOutstanding != 16000 {
		t.Fatalf("total outstanding = %d, want 16000", report.TotalOutstanding)
	}
	if len(report.Invoices) != 2 {
		t.Fatalf("invoices = %d, want 2", len(report.Invoices))
	}
	if report.Invoices[0].InvoiceID != overdue.ID || report.Invoices[0].DaysOverdue != 10 {
		t.Fatalf("first line should be the overdue invoice with 10 days, got %+v", report.Invoices[0])
	}
	if report.Invoices[1].DaysOverdue != 0 {
		t.Fatalf("future invoice days overdue = %d, want 0", report.Invoices[1].DaysOverdue)
	}
}

func TestListAllocationHistory_IncludesReversedRows(t *testing.T) {
	f := newFixture(t)
	tenantID := uuid.New()

	january := openInvoice(tenantID, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10000)
	february := openInvoice(tenantID, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 10000)
	f.ledger.invoices = []*models.Invoice{january, february}

	payment := pendingPayment(tenantID, 15000)
	f.payments.add(payment)

	if _, err := f.svc.ApplyPaymentToInvoices(context.Background(), ApplyToInvoicesInput{
		PaymentID: payment.ID,
		TenantID:  tenantID,
		Amount:    15000,
	}); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if _, err := f.svc.ReversePaymentApplication(context.Background(), ReverseInput{
		PaymentID: payment.ID,
		Reason:    "entered against the wrong tenant",
	}); err != nil {
		t.Fatalf("reverse failed: %v", err)
	}

	history, err := f.svc.ListAllocationHistory(context.Background(), payment.ID)
	if err != nil {
		t.Fatalf("ListAllocationHistory failed: %v", err)
	}
	if history.TenantID != tenantID {
		t.Fatalf("tenant id = %s, want %s", history.TenantID, tenantID)
	}
	if len(history.Allocations) != 2 {
		t.Fatalf("allocations = %d, want 2 including reversed rows", len(history.Allocations))
	}
	for _, allocation := range history.Allocations {
		if allocation.ReversedAt == nil {
			t.Fatal("reversed allocations must keep their reversal timestamp in history")
		}
	}
	if history.Allocations[0].Position != 0 || history.Allocations[1].Position != 1 {
		t.Fatal("history must preserve application order")
	}
}

func TestListAllocationHistory_UnknownPayment(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListAllocationHistory(context.Background(), uuid.New())
	if pkgerrors.As(err) == nil || pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}
