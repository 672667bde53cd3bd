package invoices

import (
	"context"
	stdErrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/money"
)

// Service is the invoice ledger. It is the only writer of amount_paid,
// balance_remaining and status; callers hand it a transaction and record
// allocations themselves.
type Service interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListOutstanding(ctx context.Context, tenantID uuid.UUID, leaseID *uuid.UUID) ([]models.Invoice, error)
	ApplyPayment(ctx context.Context, tx *gorm.DB, input ApplyPaymentInput) (*ApplyPaymentResult, error)
	ReverseAllocation(ctx context.Context, tx *gorm.DB, input ReverseAllocationInput) (*models.Invoice, error)
	ApplyLateFee(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID, amount money.Cents, assessedAt time.Time) (*models.Invoice, error)
	MarkOverdue(ctx context.Context, invoiceID uuid.UUID) (bool, error)
}

// ApplyPaymentInput identifies the target invoice and the slice of a payment
// to land on it.
type ApplyPaymentInput struct {
	InvoiceID uuid.UUID
	PaymentID uuid.UUID
	Amount    money.Cents
}

// ApplyPaymentResult reports the post-application balance.
type ApplyPaymentResult struct {
	Invoice          *models.Invoice
	RemainingBalance money.Cents
	FullyPaid        bool
}

// ReverseAllocationInput undoes a previously recorded allocation amount.
type ReverseAllocationInput struct {
	InvoiceID uuid.UUID
	Amount    money.Cents
}

type service struct {
	repo Repository
	now  func() time.Time
}

// NewService wires the invoice ledger with its repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("invoices repository required")
	}
	return &service{repo: repo, now: time.Now}, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	invoice, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading invoice")
	}
	return invoice, nil
}

func (s *service) ListOutstanding(ctx context.Context, tenantID uuid.UUID, leaseID *uuid.UUID) ([]models.Invoice, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	invoices, err := s.repo.ListOutstanding(ctx, tenantID, leaseID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing outstanding invoices")
	}
	return invoices, nil
}

// ApplyPayment decrements the invoice balance inside the caller's
// transaction. The precondition is evaluated against a fresh read; if the
// guarded update still misses, another allocation won the race and the caller
// gets a retryable conflict.
func (s *service) ApplyPayment(ctx context.Context, tx *gorm.DB, input ApplyPaymentInput) (*ApplyPaymentResult, error) {
	if input.InvoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	repo := s.repo.WithTx(tx)

	invoice, err := s.getForUpdate(ctx, repo, input.InvoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.Status.AcceptsPayment() {
		return nil, pkgerrors.New(pkgerrors.CodeAllocation, "invoice not open for payment").
			WithDetails(map[string]any{"invoice_id": invoice.ID, "status": invoice.Status})
	}
	if int64(input.Amount) > invoice.BalanceRemainingCents {
		return nil, pkgerrors.New(pkgerrors.CodeAllocation, "amount exceeds balance").
			WithDetails(map[string]any{
				"invoice_id":        invoice.ID,
				"amount_cents":      int64(input.Amount),
				"balance_remaining": invoice.BalanceRemainingCents,
			})
	}

	applied, err := repo.ApplyAmount(ctx, input.InvoiceID, int64(input.Amount))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "applying payment amount")
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeAllocationConflict, "invoice balance changed concurrently").
			WithDetails(map[string]any{"invoice_id": invoice.ID})
	}

	updated, err := s.getForUpdate(ctx, repo, input.InvoiceID)
	if err != nil {
		return nil, err
	}

	status, paidDate := s.deriveStatus(updated)
	if err := repo.SetStatus(ctx, updated.ID, status, paidDate); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating invoice status")
	}
	updated.Status = status
	updated.PaidDate = paidDate

	return &ApplyPaymentResult{
		Invoice:          updated,
		RemainingBalance: money.Cents(updated.BalanceRemainingCents),
		FullyPaid:        updated.BalanceRemainingCents == 0,
	}, nil
}

// ReverseAllocation is the inverse of ApplyPayment for one recorded amount.
// Idempotence against double-reversal rests on the caller only reversing
// amounts it has on record.
func (s *service) ReverseAllocation(ctx context.Context, tx *gorm.DB, input ReverseAllocationInput) (*models.Invoice, error) {
	if input.InvoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	repo := s.repo.WithTx(tx)

	invoice, err := s.getForUpdate(ctx, repo, input.InvoiceID)
	if err != nil {
		return nil, err
	}
	if int64(input.Amount) > invoice.AmountPaidCents {
		return nil, pkgerrors.New(pkgerrors.CodeAllocation, "reversal exceeds amount paid").
			WithDetails(map[string]any{
				"invoice_id":   invoice.ID,
				"amount_cents": int64(input.Amount),
				"amount_paid":  invoice.AmountPaidCents,
			})
	}

	reversed, err := repo.ReverseAmount(ctx, input.InvoiceID, int64(input.Amount))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reversing allocation amount")
	}
	if !reversed {
		return nil, pkgerrors.New(pkgerrors.CodeAllocationConflict, "invoice changed concurrently").
			WithDetails(map[string]any{"invoice_id": invoice.ID})
	}

	updated, err := s.getForUpdate(ctx, repo, input.InvoiceID)
	if err != nil {
		return nil, err
	}

	status, paidDate := s.deriveStatus(updated)
	if err := repo.SetStatus(ctx, updated.ID, status, paidDate); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating invoice status")
	}
	updated.Status = status
	updated.PaidDate = paidDate
	return updated, nil
}

func (s *service) ApplyLateFee(ctx context.Context, tx *gorm.DB, invoiceID uuid.UUID, amount money.Cents, assessedAt time.Time) (*models.Invoice, error) {
	if invoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	if amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "late fee amount must be positive")
	}

	repo := s.repo.WithTx(tx)

	applied, err := repo.ApplyLateFee(ctx, invoiceID, int64(amount), assessedAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "applying late fee")
	}
	if !applied {
		return nil, pkgerrors.New(pkgerrors.CodeAllocation, "invoice not open for late fee").
			WithDetails(map[string]any{"invoice_id": invoiceID})
	}
	return s.getForUpdate(ctx, repo, invoiceID)
}

func (s *service) MarkOverdue(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	if invoiceID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	flipped, err := s.repo.MarkOverdue(ctx, invoiceID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marking invoice overdue")
	}
	return flipped, nil
}

func (s *service) getForUpdate(ctx context.Context, repo Repository, id uuid.UUID) (*models.Invoice, error) {
	invoice, err := repo.GetByID(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading invoice")
	}
	return invoice, nil
}

// deriveStatus recomputes the invoice status from its balance. A cancelled
// invoice is left alone.
func (s *service) deriveStatus(invoice *models.Invoice) (enums.InvoiceStatus, *time.Time) {
	if invoice.Status == enums.InvoiceStatusCancelled {
		return invoice.Status, invoice.PaidDate
	}

	switch {
	case invoice.BalanceRemainingCents == 0:
		paidDate := invoice.PaidDate
		if paidDate == nil {
			now := s.now().UTC()
			paidDate = &now
		}
		return enums.InvoiceStatusPaid, paidDate
	case invoice.BalanceRemainingCents == invoice.AmountDueCents:
		return enums.InvoiceStatusIssued, nil
	default:
		return enums.InvoiceStatusPartial, nil
	}
}
