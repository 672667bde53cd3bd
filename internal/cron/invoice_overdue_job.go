package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/internal/payments"
	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/outbox"
)

const overdueBatchSize = 500

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type outboxExistenceChecker interface {
	Exists(ctx context.Context, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) (bool, error)
}

type overdueInvoiceLister interface {
	ListOverdueCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Invoice, error)
}

type overdueInvoiceMarker interface {
	MarkOverdue(ctx context.Context, invoiceID uuid.UUID) (bool, error)
}

type overduePaymentLister interface {
	ListOverduePending(ctx context.Context, asOf time.Time, limit int) ([]models.Payment, error)
}

type paymentTransitioner interface {
	Transition(ctx context.Context, input payments.TransitionInput) (*models.Payment, error)
}

// InvoiceOverdueJobParams configure the overdue sweep.
type InvoiceOverdueJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	InvoiceRepo overdueInvoiceLister
	Invoices    overdueInvoiceMarker
	PaymentRepo overduePaymentLister
	Payments    paymentTransitioner
	Outbox      outboxEmitter
	OutboxRepo  outboxExistenceChecker
	BatchSize   int
}

// NewInvoiceOverdueJob builds the job that flips past-due invoices to overdue
// and ages out stale pending payments.
func NewInvoiceOverdueJob(params InvoiceOverdueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.InvoiceRepo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Invoices == nil {
		return nil, fmt.Errorf("invoice service required")
	}
	if params.PaymentRepo == nil {
		return nil, fmt.Errorf("payment repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.OutboxRepo == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = overdueBatchSize
	}
	return &invoiceOverdueJob{
		logg:        params.Logger,
		db:          params.DB,
		invoiceRepo: params.InvoiceRepo,
		invoices:    params.Invoices,
		paymentRepo: params.PaymentRepo,
		payments:    params.Payments,
		outbox:      params.Outbox,
		outboxRepo:  params.OutboxRepo,
		batchSize:   batchSize,
		now:         time.Now,
	}, nil
}

type invoiceOverdueJob struct {
	logg        *logger.Logger
	db          txRunner
	invoiceRepo overdueInvoiceLister
	invoices    overdueInvoiceMarker
	paymentRepo overduePaymentLister
	payments    paymentTransitioner
	outbox      outboxEmitter
	outboxRepo  outboxExistenceChecker
	batchSize   int
	now         func() time.Time
}

func (j *invoiceOverdueJob) Name() string { return "invoice-overdue" }

func (j *invoiceOverdueJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.flipOverdueInvoices(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.ageOutPendingPayments(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *invoiceOverdueJob) flipOverdueInvoices(ctx context.Context) error {
	asOf := j.now().UTC()
	candidates, err := j.invoiceRepo.ListOverdueCandidates(ctx, asOf, j.batchSize)
	if err != nil {
		return fmt.Errorf("query overdue candidates: %w", err)
	}

	var errs []error
	flipped := 0
	for _, invoice := range candidates {
		moved, err := j.invoices.MarkOverdue(ctx, invoice.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("mark invoice %s overdue: %w", invoice.ID, err))
			continue
		}
		if !moved {
			continue
		}
		if err := j.emitInvoiceOverdue(ctx, invoice, asOf); err != nil {
			errs = append(errs, err)
			continue
		}
		flipped++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"flipped":    flipped,
	})
	j.logg.Info(logCtx, "overdue invoice sweep complete")
	return multierr.Combine(errs...)
}

func (j *invoiceOverdueJob) emitInvoiceOverdue(ctx context.Context, invoice models.Invoice, asOf time.Time) error {
	exists, err := j.outboxRepo.Exists(ctx, enums.EventInvoiceOverdue, enums.AggregateInvoice, invoice.ID)
	if err != nil {
		return fmt.Errorf("check overdue event existence: %w", err)
	}
	if exists {
		return nil
	}
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		return j.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceOverdue,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			Version:       1,
			OccurredAt:    asOf,
			Data: InvoiceOverdueEvent{
				InvoiceID:      invoice.ID,
				TenantID:       invoice.TenantID,
				LeaseID:        invoice.LeaseID,
				BalanceCents:   invoice.BalanceRemainingCents,
				DueDate:        invoice.DueDate,
				MarkedOverdue: asOf,
			},
		})
	})
}

func (j *invoiceOverdueJob) ageOutPendingPayments(ctx context.Context) error {
	asOf := j.now().UTC()
	stale, err := j.paymentRepo.ListOverduePending(ctx, asOf, j.batchSize)
	if err != nil {
		return fmt.Errorf("query stale pending payments: %w", err)
	}

	var errs []error
	aged := 0
	for _, payment := range stale {
		if _, err := j.payments.Transition(ctx, payments.TransitionInput{
			PaymentID: payment.ID,
			To:        enums.PaymentStatusOverdue,
			Reason:    "payment aged out while pending",
		}); err != nil {
			errs = append(errs, fmt.Errorf("age out payment %s: %w", payment.ID, err))
			continue
		}
		aged++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(stale),
		"aged_out":   aged,
	})
	j.logg.Info(logCtx, "pending payment sweep complete")
	return multierr.Combine(errs...)
}

// InvoiceOverdueEvent describes the payload when an invoice passes its due date.
type InvoiceOverdueEvent struct {
	InvoiceID     uuid.UUID `json:"invoice_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	LeaseID       uuid.UUID `json:"lease_id"`
	BalanceCents  int64     `json:"balance_cents"`
	DueDate       time.Time `json:"due_date"`
	MarkedOverdue time.Time `json:"marked_overdue"`
}
