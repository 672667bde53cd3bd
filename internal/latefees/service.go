package latefees

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/internal/invoices"
	"github.com/rentledger/rentledger-backend/pkg/dates"
	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
	"github.com/rentledger/rentledger-backend/pkg/outbox"
)

// Calculation is the derived late-fee result. Calculate is a pure read;
// nothing is persisted until Apply.
type Calculation struct {
	Amount         money.Cents
	GracePeriodEnd time.Time
	DaysLate       int
	FeeStructure   FeeStructure
	Waived         bool
}

// CalculateInput pairs an invoice's amount and due date with the property
// policy in force.
type CalculateInput struct {
	Config        Config
	InvoiceAmount money.Cents
	DueDate       time.Time
	Now           time.Time
}

// ApplyInput mutates an invoice with a previously calculated fee.
type ApplyInput struct {
	InvoiceID   uuid.UUID
	PaymentID   *uuid.UUID
	Calculation *Calculation
}

// Notifier is the fire-and-forget late-fee notification hook. Failures are
// logged, never surfaced.
type Notifier interface {
	NotifyLateFee(ctx context.Context, invoiceID uuid.UUID, amount money.Cents)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service calculates and applies late fees.
type Service interface {
	Calculate(ctx context.Context, input CalculateInput) (*Calculation, error)
	Apply(ctx context.Context, input ApplyInput) (*models.Invoice, error)
}

type service struct {
	tx       txRunner
	invoices invoices.Service
	outbox   outboxPublisher
	notifier Notifier
	logg     *logger.Logger
	now      func() time.Time
}

// NewService wires the late-fee calculator. The notifier is optional.
func NewService(tx txRunner, invoicesSvc invoices.Service, outboxSvc outboxPublisher, notifier Notifier, logg *logger.Logger) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if invoicesSvc == nil {
		return nil, fmt.Errorf("invoices service required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:       tx,
		invoices: invoicesSvc,
		outbox:   outboxSvc,
		notifier: notifier,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// Calculate returns nil when the policy is disabled or the obligation is
// still inside its grace window. The first day past the grace window counts
// toward daysLate, as does the evaluation day itself.
func (s *service) Calculate(_ context.Context, input CalculateInput) (*Calculation, error) {
	if err := input.Config.Validate(); err != nil {
		return nil, err
	}
	if input.DueDate.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "due date is required")
	}
	if input.InvoiceAmount < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice amount cannot be negative")
	}

	if !input.Config.Enabled {
		return nil, nil
	}

	now := input.Now
	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC()
	due := dates.MidnightUTC(input.DueDate)
	graceEnd := dates.GracePeriodEnd(due, input.Config.GracePeriodDays)

	if !now.After(graceEnd) {
		return nil, nil
	}

	daysLate := dates.WholeDaysBetween(due, now) - input.Config.GracePeriodDays + 1
	if daysLate < 0 {
		daysLate = 0
	}

	amount := input.Config.FeeStructure.amountFor(input.InvoiceAmount, daysLate)
	if input.Config.MaximumFeeCents != nil {
		amount = money.Min(amount, money.Cents(*input.Config.MaximumFeeCents))
	}

	return &Calculation{
		Amount:         amount,
		GracePeriodEnd: graceEnd,
		DaysLate:       daysLate,
		FeeStructure:   input.Config.FeeStructure,
	}, nil
}

// Apply writes the fee onto the invoice and queues a latefee.applied event in
// the same transaction. A waived or zero-amount calculation is a no-op.
func (s *service) Apply(ctx context.Context, input ApplyInput) (*models.Invoice, error) {
	if input.InvoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	if input.Calculation == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "calculation is required")
	}
	if input.Calculation.Waived || input.Calculation.Amount <= 0 {
		return s.invoices.GetByID(ctx, input.InvoiceID)
	}

	assessedAt := s.now().UTC()
	var updated *models.Invoice

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		invoice, err := s.invoices.ApplyLateFee(ctx, tx, input.InvoiceID, input.Calculation.Amount, assessedAt)
		if err != nil {
			return err
		}
		updated = invoice

		payload := map[string]any{
			"invoice_id":   invoice.ID,
			"tenant_id":    invoice.TenantID,
			"amount_cents": int64(input.Calculation.Amount),
			"days_late":    input.Calculation.DaysLate,
			"fee_type":     input.Calculation.FeeStructure.Type,
		}
		if input.PaymentID != nil {
			payload["payment_id"] = *input.PaymentID
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventLateFeeApplied,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoice.ID,
			Data:          payload,
			Version:       1,
			OccurredAt:    assessedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.NotifyLateFee(ctx, updated.ID, input.Calculation.Amount)
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"invoice_id":   updated.ID.String(),
		"amount_cents": int64(input.Calculation.Amount),
		"days_late":    input.Calculation.DaysLate,
	})
	s.logg.Info(logCtx, "late fee applied")

	return updated, nil
}
