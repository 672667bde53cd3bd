package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/internal/invoices"
	"github.com/rentledger/rentledger-backend/internal/payments"
	"github.com/rentledger/rentledger-backend/pkg/dates"
	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/gateway"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/metrics"
	"github.com/rentledger/rentledger-backend/pkg/money"
	"github.com/rentledger/rentledger-backend/pkg/outbox"
)

// Service is the payment-invoice linking orchestrator: it selects invoices by
// priority, drives the ledger and the state machine, and owns the
// allocations list end to end.
type Service interface {
	ApplyPaymentToInvoices(ctx context.Context, input ApplyToInvoicesInput) (*LinkResult, error)
	ApplyPaymentToSingleInvoice(ctx context.Context, input ApplySingleInput) (*PaymentApplication, error)
	ReversePaymentApplication(ctx context.Context, input ReverseInput) (*ReverseResult, error)
	RecordManualPayment(ctx context.Context, input ManualPaymentInput) (*ManualPaymentResult, error)
	ProcessPayment(ctx context.Context, input ProcessInput) (*ProcessResult, error)
	GetPaymentAllocation(ctx context.Context, tenantID uuid.UUID) (*AllocationReport, error)
	ListAllocationHistory(ctx context.Context, paymentID uuid.UUID) (*AllocationHistory, error)
}

// ApplyToInvoicesInput distributes amount across a tenant's outstanding
// invoices oldest obligation first.
type ApplyToInvoicesInput struct {
	PaymentID uuid.UUID
	TenantID  uuid.UUID
	Amount    money.Cents
	LeaseID   *uuid.UUID
	ActorID   *uuid.UUID
}

// ApplySingleInput targets one invoice directly, bypassing priority ordering.
type ApplySingleInput struct {
	PaymentID uuid.UUID
	InvoiceID uuid.UUID
	Amount    money.Cents
	ActorID   *uuid.UUID
}

// ReverseInput undoes every recorded allocation of a payment.
type ReverseInput struct {
	PaymentID uuid.UUID
	Reason    string
	ActorID   *uuid.UUID
}

// ManualPaymentInput records an operator-entered payment and allocates it.
type ManualPaymentInput struct {
	TenantID   uuid.UUID
	Amount     money.Cents
	Method     enums.PaymentMethod
	LeaseID    *uuid.UUID
	InvoiceID  *uuid.UUID
	Memo       *string
	ReceivedAt time.Time
	ActorID    *uuid.UUID
}

// ProcessInput runs a pending payment through the gateway.
type ProcessInput struct {
	PaymentID          uuid.UUID
	PaymentMethodToken string
	IdempotencyKey     string
}

// PaymentApplication is one recorded slice of a payment landing on an invoice.
type PaymentApplication struct {
	InvoiceID        uuid.UUID   `json:"invoice_id"`
	AmountApplied    money.Cents `json:"amount_applied_cents"`
	RemainingBalance money.Cents `json:"remaining_balance_cents"`
	FullyPaid        bool        `json:"fully_paid"`
}

// ApplicationError records a per-invoice failure inside a multi-invoice
// allocation. The loop continues past these.
type ApplicationError struct {
	InvoiceID uuid.UUID      `json:"invoice_id"`
	Code      pkgerrors.Code `json:"code"`
	Message   string         `json:"message"`
}

// LinkResult describes a whole allocation pass. Success means at least some
// amount landed.
type LinkResult struct {
	Success                bool                 `json:"success"`
	TotalApplied           money.Cents          `json:"total_applied_cents"`
	RemainingPaymentAmount money.Cents          `json:"remaining_payment_amount_cents"`
	PaymentStatus          enums.PaymentStatus  `json:"payment_status,omitempty"`
	Applications           []PaymentApplication `json:"applications"`
	Errors                 []ApplicationError   `json:"errors,omitempty"`
}

// ReverseResult reports a reversal. Zero affected invoices is a valid no-op.
type ReverseResult struct {
	PaymentID        uuid.UUID           `json:"payment_id"`
	InvoicesAffected int                 `json:"invoices_affected"`
	AmountReversed   money.Cents         `json:"amount_reversed_cents"`
	PaymentStatus    enums.PaymentStatus `json:"payment_status"`
}

// ManualPaymentResult pairs the created payment with its allocation outcome.
type ManualPaymentResult struct {
	Payment *models.Payment `json:"payment"`
	Result  *LinkResult     `json:"result"`
}

// ProcessResult reports a gateway charge attempt. RequiresAction means the
// payment stays in processing until the tenant completes authentication.
type ProcessResult struct {
	Payment        *models.Payment       `json:"payment"`
	Outcome        gateway.OutcomeStatus `json:"outcome"`
	RequiresAction bool                  `json:"requires_action"`
	Allocation     *LinkResult           `json:"allocation,omitempty"`
}

// OutstandingInvoice is one line of the tenant outstanding-balance report.
type OutstandingInvoice struct {
	InvoiceID   uuid.UUID           `json:"invoice_id"`
	Description string              `json:"description"`
	DueDate     time.Time           `json:"due_date"`
	AmountDue   money.Cents         `json:"amount_due_cents"`
	Balance     money.Cents         `json:"balance_remaining_cents"`
	Status      enums.InvoiceStatus `json:"status"`
	DaysOverdue int                 `json:"days_overdue"`
}

// AllocationReport is the read-only outstanding-balance view for a tenant.
type AllocationReport struct {
	TenantID         uuid.UUID            `json:"tenant_id"`
	TotalOutstanding money.Cents          `json:"total_outstanding_cents"`
	Invoices         []OutstandingInvoice `json:"invoices"`
}

// AllocationHistory is the full allocation record of one payment, reversed
// rows included, in application order.
type AllocationHistory struct {
	PaymentID   uuid.UUID                  `json:"payment_id"`
	TenantID    uuid.UUID                  `json:"tenant_id"`
	Allocations []models.PaymentAllocation `json:"allocations"`
}

// InvoiceLedger is the slice of the invoice service the orchestrator drives.
type InvoiceLedger interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListOutstanding(ctx context.Context, tenantID uuid.UUID, leaseID *uuid.UUID) ([]models.Invoice, error)
	ApplyPayment(ctx context.Context, tx *gorm.DB, input invoices.ApplyPaymentInput) (*invoices.ApplyPaymentResult, error)
	ReverseAllocation(ctx context.Context, tx *gorm.DB, input invoices.ReverseAllocationInput) (*models.Invoice, error)
}

// PaymentStateMachine is the slice of the payment service the orchestrator
// drives.
type PaymentStateMachine interface {
	Create(ctx context.Context, tx *gorm.DB, input payments.CreatePaymentInput) (*models.Payment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	TransitionTx(ctx context.Context, tx *gorm.DB, input payments.TransitionInput) (*models.Payment, error)
	AttachGatewayCharge(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, gatewayChargeID string) error
}

// LeaseResolver derives property/lease context for manual payments.
type LeaseResolver interface {
	ResolveLeaseContext(ctx context.Context, tenantID uuid.UUID, leaseID *uuid.UUID) (*models.Lease, error)
}

// Notifier is the fire-and-forget notification hook. Failures never bubble up.
type Notifier interface {
	NotifyPaymentConfirmation(ctx context.Context, paymentID uuid.UUID)
	NotifyPaymentFailure(ctx context.Context, paymentID uuid.UUID, reason string)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo     Repository
	tx       txRunner
	ledger   InvoiceLedger
	payments PaymentStateMachine
	leases   LeaseResolver
	gateway  gateway.Gateway
	outbox   outboxPublisher
	notifier Notifier
	metrics  *metrics.AllocationMetrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService wires the orchestrator. The gateway, notifier and metrics are
// optional; everything else is required.
func NewService(
	repo Repository,
	tx txRunner,
	ledger InvoiceLedger,
	paymentsSvc PaymentStateMachine,
	leasesSvc LeaseResolver,
	gw gateway.Gateway,
	outboxSvc outboxPublisher,
	notifier Notifier,
	allocationMetrics *metrics.AllocationMetrics,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("allocations repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("invoice ledger required")
	}
	if paymentsSvc == nil {
		return nil, fmt.Errorf("payment state machine required")
	}
	if leasesSvc == nil {
		return nil, fmt.Errorf("lease resolver required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		ledger:   ledger,
		payments: paymentsSvc,
		leases:   leasesSvc,
		gateway:  gw,
		outbox:   outboxSvc,
		notifier: notifier,
		metrics:  allocationMetrics,
		logg:     logg,
		now:      time.Now,
	}, nil
}

// ApplyPaymentToInvoices walks the tenant's outstanding invoices in
// (due_date, created_at) order and applies the amount until exhausted. One
// failing invoice is recorded and skipped, never aborts the pass. A pass
// that lands funds settles the payment to paid.
func (s *service) ApplyPaymentToInvoices(ctx context.Context, input ApplyToInvoicesInput) (*LinkResult, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	payment, err := s.payments.GetByID(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.TenantID != input.TenantID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment does not belong to tenant")
	}

	var result *LinkResult
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		link, txErr := s.allocateByPriority(ctx, tx, payment, input.TenantID, input.LeaseID, input.Amount)
		if txErr != nil {
			return txErr
		}
		link.PaymentStatus = payment.Status
		if link.TotalApplied > 0 {
			settled, txErr := s.settlePayment(ctx, tx, payment, input.ActorID)
			if txErr != nil {
				return txErr
			}
			link.PaymentStatus = settled.Status
		}
		result = link
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyPaymentToSingleInvoice is the operator-directed variant. Unlike the
// priority loop it fails hard when the invoice cannot absorb the amount. A
// successful application settles the payment to paid.
func (s *service) ApplyPaymentToSingleInvoice(ctx context.Context, input ApplySingleInput) (*PaymentApplication, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if input.InvoiceID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	payment, err := s.payments.GetByID(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}

	var application *PaymentApplication
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		app, txErr := s.applySingle(ctx, tx, payment, input.InvoiceID, input.Amount)
		if txErr != nil {
			return txErr
		}
		if _, txErr := s.settlePayment(ctx, tx, payment, input.ActorID); txErr != nil {
			return txErr
		}
		application = app
		return nil
	})
	if err != nil {
		return nil, err
	}
	return application, nil
}

// ReversePaymentApplication replays the recorded allocation amounts in
// reverse, restoring every touched invoice, and flips a paid payment to
// refunded. A payment with no recorded allocations is a no-op.
func (s *service) ReversePaymentApplication(ctx context.Context, input ReverseInput) (*ReverseResult, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	payment, err := s.payments.GetByID(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}

	result := &ReverseResult{PaymentID: payment.ID, PaymentStatus: payment.Status}
	reversedAt := s.now().UTC()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		allocations, err := repo.ListActiveByPaymentID(ctx, payment.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing allocations")
		}

		for _, allocation := range allocations {
			if _, err := s.ledger.ReverseAllocation(ctx, tx, invoices.ReverseAllocationInput{
				InvoiceID: allocation.InvoiceID,
				Amount:    money.Cents(allocation.AmountCents),
			}); err != nil {
				return err
			}
			marked, err := repo.MarkReversed(ctx, allocation.ID, reversedAt)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "marking allocation reversed")
			}
			if !marked {
				return pkgerrors.New(pkgerrors.CodeAllocationConflict, "allocation reversed concurrently").
					WithDetails(map[string]any{"allocation_id": allocation.ID})
			}
			result.InvoicesAffected++
			result.AmountReversed += money.Cents(allocation.AmountCents)
		}

		if payment.Status == enums.PaymentStatusPaid {
			reason := input.Reason
			if reason == "" {
				reason = "payment application reversed"
			}
			updated, err := s.payments.TransitionTx(ctx, tx, payments.TransitionInput{
				PaymentID: payment.ID,
				To:        enums.PaymentStatusRefunded,
				Reason:    reason,
				ActorID:   input.ActorID,
			})
			if err != nil {
				return err
			}
			result.PaymentStatus = updated.Status
		}

		if result.InvoicesAffected == 0 {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRefunded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Data: map[string]any{
				"payment_id":        payment.ID,
				"tenant_id":         payment.TenantID,
				"invoices_affected": result.InvoicesAffected,
				"amount_reversed":   int64(result.AmountReversed),
				"reason":            input.Reason,
			},
			Version:    1,
			OccurredAt: reversedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"payment_id":        payment.ID.String(),
		"invoices_affected": result.InvoicesAffected,
		"amount_reversed":   int64(result.AmountReversed),
	})
	s.logg.Info(logCtx, "payment application reversed")

	return result, nil
}

// RecordManualPayment resolves lease context, creates the payment row, and
// allocates it, all in one transaction so a resolution failure leaves no side
// effects. Payments that land nothing are marked failed.
func (s *service) RecordManualPayment(ctx context.Context, input ManualPaymentInput) (*ManualPaymentResult, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	var (
		propertyID uuid.UUID
		leaseID    *uuid.UUID
	)
	if input.InvoiceID != nil {
		invoice, err := s.ledger.GetByID(ctx, *input.InvoiceID)
		if err != nil {
			return nil, err
		}
		if invoice.TenantID != input.TenantID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invoice does not belong to tenant")
		}
		propertyID = invoice.PropertyID
		leaseID = &invoice.LeaseID
	} else {
		lease, err := s.leases.ResolveLeaseContext(ctx, input.TenantID, input.LeaseID)
		if err != nil {
			return nil, err
		}
		propertyID = lease.PropertyID
		leaseID = &lease.ID
	}

	result := &ManualPaymentResult{}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		payment, err := s.payments.Create(ctx, tx, payments.CreatePaymentInput{
			TenantID:   input.TenantID,
			PropertyID: &propertyID,
			LeaseID:    leaseID,
			Amount:     input.Amount,
			Method:     input.Method,
			Memo:       input.Memo,
			ReceivedAt: input.ReceivedAt,
			ActorID:    input.ActorID,
		})
		if err != nil {
			return err
		}

		if _, err := s.payments.TransitionTx(ctx, tx, payments.TransitionInput{
			PaymentID: payment.ID,
			To:        enums.PaymentStatusProcessing,
			Reason:    "manual payment recorded",
			ActorID:   input.ActorID,
		}); err != nil {
			return err
		}

		var link *LinkResult
		if input.InvoiceID != nil {
			application, err := s.applySingle(ctx, tx, payment, *input.InvoiceID, input.Amount)
			if err != nil {
				return err
			}
			link = &LinkResult{
				Success:      true,
				TotalApplied: application.AmountApplied,
				Applications: []PaymentApplication{*application},
			}
		} else {
			link, err = s.allocateByPriority(ctx, tx, payment, input.TenantID, input.LeaseID, input.Amount)
			if err != nil {
				return err
			}
		}

		target := enums.PaymentStatusPaid
		reason := "manual payment allocated"
		var failureReason *string
		if link.TotalApplied == 0 {
			target = enums.PaymentStatusFailed
			reason = "no invoice could accept funds"
			failureReason = &reason
		}
		updated, err := s.payments.TransitionTx(ctx, tx, payments.TransitionInput{
			PaymentID:     payment.ID,
			To:            target,
			Reason:        reason,
			ActorID:       input.ActorID,
			FailureReason: failureReason,
		})
		if err != nil {
			return err
		}

		result.Payment = updated
		result.Result = link
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil && result.Result.Success {
		s.notifier.NotifyPaymentConfirmation(ctx, result.Payment.ID)
	}
	return result, nil
}

// ProcessPayment pushes a pending payment through the gateway and consumes
// the tri-state outcome: succeeded allocates and marks paid,
// requires_action parks the payment in processing, failed records the
// bounded decline classification.
func (s *service) ProcessPayment(ctx context.Context, input ProcessInput) (*ProcessResult, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway not configured")
	}

	payment, err := s.payments.GetByID(ctx, input.PaymentID)
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		updated, txErr := s.payments.TransitionTx(ctx, tx, payments.TransitionInput{
			PaymentID: payment.ID,
			To:        enums.PaymentStatusProcessing,
			Reason:    "gateway charge started",
		})
		if txErr != nil {
			return txErr
		}
		payment = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome, err := s.gateway.Charge(ctx, gateway.ChargeRequest{
		PaymentID:          payment.ID,
		AmountCents:        payment.AmountCents,
		PaymentMethodToken: input.PaymentMethodToken,
		IdempotencyKey:     input.IdempotencyKey,
		TenantID:           payment.TenantID,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "charging payment")
	}

	if outcome.GatewayChargeID != "" {
		if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.payments.AttachGatewayCharge(ctx, tx, payment.ID, outcome.GatewayChargeID)
		}); err != nil {
			return nil, err
		}
		chargeID := outcome.GatewayChargeID
		payment.GatewayPaymentID = &chargeID
	}

	result := &ProcessResult{Payment: payment, Outcome: outcome.Status}

	switch outcome.Status {
	case gateway.OutcomeSucceeded:
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			link, txErr := s.allocateByPriority(ctx, tx, payment, payment.TenantID, payment.LeaseID, money.Cents(payment.AmountCents))
			if txErr != nil {
				return txErr
			}
			result.Allocation = link

			updated, txErr := s.payments.TransitionTx(ctx, tx, payments.TransitionInput{
				PaymentID: payment.ID,
				To:        enums.PaymentStatusPaid,
				Reason:    "gateway charge succeeded",
			})
			if txErr != nil {
				return txErr
			}
			result.Payment = updated
			return nil
		})
		if err != nil {
			return nil, err
		}
		if s.notifier != nil {
			s.notifier.NotifyPaymentConfirmation(ctx, payment.ID)
		}

	case gateway.OutcomeRequiresAction:
		result.RequiresAction = true

	case gateway.OutcomeFailed:
		reason := outcome.DeclineCode
		if reason == "" {
			reason = outcome.FailureMessage
		}
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			updated, txErr := s.payments.TransitionTx(ctx, tx, payments.TransitionInput{
				PaymentID:     payment.ID,
				To:            enums.PaymentStatusFailed,
				Reason:        "gateway charge failed",
				FailureReason: &reason,
			})
			if txErr != nil {
				return txErr
			}
			result.Payment = updated
			return nil
		})
		if err != nil {
			return nil, err
		}
		if s.notifier != nil {
			s.notifier.NotifyPaymentFailure(ctx, payment.ID, reason)
		}
	}

	return result, nil
}

// GetPaymentAllocation is the read-only outstanding-balance report, sorted by
// due date with computed days overdue.
func (s *service) GetPaymentAllocation(ctx context.Context, tenantID uuid.UUID) (*AllocationReport, error) {
	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}

	outstanding, err := s.ledger.ListOutstanding(ctx, tenantID, nil)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	report := &AllocationReport{TenantID: tenantID, Invoices: make([]OutstandingInvoice, 0, len(outstanding))}
	for _, invoice := range outstanding {
		daysOverdue := dates.WholeDaysBetween(dates.MidnightUTC(invoice.DueDate), now)
		if daysOverdue < 0 {
			daysOverdue = 0
		}
		report.TotalOutstanding += money.Cents(invoice.BalanceRemainingCents)
		report.Invoices = append(report.Invoices, OutstandingInvoice{
			InvoiceID:   invoice.ID,
			Description: invoice.Description,
			DueDate:     invoice.DueDate,
			AmountDue:   money.Cents(invoice.AmountDueCents),
			Balance:     money.Cents(invoice.BalanceRemainingCents),
			Status:      invoice.Status,
			DaysOverdue: daysOverdue,
		})
	}
	return report, nil
}

// ListAllocationHistory returns every allocation ever recorded for a payment,
// reversed rows included, ordered by position.
func (s *service) ListAllocationHistory(ctx context.Context, paymentID uuid.UUID) (*AllocationHistory, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}

	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	allocations, err := s.repo.ListByPaymentID(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing allocations")
	}

	return &AllocationHistory{
		PaymentID:   payment.ID,
		TenantID:    payment.TenantID,
		Allocations: allocations,
	}, nil
}

// allocateByPriority is the shared multi-invoice loop. Domain-level failures
// (insufficient balance, conflicts) are collected per invoice; anything else
// aborts the transaction.
func (s *service) allocateByPriority(ctx context.Context, tx *gorm.DB, payment *models.Payment, tenantID uuid.UUID, leaseID *uuid.UUID, amount money.Cents) (*LinkResult, error) {
	repo := s.repo.WithTx(tx)

	existing, err := repo.ListActiveByPaymentID(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing allocations")
	}
	if err := checkAllocationCapacity(payment, existing, amount); err != nil {
		return nil, err
	}
	position := len(existing)

	outstanding, err := s.ledger.ListOutstanding(ctx, tenantID, leaseID)
	if err != nil {
		return nil, err
	}

	result := &LinkResult{}
	remaining := amount

	for _, invoice := range outstanding {
		if remaining <= 0 {
			break
		}
		toApply := money.Min(remaining, money.Cents(invoice.BalanceRemainingCents))
		if toApply <= 0 {
			continue
		}

		applyRes, err := s.ledger.ApplyPayment(ctx, tx, invoices.ApplyPaymentInput{
			InvoiceID: invoice.ID,
			PaymentID: payment.ID,
			Amount:    toApply,
		})
		if err != nil {
			if !isRecoverableAllocationError(err) {
				return nil, err
			}
			typed := pkgerrors.As(err)
			result.Errors = append(result.Errors, ApplicationError{
				InvoiceID: invoice.ID,
				Code:      typed.Code(),
				Message:   typed.Message(),
			})
			if typed.Code() == pkgerrors.CodeAllocationConflict {
				s.metrics.IncConflict()
			}
			s.metrics.IncSkipped()
			continue
		}

		if err := repo.Create(ctx, &models.PaymentAllocation{
			PaymentID:   payment.ID,
			InvoiceID:   invoice.ID,
			AmountCents: int64(toApply),
			Position:    position,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording allocation")
		}
		position++

		result.Applications = append(result.Applications, PaymentApplication{
			InvoiceID:        invoice.ID,
			AmountApplied:    toApply,
			RemainingBalance: applyRes.RemainingBalance,
			FullyPaid:        applyRes.FullyPaid,
		})
		result.TotalApplied += toApply
		remaining -= toApply
		s.metrics.ObserveApplied(int64(toApply))

		if applyRes.FullyPaid {
			if err := s.emitInvoicePaid(ctx, tx, applyRes.Invoice, payment.ID); err != nil {
				return nil, err
			}
		}
	}

	result.RemainingPaymentAmount = remaining
	result.Success = result.TotalApplied > 0

	if result.TotalApplied > 0 {
		if err := s.emitPaymentApplied(ctx, tx, payment, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// applySingle lands one exact amount on one invoice inside tx. An amount the
// invoice cannot absorb is an insufficient-balance failure, fatal here.
func (s *service) applySingle(ctx context.Context, tx *gorm.DB, payment *models.Payment, invoiceID uuid.UUID, amount money.Cents) (*PaymentApplication, error) {
	repo := s.repo.WithTx(tx)
	existing, err := repo.ListActiveByPaymentID(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing allocations")
	}
	if err := checkAllocationCapacity(payment, existing, amount); err != nil {
		return nil, err
	}

	invoice, err := s.ledger.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if money.Cents(invoice.BalanceRemainingCents) < amount {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "amount exceeds invoice balance").
			WithDetails(map[string]any{
				"invoice_id":        invoice.ID,
				"amount_cents":      int64(amount),
				"balance_remaining": invoice.BalanceRemainingCents,
			})
	}

	applyRes, err := s.ledger.ApplyPayment(ctx, tx, invoices.ApplyPaymentInput{
		InvoiceID: invoiceID,
		PaymentID: payment.ID,
		Amount:    amount,
	})
	if err != nil {
		return nil, err
	}

	if err := repo.Create(ctx, &models.PaymentAllocation{
		PaymentID:   payment.ID,
		InvoiceID:   invoiceID,
		AmountCents: int64(amount),
		Position:    len(existing),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recording allocation")
	}
	s.metrics.ObserveApplied(int64(amount))

	application := &PaymentApplication{
		InvoiceID:        invoiceID,
		AmountApplied:    amount,
		RemainingBalance: applyRes.RemainingBalance,
		FullyPaid:        applyRes.FullyPaid,
	}

	if err := s.emitPaymentApplied(ctx, tx, payment, &LinkResult{
		Success:      true,
		TotalApplied: amount,
		Applications: []PaymentApplication{*application},
	}); err != nil {
		return nil, err
	}
	if applyRes.FullyPaid {
		if err := s.emitInvoicePaid(ctx, tx, applyRes.Invoice, payment.ID); err != nil {
			return nil, err
		}
	}
	return application, nil
}

// checkAllocationCapacity enforces that recorded allocations never exceed the
// payment amount. It runs on the allocation list read inside the transaction
// so a concurrent apply cannot slip past it.
func checkAllocationCapacity(payment *models.Payment, existing []models.PaymentAllocation, amount money.Cents) error {
	var allocated int64
	for _, allocation := range existing {
		allocated += allocation.AmountCents
	}
	if allocated+int64(amount) > payment.AmountCents {
		return pkgerrors.New(pkgerrors.CodeValidation, "allocation exceeds payment amount").
			WithDetails(map[string]any{
				"payment_id":        payment.ID,
				"payment_amount":    payment.AmountCents,
				"already_allocated": allocated,
				"requested":         int64(amount),
			})
	}
	return nil
}

// settlePayment moves the payment into paid after a standalone application,
// stepping through processing when the current status requires it. Already
// paid payments are left untouched.
func (s *service) settlePayment(ctx context.Context, tx *gorm.DB, payment *models.Payment, actorID *uuid.UUID) (*models.Payment, error) {
	if payment.Status == enums.PaymentStatusPaid {
		return payment, nil
	}
	if !payments.CanTransition(payment.Status, enums.PaymentStatusPaid) {
		updated, err := s.payments.TransitionTx(ctx, tx, payments.TransitionInput{
			PaymentID: payment.ID,
			To:        enums.PaymentStatusProcessing,
			Reason:    "payment application started",
			ActorID:   actorID,
		})
		if err != nil {
			return nil, err
		}
		payment = updated
	}
	return s.payments.TransitionTx(ctx, tx, payments.TransitionInput{
		PaymentID: payment.ID,
		To:        enums.PaymentStatusPaid,
		Reason:    "payment applied to invoices",
		ActorID:   actorID,
	})
}

func (s *service) emitPaymentApplied(ctx context.Context, tx *gorm.DB, payment *models.Payment, result *LinkResult) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentApplied,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Data: map[string]any{
			"payment_id":    payment.ID,
			"tenant_id":     payment.TenantID,
			"total_applied": int64(result.TotalApplied),
			"applications":  result.Applications,
		},
		Version:    1,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queueing applied event")
	}
	return nil
}

func (s *service) emitInvoicePaid(ctx context.Context, tx *gorm.DB, invoice *models.Invoice, paymentID uuid.UUID) error {
	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventInvoicePaid,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoice.ID,
		Data: map[string]any{
			"invoice_id": invoice.ID,
			"tenant_id":  invoice.TenantID,
			"payment_id": paymentID,
		},
		Version:    1,
		OccurredAt: s.now().UTC(),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queueing invoice paid event")
	}
	return nil
}

func isRecoverableAllocationError(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	switch typed.Code() {
	case pkgerrors.CodeAllocation, pkgerrors.CodeInsufficientBalance, pkgerrors.CodeAllocationConflict:
		return true
	default:
		return false
	}
}
