package payments

import (
	"context"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
	"github.com/rentledger/rentledger-backend/pkg/outbox"
)

// Service is the payment state machine. It is the only writer of a payment's
// status and audit trail.
type Service interface {
	Create(ctx context.Context, tx *gorm.DB, input CreatePaymentInput) (*models.Payment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error)
	AttachGatewayCharge(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, gatewayChargeID string) error
	Transition(ctx context.Context, input TransitionInput) (*models.Payment, error)
	TransitionTx(ctx context.Context, tx *gorm.DB, input TransitionInput) (*models.Payment, error)
	ListAuditTrail(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAuditEntry, error)
}

// CreatePaymentInput captures a new payment record. Status starts at pending
// and an initial audit entry is appended alongside the row.
type CreatePaymentInput struct {
	TenantID         uuid.UUID
	PropertyID       *uuid.UUID
	LeaseID          *uuid.UUID
	Amount           money.Cents
	Method           enums.PaymentMethod
	GatewayPaymentID *string
	Memo             *string
	ReceivedAt       time.Time
	ActorID          *uuid.UUID
}

// TransitionInput requests a single status move.
type TransitionInput struct {
	PaymentID     uuid.UUID
	To            enums.PaymentStatus
	Reason        string
	ActorID       *uuid.UUID
	FailureReason *string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
	logg   *logger.Logger
	now    func() time.Time
}

// NewService wires the payment state machine.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:   repo,
		tx:     tx,
		outbox: outboxSvc,
		logg:   logg,
		now:    time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, tx *gorm.DB, input CreatePaymentInput) (*models.Payment, error) {
	if input.TenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	if input.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now().UTC()
	}

	payment := &models.Payment{
		ID:               uuid.New(),
		TenantID:         input.TenantID,
		PropertyID:       input.PropertyID,
		LeaseID:          input.LeaseID,
		AmountCents:      int64(input.Amount),
		Method:           input.Method,
		Status:           enums.PaymentStatusPending,
		GatewayPaymentID: input.GatewayPaymentID,
		Memo:             input.Memo,
		ReceivedAt:       receivedAt,
	}

	repo := s.repo.WithTx(tx)
	if err := repo.Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "creating payment")
	}

	entry := &models.PaymentAuditEntry{
		PaymentID: payment.ID,
		ToStatus:  enums.PaymentStatusPending,
		Reason:    stringPtr("payment recorded"),
		ActorID:   input.ActorID,
	}
	if err := repo.AppendAuditEntry(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "appending audit entry")
	}

	return payment, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	payment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading payment")
	}
	return payment, nil
}

// GetByGatewayID resolves the payment behind a gateway charge identifier so
// gateway reports can be reconciled back to the ledger.
func (s *service) GetByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	if strings.TrimSpace(gatewayPaymentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway payment id is required")
	}
	payment, err := s.repo.GetByGatewayID(ctx, gatewayPaymentID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading payment")
	}
	return payment, nil
}

// AttachGatewayCharge stores the gateway charge identifier on the payment
// inside the caller's transaction.
func (s *service) AttachGatewayCharge(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, gatewayChargeID string) error {
	if paymentID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if strings.TrimSpace(gatewayChargeID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "gateway charge id is required")
	}
	if err := s.repo.WithTx(tx).SetGatewayPaymentID(ctx, paymentID, gatewayChargeID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storing gateway charge id")
	}
	return nil
}

// Transition runs a single status move in its own transaction.
func (s *service) Transition(ctx context.Context, input TransitionInput) (*models.Payment, error) {
	var payment *models.Payment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var txErr error
		payment, txErr = s.TransitionTx(ctx, tx, input)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// TransitionTx performs the move inside the caller's transaction: validate
// against the table, compare-and-set the status, append the audit entry and
// queue the domain event. The paid date is stamped on entry into paid.
func (s *service) TransitionTx(ctx context.Context, tx *gorm.DB, input TransitionInput) (*models.Payment, error) {
	if input.PaymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}

	repo := s.repo.WithTx(tx)

	payment, err := repo.GetByID(ctx, input.PaymentID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading payment")
	}

	from := payment.Status
	if !CanTransition(from, input.To) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "payment status transition disallowed").
			WithDetails(map[string]any{"from": from, "to": input.To})
	}

	var paidDate *time.Time
	if input.To == enums.PaymentStatusPaid {
		now := s.now().UTC()
		paidDate = &now
	}

	moved, err := repo.UpdateStatusCAS(ctx, payment.ID, from, input.To, paidDate, input.FailureReason)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "updating payment status")
	}
	if !moved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment status changed concurrently").
			WithDetails(map[string]any{"payment_id": payment.ID, "expected": from})
	}

	entry := &models.PaymentAuditEntry{
		PaymentID:  payment.ID,
		FromStatus: &from,
		ToStatus:   input.To,
		ActorID:    input.ActorID,
	}
	if input.Reason != "" {
		entry.Reason = &input.Reason
	}
	if err := repo.AppendAuditEntry(ctx, entry); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "appending audit entry")
	}

	payment.Status = input.To
	if paidDate != nil {
		payment.PaidDate = paidDate
	}
	if input.FailureReason != nil {
		payment.FailureReason = input.FailureReason
	}

	if err := s.emitTransitionEvents(ctx, tx, payment, from, input); err != nil {
		return nil, err
	}

	return payment, nil
}

func (s *service) ListAuditTrail(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAuditEntry, error) {
	if paymentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment id is required")
	}
	entries, err := s.repo.ListAuditTrail(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "listing audit trail")
	}
	return entries, nil
}

func (s *service) emitTransitionEvents(ctx context.Context, tx *gorm.DB, payment *models.Payment, from enums.PaymentStatus, input TransitionInput) error {
	occurredAt := s.now().UTC()

	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentStatusChanged,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Data: map[string]any{
			"payment_id": payment.ID,
			"tenant_id":  payment.TenantID,
			"from":       from,
			"to":         input.To,
			"reason":     input.Reason,
		},
		Version:    1,
		OccurredAt: occurredAt,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queueing status event")
	}

	if input.To != enums.PaymentStatusFailed {
		return nil
	}
	err = s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Data: map[string]any{
			"payment_id":     payment.ID,
			"tenant_id":      payment.TenantID,
			"failure_reason": payment.FailureReason,
		},
		Version:    1,
		OccurredAt: occurredAt,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queueing failure event")
	}
	return nil
}

func stringPtr(value string) *string {
	return &value
}
