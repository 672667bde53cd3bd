package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
	"github.com/rentledger/rentledger-backend/pkg/outbox"
	"github.com/rentledger/rentledger-backend/pkg/outbox/idempotency"
)

const paymentNotificationConsumer = "payment-notifications"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

// Consumer watches domain events and turns payment outcomes and late fee
// assessments into tenant notifications.
type Consumer struct {
	repo         repository
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds a payment notification consumer.
func NewConsumer(repo repository, subscription *pubsub.Subscriber, manager *idempotency.Manager, logg *logger.Logger) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("domain subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

var notifiedEventTypes = map[string]bool{
	string(enums.EventPaymentApplied): true,
	string(enums.EventPaymentFailed):  true,
	string(enums.EventLateFeeApplied): true,
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	fields := map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if !notifiedEventTypes[eventType] {
		c.logg.Info(logCtx, "skipping event without notification mapping")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, paymentNotificationConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	if err := c.handleEvent(ctx, eventType, envelope.Data, logCtx); err != nil {
		c.logg.Error(logCtx, "notification handling failed", err)
		_ = c.idempotency.Delete(ctx, paymentNotificationConsumer, eventID)
		return processResult{nack: true}
	}

	return processResult{ack: true}
}

func (c *Consumer) handleEvent(ctx context.Context, eventType string, data json.RawMessage, logCtx context.Context) error {
	switch eventType {
	case string(enums.EventPaymentApplied):
		var payload paymentAppliedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		return c.createPaymentAppliedNotification(ctx, payload, logCtx)
	case string(enums.EventPaymentFailed):
		var payload paymentFailedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		return c.createPaymentFailedNotification(ctx, payload, logCtx)
	case string(enums.EventLateFeeApplied):
		var payload lateFeeAppliedPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return err
		}
		return c.createLateFeeNotification(ctx, payload, logCtx)
	default:
		return nil
	}
}

func (c *Consumer) createPaymentAppliedNotification(ctx context.Context, payload paymentAppliedPayload, logCtx context.Context) error {
	if payload.TenantID == uuid.Nil {
		return fmt.Errorf("tenant id missing")
	}
	link := fmt.Sprintf("/payments/%s", payload.PaymentID)
	notification := &models.Notification{
		TenantID: payload.TenantID,
		Type:     enums.NotificationTypePayment,
		Title:    "Payment received",
		Message:  fmt.Sprintf("A payment of $%s was applied to your account.", money.Cents(payload.TotalApplied)),
		Link:     stringPtr(link),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(logCtx, "tenant notified of applied payment")
	return nil
}

func (c *Consumer) createPaymentFailedNotification(ctx context.Context, payload paymentFailedPayload, logCtx context.Context) error {
	if payload.TenantID == uuid.Nil {
		return fmt.Errorf("tenant id missing")
	}
	message := "A payment on your account could not be processed."
	if payload.FailureReason != nil && *payload.FailureReason != "" {
		message = fmt.Sprintf("A payment on your account could not be processed: %s.", *payload.FailureReason)
	}
	link := fmt.Sprintf("/payments/%s", payload.PaymentID)
	notification := &models.Notification{
		TenantID: payload.TenantID,
		Type:     enums.NotificationTypePayment,
		Title:    "Payment failed",
		Message:  message,
		Link:     stringPtr(link),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(logCtx, "tenant notified of failed payment")
	return nil
}

func (c *Consumer) createLateFeeNotification(ctx context.Context, payload lateFeeAppliedPayload, logCtx context.Context) error {
	if payload.TenantID == uuid.Nil {
		return fmt.Errorf("tenant id missing")
	}
	link := fmt.Sprintf("/invoices/%s", payload.InvoiceID)
	notification := &models.Notification{
		TenantID: payload.TenantID,
		Type:     enums.NotificationTypeLateFee,
		Title:    "Late fee assessed",
		Message:  fmt.Sprintf("A late fee of $%s was added to your invoice.", money.Cents(payload.AmountCents)),
		Link:     stringPtr(link),
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}
	c.logg.Info(logCtx, "tenant notified of late fee")
	return nil
}

func stringPtr(value string) *string {
	return &value
}

type paymentAppliedPayload struct {
	PaymentID    uuid.UUID `json:"payment_id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	TotalApplied int64     `json:"total_applied"`
}

type paymentFailedPayload struct {
	PaymentID     uuid.UUID `json:"payment_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	FailureReason *string   `json:"failure_reason"`
}

type lateFeeAppliedPayload struct {
	InvoiceID   uuid.UUID `json:"invoice_id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	AmountCents int64     `json:"amount_cents"`
	DaysLate    int       `json:"days_late"`
}
