package notifications

import (
	"context"
	"encoding/json"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
)

const publishTimeout = 10 * time.Second

// Publisher pushes lightweight notification triggers onto the notification
// topic. Delivery is best effort: a lost trigger never fails the payment
// path, so every error is logged and swallowed.
type Publisher struct {
	publisher *pubsub.Publisher
	logg      *logger.Logger
}

// NewPublisher wraps the notification topic publisher. A nil publisher
// disables publishing entirely.
func NewPublisher(publisher *pubsub.Publisher, logg *logger.Logger) *Publisher {
	return &Publisher{publisher: publisher, logg: logg}
}

// NotifyPaymentConfirmation signals a settled payment.
func (p *Publisher) NotifyPaymentConfirmation(ctx context.Context, paymentID uuid.UUID) {
	p.publish(ctx, "payment_confirmation", map[string]any{
		"payment_id": paymentID,
	})
}

// NotifyPaymentFailure signals a failed payment with its recorded reason.
func (p *Publisher) NotifyPaymentFailure(ctx context.Context, paymentID uuid.UUID, reason string) {
	p.publish(ctx, "payment_failure", map[string]any{
		"payment_id": paymentID,
		"reason":     reason,
	})
}

// NotifyLateFee signals a late fee assessed against an invoice.
func (p *Publisher) NotifyLateFee(ctx context.Context, invoiceID uuid.UUID, amount money.Cents) {
	p.publish(ctx, "late_fee", map[string]any{
		"invoice_id":   invoiceID,
		"amount_cents": int64(amount),
	})
}

func (p *Publisher) publish(ctx context.Context, trigger string, payload map[string]any) {
	if p == nil || p.publisher == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		p.logg.Error(ctx, "failed to encode notification trigger", err)
		return
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	result := p.publisher.Publish(publishCtx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"trigger": trigger,
		},
	})
	if _, err := result.Get(publishCtx); err != nil {
		logCtx := p.logg.WithField(ctx, "trigger", trigger)
		p.logg.Error(logCtx, "failed to publish notification trigger", err)
	}
}
