package router

import (
	"context"
	"fmt"

	outboxpayloads "github.com/rentledger/rentledger-backend/pkg/outbox/payloads"
	"github.com/rentledger/rentledger-backend/internal/analytics/types"
	"github.com/rentledger/rentledger-backend/pkg/logger"
)

type paymentRefundedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newPaymentRefundedHandler(writer Writer, logg *logger.Logger) Handler {
	return &paymentRefundedHandler{writer: writer, logg: logg}
}

func (h *paymentRefundedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*outboxpayloads.PaymentRefundedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for payment_refunded")
	}
	fields := map[string]any{
		"event_type":      envelope.EventType,
		"payment_id":      event.PaymentID,
		"tenant_id":       event.TenantID,
		"amount_reversed": event.AmountReversed,
	}
	logCtx := h.logg.WithFields(ctx, fields)

	row, err := buildPaymentRow(envelope, paymentRowFields{
		PaymentID:   event.PaymentID.String(),
		TenantID:    event.TenantID.String(),
		AmountCents: int64Ptr(-event.AmountReversed),
	}, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build payment event row", err)
		return err
	}

	if err := h.writer.InsertPaymentEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert payment event row", err)
		return err
	}

	h.logg.Info(logCtx, "payment_refunded handler inserted row")
	return nil
}
