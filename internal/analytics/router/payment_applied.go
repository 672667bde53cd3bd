package router

import (
	"context"
	"fmt"

	outboxpayloads "github.com/rentledger/rentledger-backend/pkg/outbox/payloads"
	"github.com/rentledger/rentledger-backend/internal/analytics/types"
	"github.com/rentledger/rentledger-backend/pkg/logger"
)

type paymentAppliedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newPaymentAppliedHandler(writer Writer, logg *logger.Logger) Handler {
	return &paymentAppliedHandler{writer: writer, logg: logg}
}

func (h *paymentAppliedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*outboxpayloads.PaymentAppliedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for payment_applied")
	}
	fields := map[string]any{
		"event_type":    envelope.EventType,
		"payment_id":    event.PaymentID,
		"tenant_id":     event.TenantID,
		"total_applied": event.TotalApplied,
	}
	logCtx := h.logg.WithFields(ctx, fields)

	row, err := buildPaymentRow(envelope, paymentRowFields{
		PaymentID:   event.PaymentID.String(),
		TenantID:    event.TenantID.String(),
		AmountCents: int64Ptr(event.TotalApplied),
	}, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build payment event row", err)
		return err
	}

	if err := h.writer.InsertPaymentEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert payment event row", err)
		return err
	}

	h.logg.Info(logCtx, "payment_applied handler inserted row")
	return nil
}
