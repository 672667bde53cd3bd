package router

import (
	"context"
	"fmt"

	outboxpayloads "github.com/rentledger/rentledger-backend/pkg/outbox/payloads"
	"github.com/rentledger/rentledger-backend/internal/analytics/types"
	"github.com/rentledger/rentledger-backend/pkg/logger"
)

type invoicePaidHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newInvoicePaidHandler(writer Writer, logg *logger.Logger) Handler {
	return &invoicePaidHandler{writer: writer, logg: logg}
}

func (h *invoicePaidHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*outboxpayloads.InvoicePaidEvent)
	if !ok {
		return fmt.Errorf("invalid payload for invoice_paid")
	}
	fields := map[string]any{
		"event_type": envelope.EventType,
		"invoice_id": event.InvoiceID,
		"payment_id": event.PaymentID,
		"tenant_id":  event.TenantID,
	}
	logCtx := h.logg.WithFields(ctx, fields)

	row, err := buildPaymentRow(envelope, paymentRowFields{
		PaymentID:    event.PaymentID.String(),
		InvoiceID:    event.InvoiceID.String(),
		TenantID:     event.TenantID.String(),
		BalanceCents: int64Ptr(0),
	}, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build payment event row", err)
		return err
	}

	if err := h.writer.InsertPaymentEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert payment event row", err)
		return err
	}

	h.logg.Info(logCtx, "invoice_paid handler inserted row")
	return nil
}
