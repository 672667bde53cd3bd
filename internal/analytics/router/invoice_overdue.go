package router

import (
	"context"
	"fmt"

	outboxpayloads "github.com/rentledger/rentledger-backend/pkg/outbox/payloads"
	"github.com/rentledger/rentledger-backend/internal/analytics/types"
	"github.com/rentledger/rentledger-backend/pkg/logger"
)

type invoiceOverdueHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newInvoiceOverdueHandler(writer Writer, logg *logger.Logger) Handler {
	return &invoiceOverdueHandler{writer: writer, logg: logg}
}

func (h *invoiceOverdueHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*outboxpayloads.InvoiceOverdueEvent)
	if !ok {
		return fmt.Errorf("invalid payload for invoice_overdue")
	}
	fields := map[string]any{
		"event_type":    envelope.EventType,
		"invoice_id":    event.InvoiceID,
		"tenant_id":     event.TenantID,
		"balance_cents": event.BalanceCents,
	}
	logCtx := h.logg.WithFields(ctx, fields)

	row, err := buildPaymentRow(envelope, paymentRowFields{
		InvoiceID:    event.InvoiceID.String(),
		TenantID:     event.TenantID.String(),
		LeaseID:      event.LeaseID.String(),
		BalanceCents: int64Ptr(event.BalanceCents),
	}, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build payment event row", err)
		return err
	}

	if err := h.writer.InsertPaymentEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert payment event row", err)
		return err
	}

	h.logg.Info(logCtx, "invoice_overdue handler inserted row")
	return nil
}
