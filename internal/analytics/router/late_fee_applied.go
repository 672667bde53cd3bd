package router

import (
	"context"
	"fmt"

	outboxpayloads "github.com/rentledger/rentledger-backend/pkg/outbox/payloads"
	"github.com/rentledger/rentledger-backend/internal/analytics/types"
	"github.com/rentledger/rentledger-backend/pkg/logger"
)

type lateFeeAppliedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func newLateFeeAppliedHandler(writer Writer, logg *logger.Logger) Handler {
	return &lateFeeAppliedHandler{writer: writer, logg: logg}
}

func (h *lateFeeAppliedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*outboxpayloads.LateFeeAppliedEvent)
	if !ok {
		return fmt.Errorf("invalid payload for late_fee_applied")
	}
	fields := map[string]any{
		"event_type":   envelope.EventType,
		"invoice_id":   event.InvoiceID,
		"tenant_id":    event.TenantID,
		"amount_cents": event.AmountCents,
		"days_late":    event.DaysLate,
	}
	logCtx := h.logg.WithFields(ctx, fields)

	rowFields := paymentRowFields{
		InvoiceID:   event.InvoiceID.String(),
		TenantID:    event.TenantID.String(),
		AmountCents: int64Ptr(event.AmountCents),
		DaysLate:    int64Ptr(int64(event.DaysLate)),
	}
	if event.PaymentID != nil {
		rowFields.PaymentID = event.PaymentID.String()
	}

	row, err := buildPaymentRow(envelope, rowFields, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build payment event row", err)
		return err
	}

	if err := h.writer.InsertPaymentEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert payment event row", err)
		return err
	}

	h.logg.Info(logCtx, "late_fee_applied handler inserted row")
	return nil
}
