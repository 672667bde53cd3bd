package router

import (
	"fmt"

	"github.com/rentledger/rentledger-backend/internal/analytics/types"
	analyticswriter "github.com/rentledger/rentledger-backend/internal/analytics/writer"
)

// paymentRowFields collects the optional columns a handler can set on a row.
type paymentRowFields struct {
	PaymentID    string
	InvoiceID    string
	TenantID     string
	LeaseID      string
	AmountCents  *int64
	BalanceCents *int64
	DaysLate     *int64
}

func buildPaymentRow(envelope types.Envelope, fields paymentRowFields, payload any) (types.PaymentEventRow, error) {
	payloadJSON, err := analyticswriter.EncodeJSON(payload)
	if err != nil {
		return types.PaymentEventRow{}, fmt.Errorf("encode payload json: %w", err)
	}

	return types.PaymentEventRow{
		EventID:      envelope.EventID,
		EventType:    string(envelope.EventType),
		OccurredAt:   envelope.OccurredAt.UTC(),
		PaymentID:    stringPtr(fields.PaymentID),
		InvoiceID:    stringPtr(fields.InvoiceID),
		TenantID:     stringPtr(fields.TenantID),
		LeaseID:      stringPtr(fields.LeaseID),
		AmountCents:  fields.AmountCents,
		BalanceCents: fields.BalanceCents,
		DaysLate:     fields.DaysLate,
		Payload:      payloadJSON,
	}, nil
}
