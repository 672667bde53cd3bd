package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// PaymentEventRow mirrors the payment_events BigQuery schema.
type PaymentEventRow struct {
	EventID      string             `bigquery:"event_id"`
	EventType    string             `bigquery:"event_type"`
	OccurredAt   time.Time          `bigquery:"occurred_at"`
	PaymentID    *string            `bigquery:"payment_id"`
	InvoiceID    *string            `bigquery:"invoice_id"`
	TenantID     *string            `bigquery:"tenant_id"`
	LeaseID      *string            `bigquery:"lease_id"`
	AmountCents  *int64             `bigquery:"amount_cents"`
	BalanceCents *int64             `bigquery:"balance_cents"`
	DaysLate     *int64             `bigquery:"days_late"`
	Payload      cbigquery.NullJSON `bigquery:"payload"`
}
