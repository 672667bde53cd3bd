package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePayment OutboxAggregateType = "payment"
	AggregateInvoice OutboxAggregateType = "invoice"
	AggregateLease   OutboxAggregateType = "lease"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePayment,
	AggregateInvoice,
	AggregateLease,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPaymentApplied        OutboxEventType = "payment_applied"
	EventPaymentRefunded       OutboxEventType = "payment_refunded"
	EventPaymentStatusChanged  OutboxEventType = "payment_status_changed"
	EventPaymentFailed         OutboxEventType = "payment_failed"
	EventInvoicePaid           OutboxEventType = "invoice_paid"
	EventInvoiceOverdue        OutboxEventType = "invoice_overdue"
	EventLateFeeApplied        OutboxEventType = "late_fee_applied"
	EventNotificationRequested OutboxEventType = "notification_requested"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentApplied,
	EventPaymentRefunded,
	EventPaymentStatusChanged,
	EventPaymentFailed,
	EventInvoicePaid,
	EventInvoiceOverdue,
	EventLateFeeApplied,
	EventNotificationRequested,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
