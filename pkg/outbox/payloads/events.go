package payloads

import (
	"time"

	"github.com/google/uuid"
)

// PaymentAppliedEvent is emitted when a payment is allocated across invoices.
type PaymentAppliedEvent struct {
	PaymentID    uuid.UUID            `json:"payment_id"`
	TenantID     uuid.UUID            `json:"tenant_id"`
	TotalApplied int64                `json:"total_applied"`
	Applications []PaymentApplication `json:"applications"`
}

// PaymentApplication is a single invoice application recorded at allocation time.
type PaymentApplication struct {
	InvoiceID        uuid.UUID `json:"invoice_id"`
	AmountApplied    int64     `json:"amount_applied_cents"`
	RemainingBalance int64     `json:"remaining_balance_cents"`
	FullyPaid        bool      `json:"fully_paid"`
}

// PaymentRefundedEvent is emitted when a payment's allocations are reversed.
type PaymentRefundedEvent struct {
	PaymentID        uuid.UUID `json:"payment_id"`
	TenantID         uuid.UUID `json:"tenant_id"`
	InvoicesAffected int       `json:"invoices_affected"`
	AmountReversed   int64     `json:"amount_reversed"`
	Reason           string    `json:"reason"`
}

// PaymentStatusChangedEvent records every payment state transition.
type PaymentStatusChangedEvent struct {
	PaymentID uuid.UUID `json:"payment_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    *string   `json:"reason"`
}

// PaymentFailedEvent is emitted when a payment moves to the failed state.
type PaymentFailedEvent struct {
	PaymentID     uuid.UUID `json:"payment_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	FailureReason *string   `json:"failure_reason"`
}

// InvoicePaidEvent is emitted when an invoice balance reaches zero.
type InvoicePaidEvent struct {
	InvoiceID uuid.UUID `json:"invoice_id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	PaymentID uuid.UUID `json:"payment_id"`
}

// InvoiceOverdueEvent is emitted once when an issued invoice passes its due date.
type InvoiceOverdueEvent struct {
	InvoiceID     uuid.UUID `json:"invoice_id"`
	TenantID      uuid.UUID `json:"tenant_id"`
	LeaseID       uuid.UUID `json:"lease_id"`
	BalanceCents  int64     `json:"balance_cents"`
	DueDate       time.Time `json:"due_date"`
	MarkedOverdue time.Time `json:"marked_overdue"`
}

// LateFeeAppliedEvent is emitted when a late fee is assessed against an invoice.
type LateFeeAppliedEvent struct {
	InvoiceID   uuid.UUID  `json:"invoice_id"`
	TenantID    uuid.UUID  `json:"tenant_id"`
	AmountCents int64      `json:"amount_cents"`
	DaysLate    int        `json:"days_late"`
	FeeType     string     `json:"fee_type"`
	PaymentID   *uuid.UUID `json:"payment_id,omitempty"`
}

// NotificationRequestedEvent tells downstream systems to alert a tenant.
type NotificationRequestedEvent struct {
	TenantID uuid.UUID `json:"tenant_id"`
	Type     string    `json:"type"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
}
