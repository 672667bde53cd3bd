package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/pkg/enums"
)

// Invoice is a receivable against a lease. AmountPaidCents, BalanceRemainingCents
// and Status are written only by the invoices repository; the balance decrement
// runs as a guarded UPDATE so concurrent allocations cannot overdraw it.
// Invariant: amount_paid_cents + balance_remaining_cents = amount_due_cents.
type Invoice struct {
	ID                    uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PropertyID            uuid.UUID           `gorm:"column:property_id;type:uuid;not null;index"`
	LeaseID               uuid.UUID           `gorm:"column:lease_id;type:uuid;not null;index"`
	TenantID              uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index"`
	Description           string              `gorm:"column:description;not null"`
	AmountDueCents        int64               `gorm:"column:amount_due_cents;not null"`
	AmountPaidCents       int64               `gorm:"column:amount_paid_cents;not null;default:0"`
	BalanceRemainingCents int64               `gorm:"column:balance_remaining_cents;not null"`
	LateFeeCents          int64               `gorm:"column:late_fee_cents;not null;default:0"`
	Status                enums.InvoiceStatus `gorm:"column:status;type:invoice_status;not null;default:'issued'"`
	DueDate               time.Time           `gorm:"column:due_date;not null;index"`
	PaidDate              *time.Time          `gorm:"column:paid_date"`
	LateFeeAssessedAt     *time.Time          `gorm:"column:late_fee_assessed_at"`
	CreatedAt             time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
