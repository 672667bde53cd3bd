package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentAllocation records exactly how much of a payment landed on an
// invoice. Position preserves the application order so reversals can replay
// the recorded amounts instead of guessing.
type PaymentAllocation struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID   uuid.UUID  `gorm:"column:payment_id;type:uuid;not null;index"`
	InvoiceID   uuid.UUID  `gorm:"column:invoice_id;type:uuid;not null;index"`
	AmountCents int64      `gorm:"column:amount_cents;not null"`
	Position    int        `gorm:"column:position;not null;default:0"`
	ReversedAt  *time.Time `gorm:"column:reversed_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}
