package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/pkg/enums"
)

// PaymentAuditEntry is an append-only record of a payment status transition.
type PaymentAuditEntry struct {
	ID         uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID  uuid.UUID            `gorm:"column:payment_id;type:uuid;not null;index"`
	FromStatus *enums.PaymentStatus `gorm:"column:from_status;type:payment_status"`
	ToStatus   enums.PaymentStatus  `gorm:"column:to_status;type:payment_status;not null"`
	Reason     *string              `gorm:"column:reason"`
	ActorID    *uuid.UUID           `gorm:"column:actor_id;type:uuid"`
	CreatedAt  time.Time            `gorm:"column:created_at;autoCreateTime"`
}
