package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/pkg/enums"
)

// Payment is money received from a tenant. Status moves only through the
// payments state machine; every transition lands a PaymentAuditEntry row.
type Payment struct {
	ID               uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID         uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null;index"`
	PropertyID       *uuid.UUID          `gorm:"column:property_id;type:uuid;index"`
	LeaseID          *uuid.UUID          `gorm:"column:lease_id;type:uuid;index"`
	AmountCents      int64               `gorm:"column:amount_cents;not null"`
	Method           enums.PaymentMethod `gorm:"column:method;type:payment_method;not null"`
	Status           enums.PaymentStatus `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	GatewayPaymentID *string             `gorm:"column:gateway_payment_id;unique"`
	FailureReason    *string             `gorm:"column:failure_reason"`
	Memo             *string             `gorm:"column:memo"`
	PaidDate         *time.Time          `gorm:"column:paid_date"`
	ReceivedAt       time.Time           `gorm:"column:received_at;not null"`
	Allocations      []PaymentAllocation `gorm:"foreignKey:PaymentID;constraint:OnDelete:CASCADE"`
	AuditTrail       []PaymentAuditEntry `gorm:"foreignKey:PaymentID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
