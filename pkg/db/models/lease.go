package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/pkg/enums"
)

// Lease binds a tenant to a unit for a term.
type Lease struct {
	ID               uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PropertyID       uuid.UUID             `gorm:"column:property_id;type:uuid;not null;index"`
	TenantID         uuid.UUID             `gorm:"column:tenant_id;type:uuid;not null;index"`
	UnitNumber       string                `gorm:"column:unit_number;not null"`
	StartDate        time.Time             `gorm:"column:start_date;not null"`
	EndDate          *time.Time            `gorm:"column:end_date"`
	MonthlyRentCents int64                 `gorm:"column:monthly_rent_cents;not null"`
	ProrationMethod  enums.ProrationMethod `gorm:"column:proration_method;type:proration_method;not null;default:'daily'"`
	Active           bool                  `gorm:"column:active;not null;default:true"`
	CreatedAt        time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}
