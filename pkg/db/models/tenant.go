package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is a renter. Property association comes through leases.
type Tenant struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	FullName  string    `gorm:"column:full_name;not null"`
	Email     string    `gorm:"column:email;not null;unique"`
	Phone     *string   `gorm:"column:phone"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
