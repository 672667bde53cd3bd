package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/pkg/enums"
)

// Notification is a tenant-facing message derived from domain events.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	TenantID  uuid.UUID              `gorm:"column:tenant_id;type:uuid;not null;index" json:"tenant_id"`
	Type      enums.NotificationType `gorm:"column:type;type:notification_type_enum;not null" json:"type"`
	Title     string                 `gorm:"column:title;not null" json:"title"`
	Message   string                 `gorm:"column:message;not null" json:"message"`
	Link      *string                `gorm:"column:link" json:"link,omitempty"`
	ReadAt    *time.Time             `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}
