package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/pkg/types"
)

// Property is a managed building or portfolio entry. LateFeePolicy holds the
// property's fee structure as jsonb; internal/latefees owns its shape.
type Property struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name          string          `gorm:"column:name;not null"`
	Address       *types.Address  `gorm:"column:address;type:address_t"`
	Timezone      string          `gorm:"column:timezone;not null;default:'UTC'"`
	LateFeePolicy json.RawMessage `gorm:"column:late_fee_policy;type:jsonb"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
