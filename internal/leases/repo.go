package leases

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/pkg/db/models"
)

// Repository is the read surface over properties, tenants and leases that
// payment operations resolve context from.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	GetLease(ctx context.Context, id uuid.UUID) (*models.Lease, error)
	GetActiveLeaseForTenant(ctx context.Context, tenantID uuid.UUID) (*models.Lease, error)
	GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a lease repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetLease(ctx context.Context, id uuid.UUID) (*models.Lease, error) {
	var lease models.Lease
	if err := r.db.WithContext(ctx).First(&lease, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &lease, nil
}

// GetActiveLeaseForTenant returns the most recent active lease. Tenants with
// several historical leases resolve to the newest one.
func (r *repository) GetActiveLeaseForTenant(ctx context.Context, tenantID uuid.UUID) (*models.Lease, error) {
	var lease models.Lease
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND active = TRUE", tenantID).
		Order("start_date DESC").
		First(&lease).Error; err != nil {
		return nil, err
	}
	return &lease, nil
}

func (r *repository) GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	var property models.Property
	if err := r.db.WithContext(ctx).First(&property, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &property, nil
}

func (r *repository) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}
