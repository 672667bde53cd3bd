package leases

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/pkg/db/models"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
)

// Service resolves lease context for payment operations.
type Service interface {
	GetLease(ctx context.Context, id uuid.UUID) (*models.Lease, error)
	GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	ResolveLeaseContext(ctx context.Context, tenantID uuid.UUID, leaseID *uuid.UUID) (*models.Lease, error)
}

type service struct {
	repo Repository
}

// NewService wires the lease read service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("leases repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) GetLease(ctx context.Context, id uuid.UUID) (*models.Lease, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "lease id is required")
	}
	lease, err := s.repo.GetLease(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "lease not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading lease")
	}
	return lease, nil
}

func (s *service) GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "property id is required")
	}
	property, err := s.repo.GetProperty(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "property not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading property")
	}
	return property, nil
}

func (s *service) GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	tenant, err := s.repo.GetTenant(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "tenant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading tenant")
	}
	return tenant, nil
}

// ResolveLeaseContext picks the explicit lease when one is given, otherwise
// falls back to the tenant's active lease. A tenant without one cannot anchor
// a payment to a property.
func (s *service) ResolveLeaseContext(ctx context.Context, tenantID uuid.UUID, leaseID *uuid.UUID) (*models.Lease, error) {
	if leaseID != nil {
		lease, err := s.GetLease(ctx, *leaseID)
		if err != nil {
			return nil, err
		}
		if lease.TenantID != tenantID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "lease does not belong to tenant")
		}
		return lease, nil
	}

	if tenantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tenant id is required")
	}
	lease, err := s.repo.GetActiveLeaseForTenant(ctx, tenantID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "no property or lease context could be resolved for tenant").
				WithDetails(map[string]any{"tenant_id": tenantID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolving active lease")
	}
	return lease, nil
}
