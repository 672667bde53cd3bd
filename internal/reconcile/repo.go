package reconcile

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/pkg/db/models"
)

// Repository owns payment_allocations rows. The orchestrator is the only
// writer; positions record the application order so reversal replays exactly.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, allocation *models.PaymentAllocation) error
	ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAllocation, error)
	ListActiveByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAllocation, error)
	MarkReversed(ctx context.Context, allocationID uuid.UUID, at time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an allocation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, allocation *models.PaymentAllocation) error {
	return r.db.WithContext(ctx).Create(allocation).Error
}

func (r *repository) ListByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAllocation, error) {
	var allocations []models.PaymentAllocation
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("position ASC").
		Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

func (r *repository) ListActiveByPaymentID(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAllocation, error) {
	var allocations []models.PaymentAllocation
	if err := r.db.WithContext(ctx).
		Where("payment_id = ? AND reversed_at IS NULL", paymentID).
		Order("position ASC").
		Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

// MarkReversed is guarded on reversed_at so a replayed reversal cannot count
// an allocation twice.
func (r *repository) MarkReversed(ctx context.Context, allocationID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentAllocation{}).
		Where("id = ? AND reversed_at IS NULL", allocationID).
		Update("reversed_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
