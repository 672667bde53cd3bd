package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
)

// Repository manages payment persistence. Status writes go through the
// compare-and-set so concurrent transitions cannot interleave.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	GetByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error)
	SetGatewayPaymentID(ctx context.Context, paymentID uuid.UUID, gatewayPaymentID string) error
	UpdateStatusCAS(ctx context.Context, paymentID uuid.UUID, from, to enums.PaymentStatus, paidDate *time.Time, failureReason *string) (bool, error)
	AppendAuditEntry(ctx context.Context, entry *models.PaymentAuditEntry) error
	ListAuditTrail(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAuditEntry, error)
	ListOverduePending(ctx context.Context, asOf time.Time, limit int) ([]models.Payment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) GetByGatewayID(ctx context.Context, gatewayPaymentID string) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).First(&payment, "gateway_payment_id = ?", gatewayPaymentID).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *repository) SetGatewayPaymentID(ctx context.Context, paymentID uuid.UUID, gatewayPaymentID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Update("gateway_payment_id", gatewayPaymentID).Error
}

// UpdateStatusCAS flips the status only when the stored value still matches
// from. A false return means another transition won.
func (r *repository) UpdateStatusCAS(ctx context.Context, paymentID uuid.UUID, from, to enums.PaymentStatus, paidDate *time.Time, failureReason *string) (bool, error) {
	updates := map[string]any{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	if paidDate != nil {
		updates["paid_date"] = *paidDate
	}
	if failureReason != nil {
		updates["failure_reason"] = *failureReason
	}

	res := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status = ?", paymentID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) AppendAuditEntry(ctx context.Context, entry *models.PaymentAuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListAuditTrail(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentAuditEntry, error) {
	var entries []models.PaymentAuditEntry
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListOverduePending(ctx context.Context, asOf time.Time, limit int) ([]models.Payment, error) {
	var payments []models.Payment
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.PaymentStatusPending).
		Where("received_at < ?", asOf).
		Order("received_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&payments).Error; err != nil {
		return nil, err
	}
	return payments, nil
}
