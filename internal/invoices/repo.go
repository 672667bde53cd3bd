package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
)

// Repository manages invoice persistence. Balance columns are mutated only
// through the guarded ApplyAmount/ReverseAmount statements so concurrent
// allocations surface as conflicts instead of silent overpayment.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, invoice *models.Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error)
	ListOutstanding(ctx context.Context, tenantID uuid.UUID, leaseID *uuid.UUID) ([]models.Invoice, error)
	ApplyAmount(ctx context.Context, invoiceID uuid.UUID, amountCents int64) (bool, error)
	ReverseAmount(ctx context.Context, invoiceID uuid.UUID, amountCents int64) (bool, error)
	SetStatus(ctx context.Context, invoiceID uuid.UUID, status enums.InvoiceStatus, paidDate *time.Time) error
	ApplyLateFee(ctx context.Context, invoiceID uuid.UUID, amountCents int64, assessedAt time.Time) (bool, error)
	ListOverdueCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Invoice, error)
	MarkOverdue(ctx context.Context, invoiceID uuid.UUID) (bool, error)
	ListLateFeeCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Invoice, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an invoice repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, invoice *models.Invoice) error {
	return r.db.WithContext(ctx).Create(invoice).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Invoice, error) {
	var invoice models.Invoice
	if err := r.db.WithContext(ctx).First(&invoice, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// ListOutstanding returns open invoices oldest obligation first. The
// (due_date, created_at) ordering is the allocation priority and must stay
// stable.
func (r *repository) ListOutstanding(ctx context.Context, tenantID uuid.UUID, leaseID *uuid.UUID) ([]models.Invoice, error) {
	query := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Where("balance_remaining_cents > 0").
		Where("status IN ?", []enums.InvoiceStatus{
			enums.InvoiceStatusIssued,
			enums.InvoiceStatusPartial,
			enums.InvoiceStatusOverdue,
		})
	if leaseID != nil {
		query = query.Where("lease_id = ?", *leaseID)
	}

	var invoices []models.Invoice
	if err := query.Order("due_date ASC, created_at ASC").Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

// ApplyAmount decrements the balance behind a guard on the freshly-stored
// value. A false return means the row moved underneath the caller.
func (r *repository) ApplyAmount(ctx context.Context, invoiceID uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE invoices
		SET amount_paid_cents = amount_paid_cents + ?,
			balance_remaining_cents = balance_remaining_cents - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
			AND balance_remaining_cents >= ?
			AND status IN ('issued', 'partial', 'overdue')
	`, amountCents, amountCents, invoiceID, amountCents)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReverseAmount undoes a recorded allocation amount, guarded so the paid
// total can never go negative.
func (r *repository) ReverseAmount(ctx context.Context, invoiceID uuid.UUID, amountCents int64) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE invoices
		SET amount_paid_cents = amount_paid_cents - ?,
			balance_remaining_cents = balance_remaining_cents + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND amount_paid_cents >= ?
	`, amountCents, amountCents, invoiceID, amountCents)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) SetStatus(ctx context.Context, invoiceID uuid.UUID, status enums.InvoiceStatus, paidDate *time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ?", invoiceID).
		Updates(map[string]any{
			"status":    status,
			"paid_date": paidDate,
		}).Error
}

// ApplyLateFee raises the amount due and balance together so the ledger
// invariant holds through fee assessment.
func (r *repository) ApplyLateFee(ctx context.Context, invoiceID uuid.UUID, amountCents int64, assessedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE invoices
		SET amount_due_cents = amount_due_cents + ?,
			balance_remaining_cents = balance_remaining_cents + ?,
			late_fee_cents = late_fee_cents + ?,
			late_fee_assessed_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('issued', 'partial', 'overdue')
	`, amountCents, amountCents, amountCents, assessedAt, invoiceID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) ListOverdueCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	query := r.db.WithContext(ctx).
		Where("due_date < ?", asOf).
		Where("balance_remaining_cents > 0").
		Where("status IN ?", []enums.InvoiceStatus{enums.InvoiceStatusIssued, enums.InvoiceStatusPartial}).
		Order("due_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repository) MarkOverdue(ctx context.Context, invoiceID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Invoice{}).
		Where("id = ? AND status IN ?", invoiceID, []enums.InvoiceStatus{
			enums.InvoiceStatusIssued,
			enums.InvoiceStatusPartial,
		}).
		Update("status", enums.InvoiceStatusOverdue)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListLateFeeCandidates returns overdue invoices that have not had a fee
// assessed yet.
func (r *repository) ListLateFeeCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Invoice, error) {
	var invoices []models.Invoice
	query := r.db.WithContext(ctx).
		Where("status = ?", enums.InvoiceStatusOverdue).
		Where("due_date < ?", asOf).
		Where("late_fee_assessed_at IS NULL").
		Order("due_date ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}
