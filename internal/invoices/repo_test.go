package invoices

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/enums"
)

func setupInvoicesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// One shared in-memory database per test so candidate scans never see
	// rows seeded by a sibling test.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  property_id TEXT NOT NULL,
  lease_id TEXT NOT NULL,
  tenant_id TEXT NOT NULL,
  description TEXT NOT NULL,
  amount_due_cents INTEGER NOT NULL,
  amount_paid_cents INTEGER NOT NULL DEFAULT 0,
  balance_remaining_cents INTEGER NOT NULL,
  late_fee_cents INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'issued',
  due_date DATETIME NOT NULL,
  paid_date DATETIME,
  late_fee_assessed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	return db
}

func seedInvoice(t *testing.T, db *gorm.DB, mutate func(*models.Invoice)) *models.Invoice {
	t.Helper()

	invoice := &models.Invoice{
		ID:                    uuid.New(),
		PropertyID:            uuid.New(),
		LeaseID:               uuid.New(),
		TenantID:              uuid.New(),
		Description:           "June rent",
		AmountDueCents:        120000,
		BalanceRemainingCents: 120000,
		Status:                enums.InvoiceStatusIssued,
		DueDate:               time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if mutate != nil {
		mutate(invoice)
	}
	require.NoError(t, db.Create(invoice).Error)
	return invoice
}

func TestApplyAmountGuardsBalance(t *testing.T) {
	db := setupInvoicesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	invoice := seedInvoice(t, db, nil)

	applied, err := repo.ApplyAmount(ctx, invoice.ID, 70000)
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err := repo.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(70000), stored.AmountPaidCents)
	assert.Equal(t, int64(50000), stored.BalanceRemainingCents)

	// Larger than the remaining balance; the guard must reject it untouched.
	applied, err = repo.ApplyAmount(ctx, invoice.ID, 60000)
	require.NoError(t, err)
	assert.False(t, applied)

	stored, err = repo.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50000), stored.BalanceRemainingCents)
}

func TestApplyAmountRejectsClosedInvoice(t *testing.T) {
	db := setupInvoicesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	invoice := seedInvoice(t, db, func(inv *models.Invoice) {
		inv.Status = enums.InvoiceStatusPaid
		inv.AmountPaidCents = 120000
		inv.BalanceRemainingCents = 0
	})

	applied, err := repo.ApplyAmount(ctx, invoice.ID, 1000)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestReverseAmountGuardsPaidTotal(t *testing.T) {
	db := setupInvoicesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	invoice := seedInvoice(t, db, func(inv *models.Invoice) {
		inv.Status = enums.InvoiceStatusPartial
		inv.AmountPaidCents = 40000
		inv.BalanceRemainingCents = 80000
	})

	reversed, err := repo.ReverseAmount(ctx, invoice.ID, 50000)
	require.NoError(t, err)
	assert.False(t, reversed, "reversal larger than amount paid must be rejected")

	reversed, err = repo.ReverseAmount(ctx, invoice.ID, 40000)
	require.NoError(t, err)
	assert.True(t, reversed)

	stored, err := repo.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.AmountPaidCents)
	assert.Equal(t, int64(120000), stored.BalanceRemainingCents)
}

func TestListOutstandingOrdersByObligation(t *testing.T) {
	db := setupInvoicesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	tenantID := uuid.New()
	newer := seedInvoice(t, db, func(inv *models.Invoice) {
		inv.TenantID = tenantID
		inv.DueDate = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	})
	older := seedInvoice(t, db, func(inv *models.Invoice) {
		inv.TenantID = tenantID
		inv.DueDate = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
		inv.Status = enums.InvoiceStatusOverdue
	})
	seedInvoice(t, db, func(inv *models.Invoice) {
		inv.TenantID = tenantID
		inv.Status = enums.InvoiceStatusPaid
		inv.AmountPaidCents = 120000
		inv.BalanceRemainingCents = 0
	})
	seedInvoice(t, db, nil) // other tenant

	listed, err := repo.ListOutstanding(ctx, tenantID, nil)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, older.ID, listed[0].ID, "oldest obligation first")
	assert.Equal(t, newer.ID, listed[1].ID)

	scoped, err := repo.ListOutstanding(ctx, tenantID, &newer.LeaseID)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, newer.ID, scoped[0].ID)
}

func TestApplyLateFeeRaisesDueAndBalance(t *testing.T) {
	db := setupInvoicesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	invoice := seedInvoice(t, db, func(inv *models.Invoice) {
		inv.Status = enums.InvoiceStatusOverdue
	})

	assessedAt := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	applied, err := repo.ApplyLateFee(ctx, invoice.ID, 5000, assessedAt)
	require.NoError(t, err)
	assert.True(t, applied)

	stored, err := repo.GetByID(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(125000), stored.AmountDueCents)
	assert.Equal(t, int64(125000), stored.BalanceRemainingCents)
	assert.Equal(t, int64(5000), stored.LateFeeCents)
	require.NotNil(t, stored.LateFeeAssessedAt)
}

func TestMarkOverdueOnlyFlipsOpenStatuses(t *testing.T) {
	db := setupInvoicesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	open := seedInvoice(t, db, nil)
	paid := seedInvoice(t, db, func(inv *models.Invoice) {
		inv.Status = enums.InvoiceStatusPaid
		inv.AmountPaidCents = 120000
		inv.BalanceRemainingCents = 0
	})

	flipped, err := repo.MarkOverdue(ctx, open.ID)
	require.NoError(t, err)
	assert.True(t, flipped)

	flipped, err = repo.MarkOverdue(ctx, paid.ID)
	require.NoError(t, err)
	assert.False(t, flipped)

	stored, err := repo.GetByID(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.InvoiceStatusOverdue, stored.Status)
}

func TestListLateFeeCandidatesSkipsAssessed(t *testing.T) {
	db := setupInvoicesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	asOf := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	candidate := seedInvoice(t, db, func(inv *models.Invoice) {
		inv.Status = enums.InvoiceStatusOverdue
	})
	assessed := time.Date(2025, 6, 5, 0, 0, 0, 0, time.UTC)
	seedInvoice(t, db, func(inv *models.Invoice) {
		inv.Status = enums.InvoiceStatusOverdue
		inv.LateFeeAssessedAt = &assessed
	})

	candidates, err := repo.ListLateFeeCandidates(ctx, asOf, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, candidate.ID, candidates[0].ID)
}
