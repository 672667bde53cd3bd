package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/rentledger/rentledger-backend/internal/latefees"
	"github.com/rentledger/rentledger-backend/pkg/db/models"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
)

const lateFeeBatchSize = 500

type lateFeeCandidateLister interface {
	ListLateFeeCandidates(ctx context.Context, asOf time.Time, limit int) ([]models.Invoice, error)
}

type propertyReader interface {
	GetProperty(ctx context.Context, id uuid.UUID) (*models.Property, error)
}

type lateFeeAssessor interface {
	Calculate(ctx context.Context, input latefees.CalculateInput) (*latefees.Calculation, error)
	Apply(ctx context.Context, input latefees.ApplyInput) (*models.Invoice, error)
}

// LateFeeJobParams configure the daily late fee assessment.
type LateFeeJobParams struct {
	Logger      *logger.Logger
	InvoiceRepo lateFeeCandidateLister
	Properties  propertyReader
	LateFees    lateFeeAssessor
	BatchSize   int
}

// NewLateFeeJob builds the job that assesses late fees on overdue invoices
// that have not been charged one yet.
func NewLateFeeJob(params LateFeeJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.InvoiceRepo == nil {
		return nil, fmt.Errorf("invoice repository required")
	}
	if params.Properties == nil {
		return nil, fmt.Errorf("property reader required")
	}
	if params.LateFees == nil {
		return nil, fmt.Errorf("late fee service required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = lateFeeBatchSize
	}
	return &lateFeeJob{
		logg:        params.Logger,
		invoiceRepo: params.InvoiceRepo,
		properties:  params.Properties,
		lateFees:    params.LateFees,
		batchSize:   batchSize,
		now:         time.Now,
	}, nil
}

type lateFeeJob struct {
	logg        *logger.Logger
	invoiceRepo lateFeeCandidateLister
	properties  propertyReader
	lateFees    lateFeeAssessor
	batchSize   int
	now         func() time.Time
}

func (j *lateFeeJob) Name() string { return "late-fee" }

func (j *lateFeeJob) Run(ctx context.Context) error {
	asOf := j.now().UTC()
	candidates, err := j.invoiceRepo.ListLateFeeCandidates(ctx, asOf, j.batchSize)
	if err != nil {
		return fmt.Errorf("query late fee candidates: %w", err)
	}

	// Policies are per property; cache them across the batch.
	policies := map[uuid.UUID]*latefees.Config{}

	var errs []error
	assessed := 0
	skipped := 0
	for _, invoice := range candidates {
		config, ok := policies[invoice.PropertyID]
		if !ok {
			property, err := j.properties.GetProperty(ctx, invoice.PropertyID)
			if err != nil {
				errs = append(errs, fmt.Errorf("load property %s: %w", invoice.PropertyID, err))
				continue
			}
			config, err = latefees.ParseConfig(property.LateFeePolicy)
			if err != nil {
				errs = append(errs, fmt.Errorf("parse policy for property %s: %w", invoice.PropertyID, err))
				continue
			}
			policies[invoice.PropertyID] = config
		}

		calc, err := j.lateFees.Calculate(ctx, latefees.CalculateInput{
			Config:        *config,
			InvoiceAmount: money.Cents(invoice.AmountDueCents),
			DueDate:       invoice.DueDate,
			Now:           asOf,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("calculate fee for invoice %s: %w", invoice.ID, err))
			continue
		}
		if calc == nil {
			skipped++
			continue
		}

		if _, err := j.lateFees.Apply(ctx, latefees.ApplyInput{
			InvoiceID:   invoice.ID,
			Calculation: calc,
		}); err != nil {
			errs = append(errs, fmt.Errorf("apply fee to invoice %s: %w", invoice.ID, err))
			continue
		}
		assessed++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"assessed":   assessed,
		"skipped":    skipped,
	})
	j.logg.Info(logCtx, "late fee sweep complete")
	return multierr.Combine(errs...)
}
