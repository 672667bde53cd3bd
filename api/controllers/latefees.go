package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/api/responses"
	"github.com/rentledger/rentledger-backend/api/validators"
	"github.com/rentledger/rentledger-backend/internal/invoices"
	"github.com/rentledger/rentledger-backend/internal/latefees"
	"github.com/rentledger/rentledger-backend/internal/leases"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
)

type lateFeeCalculateRequest struct {
	Config             latefees.Config `json:"config" validate:"required"`
	InvoiceAmountCents int64           `json:"invoice_amount_cents" validate:"required,gt=0"`
	DueDate            time.Time       `json:"due_date" validate:"required"`
	AsOf               *time.Time      `json:"as_of,omitempty"`
}

// CalculateLateFee is the pure calculator endpoint: nothing is persisted.
func CalculateLateFee(svc latefees.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "late fee service unavailable"))
			return
		}

		var body lateFeeCalculateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		asOf := time.Now().UTC()
		if body.AsOf != nil {
			asOf = body.AsOf.UTC()
		}

		calc, err := svc.Calculate(r.Context(), latefees.CalculateInput{
			Config:        body.Config,
			InvoiceAmount: money.Cents(body.InvoiceAmountCents),
			DueDate:       body.DueDate,
			Now:           asOf,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if calc == nil {
			responses.WriteSuccess(w, map[string]any{"assessable": false})
			return
		}
		responses.WriteSuccess(w, map[string]any{"assessable": true, "calculation": calc})
	}
}

type lateFeeApplyRequest struct {
	InvoiceID uuid.UUID  `json:"invoice_id" validate:"required"`
	PaymentID *uuid.UUID `json:"payment_id,omitempty"`
	AsOf      *time.Time `json:"as_of,omitempty"`
}

// ApplyLateFee calculates the fee for an invoice under its property's stored
// policy and applies it. Invoices inside the grace window report assessable
// false without mutation.
func ApplyLateFee(svc latefees.Service, invoicesSvc invoices.Service, leasesSvc leases.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || invoicesSvc == nil || leasesSvc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "late fee service unavailable"))
			return
		}

		var body lateFeeApplyRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		invoice, err := invoicesSvc.GetByID(r.Context(), body.InvoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		property, err := leasesSvc.GetProperty(r.Context(), invoice.PropertyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		config, err := latefees.ParseConfig(property.LateFeePolicy)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		asOf := time.Now().UTC()
		if body.AsOf != nil {
			asOf = body.AsOf.UTC()
		}

		calc, err := svc.Calculate(r.Context(), latefees.CalculateInput{
			Config:        *config,
			InvoiceAmount: money.Cents(invoice.AmountDueCents),
			DueDate:       invoice.DueDate,
			Now:           asOf,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if calc == nil {
			responses.WriteSuccess(w, map[string]any{"assessable": false, "invoice": invoice})
			return
		}

		updated, err := svc.Apply(r.Context(), latefees.ApplyInput{
			InvoiceID:   invoice.ID,
			PaymentID:   body.PaymentID,
			Calculation: calc,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"assessable": true, "calculation": calc, "invoice": updated})
	}
}
