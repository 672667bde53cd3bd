package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/api/middleware"
	"github.com/rentledger/rentledger-backend/api/responses"
	"github.com/rentledger/rentledger-backend/api/validators"
	"github.com/rentledger/rentledger-backend/internal/reconcile"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
)

type applyPaymentRequest struct {
	TenantID    uuid.UUID  `json:"tenant_id" validate:"required"`
	AmountCents int64      `json:"amount_cents" validate:"required,gt=0"`
	LeaseID     *uuid.UUID `json:"lease_id,omitempty"`
}

// ApplyPayment distributes a payment across the tenant's outstanding invoices
// oldest obligation first.
func ApplyPayment(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile service unavailable"))
			return
		}

		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body applyPaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ApplyPaymentToInvoices(r.Context(), reconcile.ApplyToInvoicesInput{
			PaymentID: paymentID,
			TenantID:  body.TenantID,
			Amount:    money.Cents(body.AmountCents),
			LeaseID:   body.LeaseID,
			ActorID:   actorIDFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

type applySingleRequest struct {
	InvoiceID   uuid.UUID `json:"invoice_id" validate:"required"`
	AmountCents int64     `json:"amount_cents" validate:"required,gt=0"`
}

// ApplyPaymentSingle lands an exact amount on one invoice, failing hard when
// the invoice cannot absorb it.
func ApplyPaymentSingle(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile service unavailable"))
			return
		}

		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body applySingleRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		application, err := svc.ApplyPaymentToSingleInvoice(r.Context(), reconcile.ApplySingleInput{
			PaymentID: paymentID,
			InvoiceID: body.InvoiceID,
			Amount:    money.Cents(body.AmountCents),
			ActorID:   actorIDFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, application)
	}
}

type reversePaymentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// ReversePayment undoes every recorded allocation of a payment and flips a
// paid payment to refunded.
func ReversePayment(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile service unavailable"))
			return
		}

		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body reversePaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ReversePaymentApplication(r.Context(), reconcile.ReverseInput{
			PaymentID: paymentID,
			Reason:    strings.TrimSpace(body.Reason),
			ActorID:   actorIDFromContext(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// PaymentAllocationHistory returns every recorded allocation of a payment,
// reversed rows included. Tenant-role callers can only read their own
// payments.
func PaymentAllocationHistory(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile service unavailable"))
			return
		}

		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		history, err := svc.ListAllocationHistory(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if tenantID := middleware.TenantIDFromContext(r.Context()); tenantID != "" && tenantID != history.TenantID.String() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"))
			return
		}
		responses.WriteSuccess(w, history)
	}
}

// TenantAllocationReport is the read-only outstanding-balance view for a
// tenant. Tenant-role callers are pinned to their own tenant id.
func TenantAllocationReport(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile service unavailable"))
			return
		}

		raw := strings.TrimSpace(chi.URLParam(r, "tenantId"))
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tenant id"))
			return
		}

		if own := middleware.TenantIDFromContext(r.Context()); own != "" && own != tenantID.String() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "tenant mismatch"))
			return
		}

		report, err := svc.GetPaymentAllocation(r.Context(), tenantID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}
