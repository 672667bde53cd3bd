package controllers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/api/middleware"
	"github.com/rentledger/rentledger-backend/api/responses"
	"github.com/rentledger/rentledger-backend/internal/invoices"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/logger"
)

// GetInvoice returns an invoice by id. Tenant-role callers can only read
// their own invoices.
func GetInvoice(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoices service unavailable"))
			return
		}

		invoiceID, err := invoiceIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		invoice, err := svc.GetByID(r.Context(), invoiceID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if tenantID := middleware.TenantIDFromContext(r.Context()); tenantID != "" && tenantID != invoice.TenantID.String() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "invoice not found"))
			return
		}
		responses.WriteSuccess(w, invoice)
	}
}

// ListOutstandingInvoices lists a tenant's unpaid invoices in allocation
// priority order. Staff pass tenant_id explicitly; tenant tokens are pinned.
func ListOutstandingInvoices(svc invoices.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "invoices service unavailable"))
			return
		}

		rawTenant := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
		if own := middleware.TenantIDFromContext(r.Context()); own != "" {
			if rawTenant != "" && rawTenant != own {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "tenant mismatch"))
				return
			}
			rawTenant = own
		}
		if rawTenant == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "tenant_id is required"))
			return
		}
		tenantID, err := uuid.Parse(rawTenant)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tenant id"))
			return
		}

		var leaseID *uuid.UUID
		if rawLease := strings.TrimSpace(r.URL.Query().Get("lease_id")); rawLease != "" {
			id, err := uuid.Parse(rawLease)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid lease id"))
				return
			}
			leaseID = &id
		}

		rows, err := svc.ListOutstanding(r.Context(), tenantID, leaseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"tenant_id": tenantID, "invoices": rows})
	}
}

func invoiceIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "invoiceId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid invoice id")
	}
	return id, nil
}
