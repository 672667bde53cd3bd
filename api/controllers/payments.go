package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rentledger/rentledger-backend/api/middleware"
	"github.com/rentledger/rentledger-backend/api/responses"
	"github.com/rentledger/rentledger-backend/api/validators"
	"github.com/rentledger/rentledger-backend/internal/payments"
	"github.com/rentledger/rentledger-backend/internal/reconcile"
	"github.com/rentledger/rentledger-backend/pkg/enums"
	pkgerrors "github.com/rentledger/rentledger-backend/pkg/errors"
	"github.com/rentledger/rentledger-backend/pkg/logger"
	"github.com/rentledger/rentledger-backend/pkg/money"
)

type recordPaymentRequest struct {
	TenantID    uuid.UUID  `json:"tenant_id" validate:"required"`
	AmountCents int64      `json:"amount_cents" validate:"required,gt=0"`
	Method      string     `json:"method" validate:"required"`
	LeaseID     *uuid.UUID `json:"lease_id,omitempty"`
	InvoiceID   *uuid.UUID `json:"invoice_id,omitempty"`
	Memo        *string    `json:"memo,omitempty"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
}

func (r recordPaymentRequest) toInput(actorID *uuid.UUID, now time.Time) (reconcile.ManualPaymentInput, error) {
	method, err := enums.ParsePaymentMethod(strings.TrimSpace(r.Method))
	if err != nil {
		return reconcile.ManualPaymentInput{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method")
	}

	receivedAt := now
	if r.ReceivedAt != nil {
		receivedAt = *r.ReceivedAt
	}

	return reconcile.ManualPaymentInput{
		TenantID:   r.TenantID,
		Amount:     money.Cents(r.AmountCents),
		Method:     method,
		LeaseID:    r.LeaseID,
		InvoiceID:  r.InvoiceID,
		Memo:       r.Memo,
		ReceivedAt: receivedAt,
		ActorID:    actorID,
	}, nil
}

// RecordPayment records an operator-entered payment and allocates it across
// the tenant's outstanding invoices.
func RecordPayment(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconcile service unavailable"))
			return
		}

		var body recordPaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := body.toInput(actorIDFromContext(r), time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RecordManualPayment(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// GetPayment returns a payment by id. Tenant-role callers can only read their
// own payments.
func GetPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.GetByID(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if tenantID := middleware.TenantIDFromContext(r.Context()); tenantID != "" && tenantID != payment.TenantID.String() {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found"))
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// GetPaymentByGatewayID resolves a payment from its gateway charge identifier
// when reconciling gateway reports against the ledger.
func GetPaymentByGatewayID(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		gatewayID := strings.TrimSpace(chi.URLParam(r, "gatewayPaymentId"))
		payment, err := svc.GetByGatewayID(r.Context(), gatewayID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// PaymentAuditTrail returns the append-only status history for a payment.
func PaymentAuditTrail(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.ListAuditTrail(r.Context(), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{"payment_id": paymentID, "entries": entries})
	}
}

type transitionPaymentRequest struct {
	To            string  `json:"to" validate:"required"`
	Reason        string  `json:"reason" validate:"required"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

// TransitionPayment drives the payment state machine directly.
func TransitionPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payments service unavailable"))
			return
		}

		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body transitionPaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		target, err := enums.ParsePaymentStatus(strings.TrimSpace(body.To))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status"))
			return
		}

		updated, err := svc.Transition(r.Context(), payments.TransitionInput{
			PaymentID:     paymentID,
			To:            target,
			Reason:        strings.TrimSpace(body.Reason),
			ActorID:       actorIDFromContext(r),
			FailureReason: body.FailureReason,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, updated)
	}
}

type processPaymentRequest struct {
	PaymentMethodToken string `json:"payment_method_token" validate:"required"`
}

// ProcessPayment runs a pending payment through the gateway.
func ProcessPayment(svc reconcile.Service, logg *logger.Logger) http.HandlerFunc {
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

		var body processPaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ProcessPayment(r.Context(), reconcile.ProcessInput{
			PaymentID:          paymentID,
			PaymentMethodToken: strings.TrimSpace(body.PaymentMethodToken),
			IdempotencyKey:     strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func paymentIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "paymentId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id")
	}
	return id, nil
}

func actorIDFromContext(r *http.Request) *uuid.UUID {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
