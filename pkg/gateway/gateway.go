package gateway

import (
	"context"

	"github.com/google/uuid"
)

// OutcomeStatus is the tri-state charge result consumed by the payment state
// machine. Gateway-specific fields never leak past this package.
type OutcomeStatus string

const (
	OutcomeSucceeded      OutcomeStatus = "succeeded"
	OutcomeRequiresAction OutcomeStatus = "requires_action"
	OutcomeFailed         OutcomeStatus = "failed"
)

// ChargeRequest describes one charge attempt.
type ChargeRequest struct {
	PaymentID          uuid.UUID
	AmountCents        int64
	Currency           string
	PaymentMethodToken string
	IdempotencyKey     string
	TenantID           uuid.UUID
}

// ChargeOutcome carries the tri-state result plus a bounded classification of
// any failure: Retryable for transient declines and connectivity problems,
// Critical for authentication failures that need operator attention.
type ChargeOutcome struct {
	Status          OutcomeStatus
	GatewayChargeID string
	DeclineCode     string
	FailureMessage  string
	Retryable       bool
	Critical        bool
}

// Gateway is the payment processor adapter surface.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeOutcome, error)
}
