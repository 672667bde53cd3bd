package gateway

import (
	"context"
	stdErrors "errors"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"

	pkgstripe "github.com/rentledger/rentledger-backend/pkg/stripe"
)

// StripeGateway charges through Stripe payment intents and folds the result
// down to the tri-state outcome.
type StripeGateway struct {
	client *pkgstripe.Client
}

// NewStripeGateway wraps an initialized Stripe client.
func NewStripeGateway(client *pkgstripe.Client) (*StripeGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("stripe client required")
	}
	return &StripeGateway{client: client}, nil
}

func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeOutcome, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("charge amount must be positive")
	}
	currency := req.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(currency),
		PaymentMethod: stripe.String(req.PaymentMethodToken),
		Confirm:       stripe.Bool(true),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.AddMetadata("payment_id", req.PaymentID.String())
	params.AddMetadata("tenant_id", req.TenantID.String())

	intent, err := paymentintent.New(params)
	if err != nil {
		return classifyError(err), nil
	}

	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return &ChargeOutcome{Status: OutcomeSucceeded, GatewayChargeID: intent.ID}, nil
	case stripe.PaymentIntentStatusRequiresAction, stripe.PaymentIntentStatusRequiresConfirmation:
		return &ChargeOutcome{Status: OutcomeRequiresAction, GatewayChargeID: intent.ID}, nil
	default:
		return &ChargeOutcome{
			Status:          OutcomeFailed,
			GatewayChargeID: intent.ID,
			FailureMessage:  fmt.Sprintf("payment intent ended in status %s", intent.Status),
		}, nil
	}
}

// retryableCardCodes are the card declines worth re-presenting: mistyped
// verification data rather than a hard decline.
var retryableCardCodes = map[stripe.ErrorCode]bool{
	stripe.ErrorCodeIncorrectCVC:    true,
	stripe.ErrorCodeIncorrectNumber: true,
	stripe.ErrorCodeIncorrectZip:    true,
}

// classifyError maps Stripe failures onto the bounded retryability model:
// card errors are final except CVC/number/zip mismatches, rate limits and
// connectivity problems are retryable, authentication failures are critical.
func classifyError(err error) *ChargeOutcome {
	outcome := &ChargeOutcome{Status: OutcomeFailed, FailureMessage: err.Error()}

	var sErr *stripe.Error
	if !stdErrors.As(err, &sErr) {
		outcome.Retryable = true
		return outcome
	}

	outcome.DeclineCode = string(sErr.Code)
	if sErr.Msg != "" {
		outcome.FailureMessage = sErr.Msg
	}

	switch {
	case sErr.Type == stripe.ErrorTypeCard:
		outcome.Retryable = retryableCardCodes[sErr.Code]
	case sErr.HTTPStatusCode == 401:
		outcome.Critical = true
	case sErr.HTTPStatusCode == 429:
		outcome.Retryable = true
	default:
		outcome.Retryable = true
	}
	return outcome
}
