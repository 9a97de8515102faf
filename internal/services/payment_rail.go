// internal/services/payment_rail.go
package services

import (
	"fmt"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/refund"
)

// PaymentRail is the external processor moving actual money. Amounts are in
// the smallest currency unit.
type PaymentRail interface {
	Authorize(payerRef string, amountCents int64, currency string, metadata map[string]string) (string, error)
	Capture(railRef string) error
	Refund(railRef string, amountCents int64) error
	Cancel(railRef string) error
}

// StripeRail backs the escrow with Stripe manual-capture payment intents:
// an uncaptured intent is the hold, capture is the release, cancel is the
// reversal.
type StripeRail struct{}

func NewStripeRail(secretKey string) *StripeRail {
	stripe.Key = secretKey
	return &StripeRail{}
}

func (r *StripeRail) Authorize(payerRef string, amountCents int64, currency string, metadata map[string]string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(currency),
		Customer:      stripe.String(payerRef),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", railError("authorize", err)
	}

	return pi.ID, nil
}

func (r *StripeRail) Capture(railRef string) error {
	_, err := paymentintent.Capture(railRef, &stripe.PaymentIntentCaptureParams{})
	if err != nil {
		return railError("capture", err)
	}
	return nil
}

func (r *StripeRail) Refund(railRef string, amountCents int64) error {
	_, err := refund.New(&stripe.RefundParams{
		PaymentIntent: stripe.String(railRef),
		Amount:        stripe.Int64(amountCents),
	})
	if err != nil {
		return railError("refund", err)
	}
	return nil
}

func (r *StripeRail) Cancel(railRef string) error {
	_, err := paymentintent.Cancel(railRef, nil)
	if err != nil {
		return railError("cancel", err)
	}
	return nil
}

func railError(op string, err error) error {
	if stripeErr, ok := err.(*stripe.Error); ok {
		if stripeErr.Code == stripe.ErrorCodeCardDeclined {
			return fmt.Errorf("%w: %s: %s", ErrInsufficientFunds, op, stripeErr.Msg)
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrPaymentGateway, op, err)
}
