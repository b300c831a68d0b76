package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeConfig configures the Stripe provider.
type StripeConfig struct {
	APIKey   string
	Backends *stripe.Backends

	// Intents overrides the API client in tests.
	Intents stripePaymentIntentAPI
}

// StripeProvider resolves payment statuses through the Stripe PaymentIntents API.
type StripeProvider struct {
	intents stripePaymentIntentAPI
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	intents := cfg.Intents
	if intents == nil {
		apiKey := strings.TrimSpace(cfg.APIKey)
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}
	return &StripeProvider{intents: intents}, nil
}

// LookupPayment fetches the payment intent and translates its state into the
// shared raw status vocabulary before normalising.
func (p *StripeProvider) LookupPayment(ctx context.Context, paymentID string) (Lookup, error) {
	if p == nil {
		return Lookup{}, errors.New("stripe: provider is nil")
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Lookup{}, errors.New("stripe: payment id is required")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	intent, err := p.intents.Get(paymentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return Lookup{}, ErrPaymentNotFound
		}
		return Lookup{}, err
	}

	raw := rawStripeStatus(intent.Status)
	return Lookup{
		PaymentID: paymentID,
		RawStatus: raw,
		Status:    Normalize(raw),
		Raw: map[string]any{
			"intentStatus": string(intent.Status),
			"amount":       intent.Amount,
			"currency":     string(intent.Currency),
		},
	}, nil
}

func rawStripeStatus(status stripe.PaymentIntentStatus) string {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return "approved"
	case stripe.PaymentIntentStatusCanceled:
		return "cancelled"
	default:
		return string(status)
	}
}
