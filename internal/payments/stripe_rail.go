package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe rail operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeRailConfig configures the StripeRail.
type StripeRailConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Intents   stripePaymentIntentAPI
}

// StripeRail verifies direct card settlements against Stripe payment intents.
type StripeRail struct {
	intents stripePaymentIntentAPI
	account string
	logger  StripeLogger
}

// NewStripeRail constructs a Stripe-backed Rail using the given configuration.
func NewStripeRail(cfg StripeRailConfig) (*StripeRail, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeRail{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// LookupTransaction retrieves a payment intent and normalises it.
func (r *StripeRail) LookupTransaction(ctx context.Context, reference string) (Transaction, error) {
	if r == nil {
		return Transaction{}, errors.New("stripe: rail is nil")
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if r.account != "" {
		params.SetStripeAccount(r.account)
	}

	intent, err := r.intents.Get(reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, reference)
		}
		return Transaction{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}

	tx := stripeTransaction(intent)
	r.logger(ctx, "payments.stripe.intent.looked_up", map[string]any{
		"paymentIntent": tx.Reference,
		"status":        string(tx.Status),
	})
	return tx, nil
}

func stripeTransaction(intent *stripe.PaymentIntent) Transaction {
	if intent == nil {
		return Transaction{}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusConfirmed
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	var confirmedAt *time.Time
	recipient := ""
	if charge := intent.LatestCharge; charge != nil && (charge.Paid || charge.Captured) {
		t := time.Unix(charge.Created, 0).UTC()
		confirmedAt = &t
	}
	if intent.TransferData != nil && intent.TransferData.Destination != nil {
		recipient = intent.TransferData.Destination.ID
	}

	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}

	raw := map[string]any{}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	}

	return Transaction{
		Reference:   intent.ID,
		Status:      status,
		Amount:      intent.Amount,
		Currency:    currency,
		Recipient:   recipient,
		ConfirmedAt: confirmedAt,
		Raw:         raw,
	}
}
