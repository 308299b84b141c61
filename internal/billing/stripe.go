package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Verifier checks webhook signatures with the endpoint secret
type Verifier struct {
	secret    string
	tolerance time.Duration
}

// NewVerifier creates a verifier; tolerance bounds the accepted signature age
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}
}

// Verify authenticates payload against the signature header and decodes it
func (v *Verifier) Verify(payload []byte, signature string) (*Event, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}
	_, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return ParseEvent(payload)
}

// StripeProcessor calls the Stripe subscriptions API
type StripeProcessor struct {
	api *client.API
}

// NewStripeProcessor creates a processor client for the given secret key
func NewStripeProcessor(secretKey string) *StripeProcessor {
	return &StripeProcessor{api: client.New(secretKey, nil)}
}

// GetSubscription retrieves the processor's current view of a subscription
func (p *StripeProcessor) GetSubscription(ctx context.Context, id string) (*SubscriptionState, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve subscription %s: %w", id, err)
	}
	return stateFromStripe(sub), nil
}

// FindActiveSubscription returns the customer's active subscription id, or "" when there is none
func (p *StripeProcessor) FindActiveSubscription(ctx context.Context, customerID string) (string, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx
	params.Limit = stripe.Int64(1)

	iter := p.api.Subscriptions.List(params)
	if iter.Next() {
		return iter.Subscription().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("list subscriptions for %s: %w", customerID, err)
	}
	return "", nil
}

// CancelSubscription cancels a subscription immediately
func (p *StripeProcessor) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := p.api.Subscriptions.Cancel(id, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	return nil
}

// SetCancelAtPeriodEnd schedules or withdraws cancellation at the end of the current period
func (p *StripeProcessor) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*SubscriptionState, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
	params.Context = ctx
	sub, err := p.api.Subscriptions.Update(id, params)
	if err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", id, err)
	}
	return stateFromStripe(sub), nil
}

func stateFromStripe(sub *stripe.Subscription) *SubscriptionState {
	state := &SubscriptionState{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		PeriodStart:       time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		PeriodEnd:         time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
	if sub.Customer != nil {
		state.CustomerID = sub.Customer.ID
	}
	return state
}
