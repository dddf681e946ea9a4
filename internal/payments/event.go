package payments

import (
	"encoding/json"
	"fmt"

	"github.com/cimillas/orderhook/internal/domain"
	"github.com/stripe/stripe-go/v81"
)

// CheckoutSession decodes the event object as a checkout session. It fails
// for events whose object is something else.
func (e *VerifiedEvent) CheckoutSession() (*stripe.CheckoutSession, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(e.Object, &session); err != nil {
		return nil, fmt.Errorf("%w: decode checkout session: %v", domain.ErrValidationFailed, err)
	}
	if session.Object != "" && session.Object != "checkout.session" {
		return nil, fmt.Errorf("%w: event %s carries a %s, not a checkout session", domain.ErrValidationFailed, e.ID, session.Object)
	}
	if session.ID == "" {
		return nil, fmt.Errorf("%w: checkout session id missing", domain.ErrValidationFailed)
	}
	return &session, nil
}

// PayerID prefers the provider's customer id and falls back to the email
// entered at checkout.
func PayerID(s *stripe.CheckoutSession) string {
	if s.Customer != nil && s.Customer.ID != "" {
		return s.Customer.ID
	}
	if s.CustomerDetails != nil {
		return s.CustomerDetails.Email
	}
	return ""
}

// PaymentID is the payment intent behind the session, when there is one.
func PaymentID(s *stripe.CheckoutSession) string {
	if s.PaymentIntent != nil {
		return s.PaymentIntent.ID
	}
	return ""
}
