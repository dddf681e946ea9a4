package payments

import (
	"encoding/json"
	"testing"

	"github.com/cimillas/orderhook/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
)

func TestVerifiedEvent_CheckoutSession(t *testing.T) {
	t.Run("rejects other objects", func(t *testing.T) {
		evt := &VerifiedEvent{ID: "evt_1", Object: json.RawMessage(`{"id":"pi_1","object":"payment_intent"}`)}
		_, err := evt.CheckoutSession()
		require.ErrorIs(t, err, domain.ErrValidationFailed)
	})

	t.Run("requires an id", func(t *testing.T) {
		evt := &VerifiedEvent{ID: "evt_1", Object: json.RawMessage(`{"object":"checkout.session"}`)}
		_, err := evt.CheckoutSession()
		require.ErrorIs(t, err, domain.ErrValidationFailed)
	})
}

func TestPayerAndPaymentID(t *testing.T) {
	s := &stripe.CheckoutSession{}
	assert.Empty(t, PayerID(s))
	assert.Empty(t, PaymentID(s))

	s.CustomerDetails = &stripe.CheckoutSessionCustomerDetails{Email: "buyer@shop.test"}
	assert.Equal(t, "buyer@shop.test", PayerID(s))

	s.Customer = &stripe.Customer{ID: "cus_1"}
	s.PaymentIntent = &stripe.PaymentIntent{ID: "pi_1"}
	assert.Equal(t, "cus_1", PayerID(s))
	assert.Equal(t, "pi_1", PaymentID(s))
}
